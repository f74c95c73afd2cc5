package modbus

// SplitFrames cuts complete MBAP frames from a TCP byte stream. Frames are
// returned as copies; rest holds a trailing partial frame. A header whose
// length field cannot describe a Modbus PDU makes the stream unrecoverable
// and is reported as a *DecodeError with rest == nil.
func SplitFrames(buffer []byte) (frames [][]byte, rest []byte, err error) {
	offset := 0
	for len(buffer[offset:]) >= MBAPHeaderSize {
		hdr, _ := DecodeMBAPHeader(buffer[offset:])
		if hdr.ProtocolID != 0x0000 {
			return frames, nil, &DecodeError{Kind: BadProtocol, Got: int(hdr.ProtocolID)}
		}
		if hdr.Length < 2 || int(hdr.Length) > MaxPDUSize+1 {
			return frames, nil, &DecodeError{Kind: BadLength, Got: int(hdr.Length), Need: PayloadSize + 1}
		}
		total := MBAPHeaderSize + int(hdr.Length) - 1
		if len(buffer[offset:]) < total {
			break
		}
		frames = append(frames, cloneBytes(buffer[offset:offset+total]))
		offset += total
	}

	if offset == 0 {
		return frames, buffer, nil
	}
	return frames, cloneBytes(buffer[offset:]), nil
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
