package modbus

// Codec for the simulator's fixed request shape:
//
//	MBAP(7) | function(1) | address(2) | value(2)
//
// All multi-byte fields are big-endian. Function-specific PDU layouts are
// deliberately not interpreted.

import (
	"encoding/binary"
	"fmt"
)

// PayloadSize is the size of function code + address + value.
const PayloadSize = 5

// FrameSize is the size of one encoded packet.
const FrameSize = MBAPHeaderSize + PayloadSize

// MaxPDUSize is the maximum Modbus PDU size (253 bytes).
const MaxPDUSize = 253

// DecodeErrorKind classifies a decode failure.
type DecodeErrorKind int

const (
	Truncated DecodeErrorKind = iota
	BadProtocol
	BadLength
)

// String returns a short label for the kind.
func (k DecodeErrorKind) String() string {
	switch k {
	case Truncated:
		return "truncated"
	case BadProtocol:
		return "bad_protocol"
	case BadLength:
		return "bad_length"
	default:
		return "unknown"
	}
}

// DecodeError reports a malformed or short frame.
type DecodeError struct {
	Kind DecodeErrorKind
	Got  int // bytes available, or offending field value
	Need int
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case Truncated:
		return fmt.Sprintf("modbus frame truncated: %d bytes (minimum %d)", e.Got, e.Need)
	case BadProtocol:
		return fmt.Sprintf("invalid Modbus protocol ID: 0x%04X", e.Got)
	default:
		return fmt.Sprintf("invalid MBAP length %d (want %d)", e.Got, e.Need)
	}
}

// errTooShort returns a standardised truncation error.
func errTooShort(got, need int) error {
	return &DecodeError{Kind: Truncated, Got: got, Need: need}
}

// Encode serialises p into a 12-byte frame. Transaction ID wraps naturally at
// 16 bits; address and value are masked to 16 bits.
func Encode(p Packet) []byte {
	buf := EncodeMBAPHeader(p.Header())
	buf = append(buf, byte(p.Function), 0, 0, 0, 0)
	binary.BigEndian.PutUint16(buf[8:10], uint16(p.Address&0xFFFF))
	binary.BigEndian.PutUint16(buf[10:12], uint16(p.Value&0xFFFF))
	return buf
}

// Decode parses one frame produced by Encode. Source, Tag and Timestamp are
// not carried on the wire and are left zero.
func Decode(data []byte) (Packet, error) {
	if len(data) < FrameSize {
		return Packet{}, errTooShort(len(data), FrameSize)
	}
	hdr, err := DecodeMBAPHeader(data)
	if err != nil {
		return Packet{}, err
	}
	if hdr.ProtocolID != 0x0000 {
		return Packet{}, &DecodeError{Kind: BadProtocol, Got: int(hdr.ProtocolID)}
	}
	if hdr.Length != PayloadSize+1 {
		return Packet{}, &DecodeError{Kind: BadLength, Got: int(hdr.Length), Need: PayloadSize + 1}
	}
	return Packet{
		TransactionID: hdr.TransactionID,
		ProtocolID:    hdr.ProtocolID,
		UnitID:        hdr.UnitID,
		Function:      FunctionCode(data[MBAPHeaderSize]),
		Address:       int(binary.BigEndian.Uint16(data[8:10])),
		Value:         int(binary.BigEndian.Uint16(data[10:12])),
	}, nil
}

// MaskToWire returns p with address and value reduced to their wire width.
func MaskToWire(p Packet) Packet {
	p.Address &= 0xFFFF
	p.Value &= 0xFFFF
	return p
}
