package modbus

// Modbus/TCP packet model used by the synthetic traffic pipeline.
//
// Only the fixed request shape the simulator emits is modelled:
// MBAP header followed by function code, address and value.

import (
	"encoding/binary"
	"time"
)

// FunctionCode represents a Modbus function code.
type FunctionCode uint8

// MBAPHeader is the Modbus Application Protocol header for TCP mode.
type MBAPHeader struct {
	TransactionID uint16 // Client-assigned ID for request/response correlation
	ProtocolID    uint16 // Always 0x0000 for Modbus
	Length        uint16 // Byte count of UnitID + PDU
	UnitID        uint8  // Slave/unit identifier
}

// MBAPHeaderSize is the fixed MBAP header size (7 bytes).
const MBAPHeaderSize = 7

// AttackTag records which attack, if any, produced or altered a packet.
type AttackTag uint8

const (
	TagNone AttackTag = iota
	TagMITMModify
	TagMITMReplay
	TagDOS
	TagReplay
)

// String returns the wire-independent label for the tag.
func (t AttackTag) String() string {
	switch t {
	case TagMITMModify:
		return "MITM_MODIFY"
	case TagMITMReplay:
		return "MITM_REPLAY"
	case TagDOS:
		return "DOS"
	case TagReplay:
		return "REPLAY"
	default:
		return "NONE"
	}
}

// Packet is one synthetic Modbus/TCP request. It is passed by value through
// the pipeline; a stage that alters it returns a new copy.
//
// Address and Value are kept as int so a mutation may push them outside the
// 16-bit range; they are masked only when encoded.
type Packet struct {
	TransactionID uint16
	ProtocolID    uint16
	UnitID        uint8
	Function      FunctionCode
	Address       int
	Value         int
	Source        string
	Tag           AttackTag
	Timestamp     time.Time
}

// Header returns the MBAP header that precedes the packet on the wire.
func (p Packet) Header() MBAPHeader {
	return MBAPHeader{
		TransactionID: p.TransactionID,
		ProtocolID:    p.ProtocolID,
		Length:        PayloadSize + 1,
		UnitID:        p.UnitID,
	}
}

// EncodeMBAPHeader encodes an MBAP header into 7 bytes.
func EncodeMBAPHeader(h MBAPHeader) []byte {
	buf := make([]byte, MBAPHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = h.UnitID
	return buf
}

// DecodeMBAPHeader decodes an MBAP header from bytes.
func DecodeMBAPHeader(data []byte) (MBAPHeader, error) {
	if len(data) < MBAPHeaderSize {
		return MBAPHeader{}, errTooShort(len(data), MBAPHeaderSize)
	}
	return MBAPHeader{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
	}, nil
}
