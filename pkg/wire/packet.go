// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package wire defines the on-the-wire packet format shared by the
// network simulator, the sender engine and the receiver engine.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxPayloadSize is the largest payload a single packet may carry.
const MaxPayloadSize = 1024

// UniversalHeaderSize is the size in bytes of the fixed prefix every
// packet carries, including the leading "size of this header" field.
const UniversalHeaderSize = 16

// TypeHeaderSize is the size in bytes of the per-type header that
// follows the universal header.
const TypeHeaderSize = 16

// MaxPacketSize is the largest a packet may be on the wire.
const MaxPacketSize = UniversalHeaderSize + TypeHeaderSize + MaxPayloadSize

// MaxTransmissionID is the exclusive upper bound on transmission IDs;
// the type bit occupies the top bit of the 32-bit ID field.
const MaxTransmissionID = 1 << 31

// Type discriminates the two packet variants carried by the protocol.
type Type uint8

const (
	// Data carries a chunk of a transmission's payload.
	Data Type = 0
	// Comm carries an acknowledgement bitmap for a transmission.
	Comm Type = 1
)

func (t Type) String() string {
	switch t {
	case Data:
		return "DATA"
	case Comm:
		return "COMM"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

var (
	// ErrTooShort is returned when a byte slice is too small to contain a
	// valid universal or per-type header.
	ErrTooShort = errors.New("wire: packet too short")
	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadSize,
	// and also when a payload is empty.
	ErrPayloadTooLarge = errors.New("wire: payload exceeds MaxPayloadSize")
	// ErrInvalidID is returned when a transmission ID does not fit in 31 bits.
	ErrInvalidID = errors.New("wire: transmission id out of range")
)

// Packet is the decoded, in-memory representation of a wire packet. The
// FieldA/FieldB names mirror the tagged-union layout from the wire
// format: for Data packets they hold (index, count); for Comm packets
// they hold (firstIndex, nBits).
type Packet struct {
	TransmissionID uint32
	PacketType     Type
	FieldA         uint32
	FieldB         uint32
	Payload        []byte
}

// NewDataPacket builds a DATA_PACKET for the given transmission/index.
func NewDataPacket(id uint32, index, count uint32, payload []byte) (*Packet, error) {
	if id >= MaxTransmissionID {
		return nil, ErrInvalidID
	}
	if len(payload) == 0 || len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	if index >= count {
		return nil, fmt.Errorf("wire: index %d out of range for count %d", index, count)
	}
	return &Packet{
		TransmissionID: id,
		PacketType:     Data,
		FieldA:         index,
		FieldB:         count,
		Payload:        payload,
	}, nil
}

// NewCommPacket builds a COMM_PACKET carrying an ACK bitmap window.
func NewCommPacket(id uint32, firstIndex, nBits uint32, bitmap []byte) (*Packet, error) {
	if id >= MaxTransmissionID {
		return nil, ErrInvalidID
	}
	if len(bitmap) == 0 || len(bitmap) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	return &Packet{
		TransmissionID: id,
		PacketType:     Comm,
		FieldA:         firstIndex,
		FieldB:         nBits,
		Payload:        bitmap,
	}, nil
}

// Index returns the data packet's index_in_transmission field.
func (p *Packet) Index() uint32 { return p.FieldA }

// Count returns the data packet's n_packets_in_transmission field.
func (p *Packet) Count() uint32 { return p.FieldB }

// FirstIndex returns the comm packet's first_packet_index field.
func (p *Packet) FirstIndex() uint32 { return p.FieldA }

// NBits returns the comm packet's n_bits_in_bitmap field.
func (p *Packet) NBits() uint32 { return p.FieldB }

// Size returns the number of bytes MarshalBinary would produce.
func (p *Packet) Size() int {
	return UniversalHeaderSize + TypeHeaderSize + len(p.Payload)
}

// MarshalBinary encodes the packet into the little-endian wire format:
//
//	offset  size  field
//	0       8     bytes_in_universal_header   (=16)
//	8       4     transmission_id (low 31 bits) | type (1 high bit)
//	12      4     bytes_in_payload
//	16      8     bytes_in_type_header        (=16)
//	24      4     type-specific field A
//	28      4     type-specific field B
//	32      N     payload
func (p *Packet) MarshalBinary() ([]byte, error) {
	if p.TransmissionID >= MaxTransmissionID {
		return nil, ErrInvalidID
	}
	if len(p.Payload) == 0 || len(p.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, p.Size())
	binary.LittleEndian.PutUint64(buf[0:8], UniversalHeaderSize)

	idAndType := p.TransmissionID & (MaxTransmissionID - 1)
	if p.PacketType == Comm {
		idAndType |= 1 << 31
	}
	binary.LittleEndian.PutUint32(buf[8:12], idAndType)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(p.Payload)))

	binary.LittleEndian.PutUint64(buf[16:24], TypeHeaderSize)
	binary.LittleEndian.PutUint32(buf[24:28], p.FieldA)
	binary.LittleEndian.PutUint32(buf[28:32], p.FieldB)

	copy(buf[32:], p.Payload)
	return buf, nil
}

// UnmarshalBinary decodes a wire-format packet. The returned Packet's
// Payload aliases the tail of data; callers that retain the buffer
// across a ring-buffer release must copy it first.
func UnmarshalBinary(data []byte) (*Packet, error) {
	if len(data) < UniversalHeaderSize+TypeHeaderSize {
		return nil, ErrTooShort
	}

	uHdrSize := binary.LittleEndian.Uint64(data[0:8])
	if uHdrSize != UniversalHeaderSize {
		return nil, fmt.Errorf("wire: unexpected universal header size %d", uHdrSize)
	}

	idAndType := binary.LittleEndian.Uint32(data[8:12])
	payloadLen := binary.LittleEndian.Uint32(data[12:16])

	tHdrSize := binary.LittleEndian.Uint64(data[16:24])
	if tHdrSize != TypeHeaderSize {
		return nil, fmt.Errorf("wire: unexpected type header size %d", tHdrSize)
	}

	fieldA := binary.LittleEndian.Uint32(data[24:28])
	fieldB := binary.LittleEndian.Uint32(data[28:32])

	end := UniversalHeaderSize + TypeHeaderSize + int(payloadLen)
	if end > len(data) {
		return nil, ErrTooShort
	}
	if payloadLen == 0 || payloadLen > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	pt := Data
	if idAndType&(1<<31) != 0 {
		pt = Comm
	}

	return &Packet{
		TransmissionID: idAndType &^ (1 << 31),
		PacketType:     pt,
		FieldA:         fieldA,
		FieldB:         fieldB,
		Payload:        data[UniversalHeaderSize+TypeHeaderSize : end],
	}, nil
}

// Clone returns a deep copy of the packet, safe to retain past the
// lifetime of the ring-buffer slot it was decoded from.
func (p *Packet) Clone() *Packet {
	payload := make([]byte, len(p.Payload))
	copy(payload, p.Payload)
	cp := *p
	cp.Payload = payload
	return &cp
}
