// Package frame implements the binary frame transport between the vision
// board (producer) and the controller (consumer).
//
// Every frame on the wire is a 12-byte header followed by the payload:
//
//	[0x55][0xAA][frame_id u16 BE][frame_size u32 BE][timestamp u32 BE][payload...]
//
// In request mode the consumer drives the exchange with single-byte opcodes:
// hello, size (answered with a 4-byte little-endian total length), data
// (answered with header and payload in fixed-size chunks) and ack.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/bft-labs/boardlink/internal/domain"
)

// Wire constants.
const (
	HeaderSize = 12
	Magic0     = 0x55
	Magic1     = 0xAA

	DefaultChunkSize    = 4096
	DefaultMaxFrameSize = 60000
	DefaultQueueSize    = 5

	// ProtocolVersion is returned in the hello reply.
	ProtocolVersion = 1
	helloReply      = 0xA5
)

// Opcodes sent by the consumer in request mode.
const (
	OpHello byte = 0x01
	OpSize  byte = 0x02
	OpData  byte = 0x03
	OpAck   byte = 0x04
)

// Header is the fixed frame header.
type Header struct {
	FrameID   uint16
	Size      uint32
	Timestamp uint32
}

// Encode writes h into b, which must hold at least HeaderSize bytes.
func (h Header) Encode(b []byte) {
	_ = b[HeaderSize-1]
	b[0] = Magic0
	b[1] = Magic1
	binary.BigEndian.PutUint16(b[2:4], h.FrameID)
	binary.BigEndian.PutUint32(b[4:8], h.Size)
	binary.BigEndian.PutUint32(b[8:12], h.Timestamp)
}

// MarshalBinary returns the 12-byte wire form of h.
func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	h.Encode(b)
	return b, nil
}

// DecodeHeader parses a wire header. It returns domain.ErrBadMagic when the
// first two bytes are not 0x55 0xAA.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, got %d", domain.ErrInvalidArgument, HeaderSize, len(b))
	}
	if b[0] != Magic0 || b[1] != Magic1 {
		return Header{}, fmt.Errorf("%w: 0x%02x 0x%02x", domain.ErrBadMagic, b[0], b[1])
	}
	return Header{
		FrameID:   binary.BigEndian.Uint16(b[2:4]),
		Size:      binary.BigEndian.Uint32(b[4:8]),
		Timestamp: binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// WireSize returns the number of bytes a payload of n bytes occupies on the wire.
func WireSize(n int) uint32 {
	return uint32(HeaderSize + n)
}
