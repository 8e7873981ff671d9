// Package ts demultiplexes MPEG transport streams into elementary stream
// PES payloads with their presentation timestamps.
package ts

import (
	"errors"
	"fmt"
)

// PacketSize is the size of one transport stream packet.
const PacketSize = 188

// SyncByte starts every packet.
const SyncByte = 0x47

// PIDPAT carries the program association table.
const PIDPAT = 0x0000

// Packet errors.
var (
	ErrShortPacket = errors.New("short packet")
	ErrSync        = errors.New("missing sync byte")
	ErrNoPayload   = errors.New("packet has no payload")
)

// Packet is a parsed transport stream packet. Payload aliases the input.
type Packet struct {
	PID               uint16
	PayloadStart      bool
	ContinuityCounter uint8
	AdaptationControl uint8
	Payload           []byte
}

// ParsePacket parses the packet at the start of b. Packets with an
// adaptation field but no payload return ErrNoPayload.
func ParsePacket(b []byte) (Packet, error) {
	if len(b) < PacketSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	if b[0] != SyncByte {
		return Packet{}, fmt.Errorf("%w: got 0x%02x", ErrSync, b[0])
	}

	p := Packet{
		PayloadStart:      b[1]&0x40 != 0,
		PID:               uint16(b[1]&0x1F)<<8 | uint16(b[2]),
		AdaptationControl: (b[3] & 0x30) >> 4,
		ContinuityCounter: b[3] & 0x0F,
	}

	off := 4
	if p.AdaptationControl == 2 || p.AdaptationControl == 3 {
		off += 1 + int(b[4])
		if off > PacketSize {
			return Packet{}, fmt.Errorf("adaptation field length %d exceeds packet", b[4])
		}
	}
	if p.AdaptationControl != 1 && p.AdaptationControl != 3 {
		return p, ErrNoPayload
	}
	if off >= PacketSize {
		return p, ErrNoPayload
	}

	p.Payload = b[off:PacketSize]
	return p, nil
}
