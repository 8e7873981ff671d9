package ts

import "bytes"

// Assembler collects the payloads of one PID into PES packets. A packet
// with the payload start flag completes the previous PES.
type Assembler struct {
	buf   bytes.Buffer
	pts   int64
	flush func(data []byte, ptsUs int64)
}

// NewAssembler calls flush with every completed PES payload (header
// stripped) and its PTS in microseconds. data is only valid during the call.
func NewAssembler(flush func(data []byte, ptsUs int64)) *Assembler {
	return &Assembler{flush: flush}
}

// Add appends p to the current PES.
func (a *Assembler) Add(p Packet) {
	if !p.PayloadStart {
		a.buf.Write(p.Payload)
		return
	}

	a.Flush()

	pl := p.Payload
	if len(pl) < 6 {
		return
	}
	if pl[0] != 0x00 || pl[1] != 0x00 || pl[2] != 0x01 {
		a.buf.Write(pl)
		return
	}

	// start code (3), stream id (1), packet length (2)
	off := 6
	if len(pl) <= off+2 {
		return
	}
	flags := pl[off+1]
	headerLen := int(pl[off+2])
	off += 3

	if flags&0xC0 >= 0x80 && len(pl) >= off+5 {
		a.pts = PTSMicros(pl[off : off+5])
	}

	off += headerLen
	if off < len(pl) {
		a.buf.Write(pl[off:])
	}
}

// Flush emits the buffered PES, if any.
func (a *Assembler) Flush() {
	if a.buf.Len() == 0 {
		return
	}
	if a.flush != nil {
		a.flush(a.buf.Bytes(), a.pts)
	}
	a.buf.Reset()
}

// Reset drops the buffered PES and the last PTS.
func (a *Assembler) Reset() {
	a.buf.Reset()
	a.pts = 0
}

// PTSMicros decodes a 5-byte PTS field and converts 90 kHz ticks to
// microseconds.
func PTSMicros(b []byte) int64 {
	ticks := int64(b[0]&0x0E)<<29 |
		int64(b[1])<<22 |
		int64(b[2]&0xFE)<<14 |
		int64(b[3])<<7 |
		int64(b[4]&0xFE)>>1
	return ticks * 1_000_000 / 90_000
}
