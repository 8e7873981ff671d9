// Package tstest builds transport stream packets for tests.
package tstest

// Default PIDs used by Stream.
const (
	PMTPID   = 0x1000
	VideoPID = 0x0100
	AudioPID = 0x0101
)

// Packet builds one 188-byte packet carrying as much of payload as fits,
// padding short payloads with an adaptation field. It returns the packet
// and the number of payload bytes used.
func Packet(pid uint16, start bool, cc uint8, payload []byte) ([]byte, int) {
	b := make([]byte, 188)
	b[0] = 0x47
	b[1] = byte(pid>>8) & 0x1F
	if start {
		b[1] |= 0x40
	}
	b[2] = byte(pid)

	space := 184
	if len(payload) >= space {
		b[3] = 0x10 | cc&0x0F
		copy(b[4:], payload[:space])
		return b, space
	}

	b[3] = 0x30 | cc&0x0F
	af := space - len(payload) - 1
	b[4] = byte(af)
	if af > 0 {
		b[5] = 0x00
		for i := 6; i < 5+af; i++ {
			b[i] = 0xFF
		}
	}
	copy(b[5+af:], payload)
	return b, len(payload)
}

// Packets splits payload over as many packets as needed. The first one
// carries the payload start flag.
func Packets(pid uint16, cc *uint8, payload []byte) []byte {
	var out []byte
	start := true
	for len(payload) > 0 || start {
		p, n := Packet(pid, start, *cc, payload)
		*cc = (*cc + 1) & 0x0F
		out = append(out, p...)
		payload = payload[n:]
		start = false
	}
	return out
}

// PAT returns a PAT section (with pointer field) announcing one program.
func PAT(program, pmtPID uint16) []byte {
	return []byte{
		0x00,       // pointer field
		0x00,       // table id
		0xB0, 0x0D, // syntax indicator, section length 13
		0x00, 0x01, // transport stream id
		0xC1, 0x00, 0x00,
		byte(program >> 8), byte(program),
		0xE0 | byte(pmtPID>>8)&0x1F, byte(pmtPID),
		0xDE, 0xAD, 0xBE, 0xEF, // CRC, not checked
	}
}

// PMT returns a PMT section (with pointer field) with one H.264 and one
// AAC stream. A zero PID leaves that stream out.
func PMT(videoPID, audioPID uint16) []byte {
	var streams []byte
	if videoPID != 0 {
		streams = append(streams, 0x1B, 0xE0|byte(videoPID>>8)&0x1F, byte(videoPID), 0xF0, 0x00)
	}
	if audioPID != 0 {
		streams = append(streams, 0x0F, 0xE0|byte(audioPID>>8)&0x1F, byte(audioPID), 0xF0, 0x00)
	}
	length := 9 + len(streams) + 4

	s := []byte{
		0x00, // pointer field
		0x02, // table id
		0xB0 | byte(length>>8)&0x0F, byte(length),
		0x00, 0x01, // program number
		0xC1, 0x00, 0x00,
		0xE0 | byte(videoPID>>8)&0x1F, byte(videoPID), // PCR PID
		0xF0, 0x00, // program info length
	}
	s = append(s, streams...)
	return append(s, 0xDE, 0xAD, 0xBE, 0xEF)
}

// PES wraps data in a PES packet with a PTS given in 90 kHz ticks.
func PES(streamID byte, pts int64, data []byte) []byte {
	b := []byte{
		0x00, 0x00, 0x01, streamID,
		0x00, 0x00, // unbounded length
		0x80, 0x80, 0x05,
	}
	b = append(b, EncodePTS(pts)...)
	return append(b, data...)
}

// EncodePTS encodes a 33-bit PTS with PTS-only marker bits.
func EncodePTS(pts int64) []byte {
	return []byte{
		0x21 | byte(pts>>29)&0x0E,
		byte(pts >> 22),
		0x01 | byte(pts>>14)&0xFE,
		byte(pts >> 7),
		0x01 | byte(pts<<1)&0xFE,
	}
}

// Stream is a minimal single-program transport stream writer.
type Stream struct {
	cc map[uint16]*uint8
}

// NewStream creates a stream writer.
func NewStream() *Stream {
	return &Stream{cc: make(map[uint16]*uint8)}
}

func (s *Stream) counter(pid uint16) *uint8 {
	c, ok := s.cc[pid]
	if !ok {
		c = new(uint8)
		s.cc[pid] = c
	}
	return c
}

// Tables returns PAT and PMT packets for the default PIDs.
func (s *Stream) Tables() []byte {
	out := Packets(0, s.counter(0), PAT(1, PMTPID))
	return append(out, Packets(PMTPID, s.counter(PMTPID), PMT(VideoPID, AudioPID))...)
}

// Video returns the packets of one video PES.
func (s *Stream) Video(pts int64, data []byte) []byte {
	return Packets(VideoPID, s.counter(VideoPID), PES(0xE0, pts, data))
}

// Audio returns the packets of one audio PES.
func (s *Stream) Audio(pts int64, data []byte) []byte {
	return Packets(AudioPID, s.counter(AudioPID), PES(0xC0, pts, data))
}
