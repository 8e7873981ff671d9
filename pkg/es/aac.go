package es

import (
	"errors"
	"fmt"
)

// SampleRates maps the ADTS sampling frequency index to Hz. Zero marks
// reserved indices.
var SampleRates = [16]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

var (
	errNoSync     = errors.New("no ADTS sync word")
	errSampleRate = errors.New("reserved sample rate index")
)

// ADTS is a parsed ADTS header.
type ADTS struct {
	Profile         int // audio object type minus one
	SampleRateIndex int
	ChannelConfig   int
	FrameLength     int // header included
	HeaderLength    int // 7, or 9 with CRC
}

// SampleRate returns the sample rate in Hz.
func (h ADTS) SampleRate() int {
	return SampleRates[h.SampleRateIndex]
}

// ParseADTS parses the header at the start of b.
func ParseADTS(b []byte) (ADTS, error) {
	if len(b) < 7 {
		return ADTS{}, fmt.Errorf("ADTS header: %d bytes", len(b))
	}
	if b[0] != 0xFF || b[1]&0xF0 != 0xF0 {
		return ADTS{}, errNoSync
	}

	h := ADTS{
		Profile:         int(b[2]&0xC0) >> 6,
		SampleRateIndex: int(b[2]&0x3C) >> 2,
		ChannelConfig:   int(b[2]&0x01)<<2 | int(b[3]&0xC0)>>6,
		FrameLength:     int(b[3]&0x03)<<11 | int(b[4])<<3 | int(b[5]&0xE0)>>5,
		HeaderLength:    7,
	}
	if b[1]&0x01 == 0 {
		h.HeaderLength = 9
	}
	if h.SampleRate() == 0 {
		return ADTS{}, fmt.Errorf("%w: %d", errSampleRate, h.SampleRateIndex)
	}
	if h.FrameLength <= h.HeaderLength {
		return ADTS{}, fmt.Errorf("ADTS frame length %d", h.FrameLength)
	}
	return h, nil
}

// AACFrame is one raw AAC frame.
type AACFrame struct {
	ADTS
	Data  []byte // without the ADTS header, valid during the callback only
	PTSUs int64
}

// AACParser splits PES payloads into ADTS frames.
type AACParser struct {
	OnFrame func(AACFrame)
}

// Parse handles one PES payload. Bytes that do not start a valid header
// are skipped one at a time; a truncated last frame is dropped.
func (p *AACParser) Parse(data []byte, ptsUs int64) {
	for off := 0; off+7 <= len(data); {
		h, err := ParseADTS(data[off:])
		if err != nil {
			off++
			continue
		}
		if off+h.FrameLength > len(data) {
			return
		}
		if p.OnFrame != nil {
			p.OnFrame(AACFrame{
				ADTS:  h,
				Data:  data[off+h.HeaderLength : off+h.FrameLength],
				PTSUs: ptsUs,
			})
		}
		off += h.FrameLength
	}
}

// Header returns a 7-byte ADTS header (no CRC) for a frame with
// payloadLen bytes of raw data.
func (h ADTS) Header(payloadLen int) []byte {
	n := payloadLen + 7
	return []byte{
		0xFF,
		0xF1, // MPEG-4, layer 0, no CRC
		byte(h.Profile&0x03)<<6 | byte(h.SampleRateIndex&0x0F)<<2 | byte(h.ChannelConfig>>2)&0x01,
		byte(h.ChannelConfig&0x03)<<6 | byte(n>>11)&0x03,
		byte(n >> 3),
		byte(n&0x07)<<5 | 0x1F,
		0xFC,
	}
}
