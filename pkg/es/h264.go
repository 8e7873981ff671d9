// Package es parses H.264 and AAC elementary streams out of PES payloads
// and writes them back out as raw Annex B and ADTS files.
package es

import (
	"bytes"

	"srtrecv/pkg/log"
)

// H.264 NAL unit types.
const (
	NALSlice = 1
	NALIDR   = 5
	NALSPS   = 7
	NALPPS   = 8
)

// H264Parser splits access units into NAL units and collects parameter
// sets. It is not safe for concurrent use.
type H264Parser struct {
	// OnConfig fires whenever a new SPS or PPS arrives and at least one of
	// each is known. The slices are owned by the parser.
	OnConfig func(sps, pps [][]byte)

	// OnNAL receives every NAL unit other than SPS and PPS. nal is only
	// valid during the call.
	OnNAL func(nal []byte, typ int, ptsUs int64)

	logger *log.Logger
	sps    paramSets
	pps    paramSets
}

// Largest valid parameter set ids.
const (
	maxSPSID = 31
	maxPPSID = 255
)

// NewH264Parser creates a parser. logger may be nil.
func NewH264Parser(logger *log.Logger) *H264Parser {
	return &H264Parser{logger: logger}
}

// Parse handles one PES payload.
func (p *H264Parser) Parse(data []byte, ptsUs int64) {
	for _, nal := range SplitNALUnits(data) {
		typ := int(nal[0] & 0x1F)
		switch typ {
		case NALSPS:
			id, ok := spsID(nal)
			if !ok {
				p.logger.VerboseMsg("Dropping malformed SPS, size=%d", len(nal))
				continue
			}
			if p.sps.put(id, nal) {
				p.logger.VerboseMsg("SPS %d received, size=%d", id, len(nal))
				p.configReady()
			}
		case NALPPS:
			id, ok := ppsID(nal)
			if !ok {
				p.logger.VerboseMsg("Dropping malformed PPS, size=%d", len(nal))
				continue
			}
			if p.pps.put(id, nal) {
				p.logger.VerboseMsg("PPS %d received, size=%d", id, len(nal))
				p.configReady()
			}
		default:
			if p.OnNAL != nil {
				p.OnNAL(nal, typ, ptsUs)
			}
		}
	}
}

func (p *H264Parser) configReady() {
	if p.HasConfig() && p.OnConfig != nil {
		p.OnConfig(p.sps.units, p.pps.units)
	}
}

// HasConfig reports whether at least one SPS and one PPS were seen.
func (p *H264Parser) HasConfig() bool {
	return len(p.sps.units) > 0 && len(p.pps.units) > 0
}

// Reset forgets the parameter sets.
func (p *H264Parser) Reset() {
	p.sps, p.pps = paramSets{}, paramSets{}
}

// paramSets holds the latest unit per id, in order of first arrival. An
// encoder that changes a parameter set resends it under the same id, so
// the set never grows past the id range.
type paramSets struct {
	ids   []int
	units [][]byte
}

// put stores a copy of nal under id and reports whether anything changed.
func (s *paramSets) put(id int, nal []byte) bool {
	for i, have := range s.ids {
		if have != id {
			continue
		}
		if bytes.Equal(s.units[i], nal) {
			return false
		}
		s.units[i] = bytes.Clone(nal)
		return true
	}
	s.ids = append(s.ids, id)
	s.units = append(s.units, bytes.Clone(nal))
	return true
}

// spsID reads seq_parameter_set_id, which follows the NAL header,
// profile_idc, the constraint flags and level_idc.
func spsID(nal []byte) (int, bool) {
	r := bitReader{data: nal, pos: 4 * 8}
	id, ok := r.ue()
	return int(id), ok && id <= maxSPSID
}

// ppsID reads pic_parameter_set_id, the first field after the NAL header.
func ppsID(nal []byte) (int, bool) {
	r := bitReader{data: nal, pos: 8}
	id, ok := r.ue()
	return int(id), ok && id <= maxPPSID
}

// bitReader reads the start of a NAL unit, skipping emulation prevention
// bytes. The ids read here sit in the first few bytes.
type bitReader struct {
	data []byte
	pos  int // in bits
	rbsp []byte
}

func (r *bitReader) bit() (uint, bool) {
	if r.rbsp == nil {
		r.rbsp = unescape(r.data[:min(len(r.data), 32)])
	}
	if r.pos >= len(r.rbsp)*8 {
		return 0, false
	}
	b := uint(r.rbsp[r.pos/8]>>(7-r.pos%8)) & 1
	r.pos++
	return b, true
}

// ue reads an unsigned Exp-Golomb code.
func (r *bitReader) ue() (uint, bool) {
	zeros := 0
	for {
		b, ok := r.bit()
		if !ok {
			return 0, false
		}
		if b == 1 {
			break
		}
		if zeros++; zeros > 16 {
			return 0, false
		}
	}
	v := uint(1)
	for range zeros {
		b, ok := r.bit()
		if !ok {
			return 0, false
		}
		v = v<<1 | b
	}
	return v - 1, true
}

// unescape drops the 0x03 of every 0x000003 sequence.
func unescape(nal []byte) []byte {
	out := make([]byte, 0, len(nal))
	zeros := 0
	for _, b := range nal {
		if zeros >= 2 && b == 3 {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

// SplitNALUnits returns the NAL units of an Annex B byte stream, without
// start codes. Both 3 and 4 byte start codes are accepted. Bytes before the
// first start code are skipped. The returned slices alias data.
func SplitNALUnits(data []byte) [][]byte {
	var nals [][]byte
	start := -1

	emit := func(end int) {
		// Trailing zeros belong to the next start code.
		for end > start && data[end-1] == 0 {
			end--
		}
		if end > start {
			nals = append(nals, data[start:end])
		}
	}

	for i := 0; i+2 < len(data); {
		if data[i] != 0 || data[i+1] != 0 || data[i+2] != 1 {
			i++
			continue
		}
		if start >= 0 {
			emit(i)
		}
		i += 3
		start = i
	}
	if start >= 0 {
		emit(len(data))
	}
	return nals
}
