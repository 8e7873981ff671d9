package ts

import (
	"errors"
	"fmt"
)

// Table IDs.
const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// Stream types recognized in a PMT.
const (
	StreamTypeMP3  = 0x03
	StreamTypeAAC  = 0x0F
	StreamTypeH264 = 0x1B
	StreamTypeH265 = 0x24
)

var errNotFound = errors.New("not found")

// section skips the pointer field, checks the table ID and the section
// syntax indicator, and returns the section starting at table_id together
// with its section_length.
func section(payload []byte, tableID byte) ([]byte, int, error) {
	if len(payload) == 0 {
		return nil, 0, fmt.Errorf("empty payload")
	}
	off := 1 + int(payload[0])
	if off+3 > len(payload) {
		return nil, 0, fmt.Errorf("pointer field %d beyond payload", payload[0])
	}

	s := payload[off:]
	if s[0] != tableID {
		return nil, 0, fmt.Errorf("table id 0x%02x, want 0x%02x", s[0], tableID)
	}
	if s[1]&0x80 == 0 {
		return nil, 0, fmt.Errorf("section syntax indicator not set")
	}
	return s, int(s[1]&0x0F)<<8 | int(s[2]), nil
}

// ParsePAT returns the PMT PID of the first program with a non-zero
// program number. Program 0 points at the network information table.
func ParsePAT(payload []byte) (uint16, error) {
	s, length, err := section(payload, tableIDPAT)
	if err != nil {
		return 0, fmt.Errorf("PAT: %w", err)
	}

	// 5 bytes of header after section_length, 4 bytes of CRC.
	n := (length - 9) / 4
	off := 8
	for i := 0; i < n && off+4 <= len(s); i++ {
		program := uint16(s[off])<<8 | uint16(s[off+1])
		pid := uint16(s[off+2]&0x1F)<<8 | uint16(s[off+3])
		off += 4
		if program != 0 {
			return pid, nil
		}
	}
	return 0, fmt.Errorf("PAT: program %w", errNotFound)
}

// Stream is an elementary stream announced by a PMT.
type Stream struct {
	Type byte
	PID  uint16
}

// PMT lists the audio and video streams of a program. A later stream of the
// same kind replaces an earlier one.
type PMT struct {
	PCRPID uint16
	Video  *Stream
	Audio  *Stream
}

// ParsePMT parses a program map table section.
func ParsePMT(payload []byte) (PMT, error) {
	s, length, err := section(payload, tableIDPMT)
	if err != nil {
		return PMT{}, fmt.Errorf("PMT: %w", err)
	}
	if len(s) < 12 {
		return PMT{}, fmt.Errorf("PMT: section too short")
	}

	var pmt PMT
	pmt.PCRPID = uint16(s[8]&0x1F)<<8 | uint16(s[9])
	infoLen := int(s[10]&0x0F)<<8 | int(s[11])

	off := 12 + infoLen
	end := 3 + length - 4
	for off+5 <= len(s) && off < end {
		st := &Stream{
			Type: s[off],
			PID:  uint16(s[off+1]&0x1F)<<8 | uint16(s[off+2]),
		}
		esInfoLen := int(s[off+3]&0x0F)<<8 | int(s[off+4])
		off += 5 + esInfoLen

		switch st.Type {
		case StreamTypeH264, StreamTypeH265:
			pmt.Video = st
		case StreamTypeAAC, StreamTypeMP3:
			pmt.Audio = st
		}
	}
	return pmt, nil
}
