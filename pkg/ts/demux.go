package ts

import (
	"errors"

	"srtrecv/pkg/log"
)

// Demuxer follows PAT and PMT to find one video and one audio PID and
// reassembles their PES packets. It is not safe for concurrent use.
type Demuxer struct {
	// OnVideo and OnAudio receive completed PES payloads. data is only
	// valid during the call.
	OnVideo func(data []byte, ptsUs int64)
	OnAudio func(data []byte, ptsUs int64)

	logger *log.Logger

	pmtPID   int
	videoPID int
	audioPID int

	video *Assembler
	audio *Assembler

	stats Stats
}

// Stats counts what the demuxer has seen since it was created.
type Stats struct {
	Packets   int
	Invalid   int
	VideoPES  int
	AudioPES  int
	Discarded int // bytes after the last whole packet of an input chunk
}

// NewDemuxer creates a demuxer. logger may be nil.
func NewDemuxer(logger *log.Logger) *Demuxer {
	d := &Demuxer{
		logger:   logger,
		pmtPID:   -1,
		videoPID: -1,
		audioPID: -1,
	}
	d.video = NewAssembler(func(data []byte, pts int64) {
		d.stats.VideoPES++
		if d.OnVideo != nil {
			d.OnVideo(data, pts)
		}
	})
	d.audio = NewAssembler(func(data []byte, pts int64) {
		d.stats.AudioPES++
		if d.OnAudio != nil {
			d.OnAudio(data, pts)
		}
	})
	return d
}

// Process demultiplexes every whole packet in data. A trailing partial
// packet is discarded.
func (d *Demuxer) Process(data []byte) {
	off := 0
	for ; off+PacketSize <= len(data); off += PacketSize {
		d.stats.Packets++

		p, err := ParsePacket(data[off : off+PacketSize])
		if err != nil {
			if !errors.Is(err, ErrNoPayload) {
				d.stats.Invalid++
				d.logger.VerboseMsg("ts: %s", err)
			}
			continue
		}
		d.handle(p)
	}
	d.stats.Discarded += len(data) - off
}

func (d *Demuxer) handle(p Packet) {
	pid := int(p.PID)
	switch {
	case pid == PIDPAT:
		if !p.PayloadStart {
			return
		}
		pmt, err := ParsePAT(p.Payload)
		if err != nil {
			d.logger.VerboseMsg("ts: %s", err)
			return
		}
		if int(pmt) != d.pmtPID {
			d.pmtPID = int(pmt)
			d.logger.InfoMsg("PMT PID: %d", pmt)
		}

	case pid == d.pmtPID:
		if !p.PayloadStart {
			return
		}
		pmt, err := ParsePMT(p.Payload)
		if err != nil {
			d.logger.VerboseMsg("ts: %s", err)
			return
		}
		if pmt.Video != nil && int(pmt.Video.PID) != d.videoPID {
			d.videoPID = int(pmt.Video.PID)
			d.video.Reset()
			d.logger.InfoMsg("Video PID: %d (stream type 0x%02x)", pmt.Video.PID, pmt.Video.Type)
		}
		if pmt.Audio != nil && int(pmt.Audio.PID) != d.audioPID {
			d.audioPID = int(pmt.Audio.PID)
			d.audio.Reset()
			d.logger.InfoMsg("Audio PID: %d (stream type 0x%02x)", pmt.Audio.PID, pmt.Audio.Type)
		}

	case pid == d.videoPID:
		d.video.Add(p)

	case pid == d.audioPID:
		d.audio.Add(p)
	}
}

// Flush emits the PES packets still being assembled.
func (d *Demuxer) Flush() {
	d.video.Flush()
	d.audio.Flush()
}

// Reset forgets the program structure and any partial PES, for a new
// connection.
func (d *Demuxer) Reset() {
	d.pmtPID, d.videoPID, d.audioPID = -1, -1, -1
	d.video.Reset()
	d.audio.Reset()
}

// PIDs returns the PMT, video and audio PIDs found so far, -1 if unknown.
func (d *Demuxer) PIDs() (pmt, video, audio int) {
	return d.pmtPID, d.videoPID, d.audioPID
}

// Stats returns the counters.
func (d *Demuxer) Stats() Stats {
	return d.stats
}
