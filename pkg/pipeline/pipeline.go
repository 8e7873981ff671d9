// Package pipeline wires the transport stream demuxer to the elementary
// stream parsers and writers: TS chunks go in, Annex B H.264 and ADTS AAC
// come out.
package pipeline

import (
	"fmt"
	"io"
	"sync"

	"srtrecv/pkg/es"
	"srtrecv/pkg/log"
	"srtrecv/pkg/metrics"
	"srtrecv/pkg/ts"
)

// Pipeline is fed by one goroutine at a time. Stats may be called from
// any goroutine.
type Pipeline struct {
	logger  *log.Logger
	metrics *metrics.Metrics

	mu sync.Mutex // guards everything below

	demux *ts.Demuxer
	h264  *es.H264Parser
	aac   *es.AACParser
	video *es.H264Writer
	audio *es.ADTSWriter

	err   error
	stats Stats
}

// Stats counts the pipeline's output.
type Stats struct {
	TS          ts.Stats
	VideoNALs   int
	AudioFrames int
}

// New creates a pipeline. A nil video or audio writer discards that stream
// after parsing it. logger and m may be nil.
func New(video, audio io.Writer, logger *log.Logger, m *metrics.Metrics) *Pipeline {
	if m == nil {
		m = metrics.New(nil)
	}
	p := &Pipeline{
		logger:  logger,
		metrics: m,
		demux:   ts.NewDemuxer(logger),
		h264:    es.NewH264Parser(logger),
		aac:     &es.AACParser{},
	}
	if video != nil {
		p.video = es.NewH264Writer(video)
	}
	if audio != nil {
		p.audio = es.NewADTSWriter(audio)
	}

	p.demux.OnVideo = p.h264.Parse
	p.demux.OnAudio = p.aac.Parse
	p.h264.OnConfig = p.onConfig
	p.h264.OnNAL = p.onNAL
	p.aac.OnFrame = p.onFrame
	return p
}

func (p *Pipeline) onConfig(sps, pps [][]byte) {
	p.logger.InfoMsg("H.264 config ready (%d SPS, %d PPS)", len(sps), len(pps))
	if p.video == nil {
		return
	}
	if _, err := p.video.Configure(sps, pps); err != nil {
		p.fail("video", err)
	}
}

func (p *Pipeline) onNAL(nal []byte, typ int, _ int64) {
	if !p.h264.HasConfig() {
		return
	}
	p.stats.VideoNALs++
	p.metrics.ESUnits.WithLabelValues("video").Inc()
	if p.video == nil {
		return
	}
	if typ == es.NALIDR && p.logger.Verbose() {
		p.logger.VerboseMsg("IDR frame, size=%d", len(nal))
	}
	if err := p.video.WriteNAL(nal); err != nil {
		p.fail("video", err)
	}
}

func (p *Pipeline) onFrame(f es.AACFrame) {
	p.stats.AudioFrames++
	p.metrics.ESUnits.WithLabelValues("audio").Inc()
	if p.audio == nil {
		return
	}
	first, err := p.audio.WriteFrame(f)
	if err != nil {
		p.fail("audio", err)
		return
	}
	if first {
		p.logger.InfoMsg("AAC config: %d Hz, %d channels, profile %d", f.SampleRate(), f.ChannelConfig, f.Profile)
	}
}

// fail records the first sink error and stops writing that stream.
func (p *Pipeline) fail(stream string, err error) {
	p.logger.ErrorMsg("%s sink: %s", stream, err)
	switch stream {
	case "video":
		p.video = nil
	case "audio":
		p.audio = nil
	}
	if p.err == nil {
		p.err = fmt.Errorf("%s sink: %w", stream, err)
	}
}

// Process demultiplexes one chunk of whole TS packets. It returns the first
// sink error seen so far; the failed stream is no longer written but the
// other one continues.
func (p *Pipeline) Process(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.demux.Process(data)
	return p.err
}

// Flush emits the PES packets still buffered.
func (p *Pipeline) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.demux.Flush()
	return p.err
}

// Reset prepares for a new connection. The parameter sets and the audio
// configuration are kept, so one output file can span reconnects with the
// same encoder settings.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.demux.Reset()
}

// Stats returns the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.TS = p.demux.Stats()
	return s
}
