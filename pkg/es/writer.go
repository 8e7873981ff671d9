package es

import (
	"fmt"
	"io"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// H264Writer writes an Annex B stream. NAL units that arrive before the
// parameter sets are dropped, since nothing can decode them.
type H264Writer struct {
	w          io.Writer
	configured bool
	dropped    int
}

// NewH264Writer creates a writer on w.
func NewH264Writer(w io.Writer) *H264Writer {
	return &H264Writer{w: w}
}

// Configure writes the first SPS and PPS. Later calls are ignored and
// return false.
func (w *H264Writer) Configure(sps, pps [][]byte) (bool, error) {
	if w.configured {
		return false, nil
	}
	if len(sps) == 0 || len(pps) == 0 {
		return false, fmt.Errorf("Configure(): need SPS and PPS")
	}
	if err := w.write(sps[0]); err != nil {
		return false, err
	}
	if err := w.write(pps[0]); err != nil {
		return false, err
	}
	w.configured = true
	return true, nil
}

// WriteNAL writes one NAL unit with a start code.
func (w *H264Writer) WriteNAL(nal []byte) error {
	if !w.configured {
		w.dropped++
		return nil
	}
	return w.write(nal)
}

// Configured reports whether the parameter sets were written.
func (w *H264Writer) Configured() bool {
	return w.configured
}

// Dropped returns the number of NAL units dropped before configuration.
func (w *H264Writer) Dropped() int {
	return w.dropped
}

func (w *H264Writer) write(nal []byte) error {
	if _, err := w.w.Write(startCode); err != nil {
		return fmt.Errorf("Write(): %w", err)
	}
	if _, err := w.w.Write(nal); err != nil {
		return fmt.Errorf("Write(): %w", err)
	}
	return nil
}

// ADTSWriter writes raw AAC frames back out with ADTS headers. The stream
// parameters are fixed by the first frame; frames that disagree are
// dropped.
type ADTSWriter struct {
	w          io.Writer
	configured bool
	config     ADTS
	dropped    int
}

// NewADTSWriter creates a writer on w.
func NewADTSWriter(w io.Writer) *ADTSWriter {
	return &ADTSWriter{w: w}
}

// WriteFrame writes f. It reports true for the frame that configured the
// writer.
func (w *ADTSWriter) WriteFrame(f AACFrame) (bool, error) {
	first := false
	if !w.configured {
		w.config = f.ADTS
		w.configured = true
		first = true
	} else if !sameStream(w.config, f.ADTS) {
		w.dropped++
		return false, nil
	}

	if _, err := w.w.Write(f.Header(len(f.Data))); err != nil {
		return first, fmt.Errorf("Write(): %w", err)
	}
	if _, err := w.w.Write(f.Data); err != nil {
		return first, fmt.Errorf("Write(): %w", err)
	}
	return first, nil
}

// Config returns the parameters fixed by the first frame.
func (w *ADTSWriter) Config() (ADTS, bool) {
	return w.config, w.configured
}

// Dropped returns the number of frames dropped for a parameter change.
func (w *ADTSWriter) Dropped() int {
	return w.dropped
}

func sameStream(a, b ADTS) bool {
	return a.Profile == b.Profile &&
		a.SampleRateIndex == b.SampleRateIndex &&
		a.ChannelConfig == b.ChannelConfig
}
