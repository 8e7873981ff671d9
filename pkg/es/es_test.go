package es

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

var (
	sps   = []byte{0x67, 0x42, 0x00, 0x1F, 0xE9}
	pps   = []byte{0x68, 0xCE, 0x3C, 0x80}
	idr   = []byte{0x65, 0x88, 0x84, 0x00, 0x10}
	slice = []byte{0x41, 0x9A, 0x02}
)

func annexB(nals ...[]byte) []byte {
	var b []byte
	for i, n := range nals {
		if i%2 == 0 {
			b = append(b, 0x00, 0x00, 0x00, 0x01)
		} else {
			b = append(b, 0x00, 0x00, 0x01)
		}
		b = append(b, n...)
	}
	return b
}

func TestSplitNALUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want [][]byte
	}{
		{name: "mixed start codes", in: annexB(sps, pps, idr), want: [][]byte{sps, pps, idr}},
		{name: "leading garbage", in: append([]byte{0xAA, 0xBB}, annexB(slice)...), want: [][]byte{slice}},
		{name: "no start code", in: []byte{0x65, 0x01, 0x02}, want: nil},
		{name: "empty", in: nil, want: nil},
		{name: "start code only", in: []byte{0x00, 0x00, 0x01}, want: nil},
		{name: "back to back start codes", in: []byte{0, 0, 1, 0, 0, 1, 0x41, 0x01}, want: [][]byte{{0x41, 0x01}}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := SplitNALUnits(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("SplitNALUnits() = %x, want %x", got, tc.want)
			}
		})
	}
}

func TestH264Parser(t *testing.T) {
	t.Parallel()

	p := NewH264Parser(nil)
	configs := 0
	var gotSPS, gotPPS [][]byte
	p.OnConfig = func(s, q [][]byte) {
		configs++
		gotSPS, gotPPS = s, q
	}
	type nal struct {
		typ int
		pts int64
	}
	var nals []nal
	p.OnNAL = func(_ []byte, typ int, pts int64) { nals = append(nals, nal{typ, pts}) }

	p.Parse(annexB(sps), 0)
	if p.HasConfig() || configs != 0 {
		t.Fatal("config ready with SPS only")
	}

	p.Parse(annexB(pps, idr), 1000)
	if !p.HasConfig() || configs != 1 {
		t.Fatalf("HasConfig() = %v, configs = %d, want true, 1", p.HasConfig(), configs)
	}
	if !bytes.Equal(gotSPS[0], sps) || !bytes.Equal(gotPPS[0], pps) {
		t.Errorf("OnConfig got %x / %x", gotSPS, gotPPS)
	}

	// Repeated parameter sets are not new.
	p.Parse(annexB(sps, pps, slice), 2000)
	if configs != 1 {
		t.Errorf("configs = %d after repeated SPS/PPS, want 1", configs)
	}

	want := []nal{{NALIDR, 1000}, {NALSlice, 2000}}
	if !reflect.DeepEqual(nals, want) {
		t.Errorf("NAL units = %v, want %v", nals, want)
	}

	p.Reset()
	if p.HasConfig() {
		t.Error("HasConfig() after Reset")
	}
}

func TestH264ParserReplacesParameterSets(t *testing.T) {
	t.Parallel()

	var (
		// Same seq_parameter_set_id 0 as sps, different level.
		spsLevel = []byte{0x67, 0x42, 0x00, 0x28, 0xE9}
		// seq_parameter_set_id 1.
		spsOne = []byte{0x67, 0x42, 0x00, 0x1F, 0x5A}
		// pic_parameter_set_id 0, other contents.
		ppsNew = []byte{0x68, 0xCE, 0x38, 0x80}
	)

	p := NewH264Parser(nil)
	configs := 0
	var gotSPS, gotPPS [][]byte
	p.OnConfig = func(s, q [][]byte) {
		configs++
		gotSPS, gotPPS = s, q
	}

	// An encoder that changes its settings on every keyframe.
	for range 100 {
		p.Parse(annexB(sps, pps, idr), 0)
		p.Parse(annexB(spsLevel, ppsNew, idr), 0)
	}
	if len(gotSPS) != 1 || len(gotPPS) != 1 {
		t.Fatalf("kept %d SPS and %d PPS, want 1 each", len(gotSPS), len(gotPPS))
	}
	if !bytes.Equal(gotSPS[0], spsLevel) || !bytes.Equal(gotPPS[0], ppsNew) {
		t.Errorf("OnConfig got %x / %x, want the latest units", gotSPS, gotPPS)
	}
	if configs != 399 {
		t.Errorf("configs = %d, want one per change", configs)
	}

	p.Parse(annexB(spsOne), 0)
	if want := [][]byte{spsLevel, spsOne}; !reflect.DeepEqual(gotSPS, want) {
		t.Errorf("SPS = %x, want %x", gotSPS, want)
	}

	// Too short to carry an id.
	configs = 0
	p.Parse(annexB([]byte{0x67, 0x42}), 0)
	if configs != 0 || len(gotSPS) != 2 {
		t.Errorf("malformed SPS changed the config: configs = %d, SPS = %x", configs, gotSPS)
	}
}

func TestParameterSetIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		nal  []byte
		sps  bool
		id   int
		ok   bool
	}{
		{name: "sps 0", nal: sps, sps: true, id: 0, ok: true},
		{name: "sps 1", nal: []byte{0x67, 0x42, 0x00, 0x1F, 0x5A}, sps: true, id: 1, ok: true},
		{name: "sps escaped", nal: []byte{0x67, 0x00, 0x00, 0x03, 0x00, 0x5A}, sps: true, id: 1, ok: true},
		{name: "sps truncated", nal: []byte{0x67, 0x42, 0x00}, sps: true},
		{name: "sps id out of range", nal: []byte{0x67, 0x42, 0x00, 0x1F, 0x04, 0x20}, sps: true},
		{name: "pps 0", nal: pps, id: 0, ok: true},
		{name: "pps 2", nal: []byte{0x68, 0x6C}, id: 2, ok: true},
		{name: "pps empty", nal: []byte{0x68}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			read := ppsID
			if tc.sps {
				read = spsID
			}
			id, ok := read(tc.nal)
			if ok != tc.ok || (ok && id != tc.id) {
				t.Errorf("id = %d, %v, want %d, %v", id, ok, tc.id, tc.ok)
			}
		})
	}
}

func TestH264ParserKeepsCopies(t *testing.T) {
	t.Parallel()

	p := NewH264Parser(nil)
	var got [][]byte
	p.OnConfig = func(s, _ [][]byte) { got = s }

	buf := annexB(sps, pps)
	p.Parse(buf, 0)
	for i := range buf {
		buf[i] = 0
	}
	if !bytes.Equal(got[0], sps) {
		t.Errorf("SPS changed with the input buffer: %x", got[0])
	}
}

func adtsFrame(h ADTS, payload []byte) []byte {
	return append(h.Header(len(payload)), payload...)
}

var lc44100 = ADTS{Profile: 1, SampleRateIndex: 4, ChannelConfig: 2}

func TestParseADTS(t *testing.T) {
	t.Parallel()

	frame := adtsFrame(lc44100, make([]byte, 100))
	h, err := ParseADTS(frame)
	if err != nil {
		t.Fatalf("ParseADTS() error = %v", err)
	}
	want := ADTS{Profile: 1, SampleRateIndex: 4, ChannelConfig: 2, FrameLength: 107, HeaderLength: 7}
	if h != want {
		t.Errorf("ParseADTS() = %+v, want %+v", h, want)
	}
	if h.SampleRate() != 44100 {
		t.Errorf("SampleRate() = %d", h.SampleRate())
	}

	crc := bytes.Clone(frame)
	crc[1] &^= 0x01
	if h, _ := ParseADTS(crc); h.HeaderLength != 9 {
		t.Errorf("HeaderLength with CRC = %d, want 9", h.HeaderLength)
	}

	reserved := bytes.Clone(frame)
	reserved[2] = reserved[2]&^0x3C | 13<<2
	if _, err := ParseADTS(reserved); !errors.Is(err, errSampleRate) {
		t.Errorf("reserved index error = %v", err)
	}

	if _, err := ParseADTS([]byte{0x00, 0xF1, 0, 0, 0, 0, 0}); !errors.Is(err, errNoSync) {
		t.Errorf("no sync error = %v", err)
	}
	if _, err := ParseADTS(frame[:5]); err == nil {
		t.Error("ParseADTS() accepted a short header")
	}
}

func TestSampleRates(t *testing.T) {
	t.Parallel()

	for i, want := range map[int]int{0: 96000, 3: 48000, 4: 44100, 11: 8000, 12: 7350, 15: 0} {
		if SampleRates[i] != want {
			t.Errorf("SampleRates[%d] = %d, want %d", i, SampleRates[i], want)
		}
	}
}

func TestAACParser(t *testing.T) {
	t.Parallel()

	var pes []byte
	pes = append(pes, 0x00, 0x12) // junk before the first header
	pes = append(pes, adtsFrame(lc44100, []byte("first"))...)
	pes = append(pes, adtsFrame(lc44100, []byte("second"))...)
	pes = append(pes, adtsFrame(lc44100, []byte("truncated"))[:10]...)

	var got []string
	p := &AACParser{OnFrame: func(f AACFrame) {
		got = append(got, string(f.Data))
		if f.SampleRate() != 44100 || f.ChannelConfig != 2 || f.PTSUs != 42 {
			t.Errorf("frame = %+v", f)
		}
	}}
	p.Parse(pes, 42)

	if !reflect.DeepEqual(got, []string{"first", "second"}) {
		t.Errorf("frames = %q", got)
	}
}

func TestH264Writer(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	w := NewH264Writer(&out)

	if err := w.WriteNAL(slice); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 || w.Dropped() != 1 {
		t.Fatalf("NAL before config written: %d bytes, dropped %d", out.Len(), w.Dropped())
	}

	if _, err := w.Configure(nil, [][]byte{pps}); err == nil {
		t.Error("Configure() without SPS succeeded")
	}
	ok, err := w.Configure([][]byte{sps}, [][]byte{pps})
	if err != nil || !ok {
		t.Fatalf("Configure() = %v, %v", ok, err)
	}
	if ok, _ := w.Configure([][]byte{sps}, [][]byte{pps}); ok {
		t.Error("second Configure() reported true")
	}
	if err := w.WriteNAL(idr); err != nil {
		t.Fatal(err)
	}

	want := []byte{0, 0, 0, 1}
	want = append(want, sps...)
	want = append(want, 0, 0, 0, 1)
	want = append(want, pps...)
	want = append(want, 0, 0, 0, 1)
	want = append(want, idr...)
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("output = %x, want %x", out.Bytes(), want)
	}

	// What the writer produces parses back into the same units.
	if got := SplitNALUnits(out.Bytes()); !reflect.DeepEqual(got, [][]byte{sps, pps, idr}) {
		t.Errorf("SplitNALUnits(output) = %x", got)
	}
}

func TestADTSWriter(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	w := NewADTSWriter(&out)

	first, err := w.WriteFrame(AACFrame{ADTS: lc44100, Data: []byte("abc")})
	if err != nil || !first {
		t.Fatalf("WriteFrame() = %v, %v", first, err)
	}
	stereo48 := ADTS{Profile: 1, SampleRateIndex: 3, ChannelConfig: 2}
	if _, err := w.WriteFrame(AACFrame{ADTS: stereo48, Data: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	if first, _ := w.WriteFrame(AACFrame{ADTS: lc44100, Data: []byte("de")}); first {
		t.Error("second frame reported as first")
	}
	if w.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", w.Dropped())
	}
	if cfg, ok := w.Config(); !ok || cfg.SampleRateIndex != 4 {
		t.Errorf("Config() = %+v, %v", cfg, ok)
	}

	var got []string
	(&AACParser{OnFrame: func(f AACFrame) { got = append(got, string(f.Data)) }}).Parse(out.Bytes(), 0)
	if !reflect.DeepEqual(got, []string{"abc", "de"}) {
		t.Errorf("reparsed frames = %q", got)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriterErrors(t *testing.T) {
	t.Parallel()

	if _, err := NewH264Writer(failingWriter{}).Configure([][]byte{sps}, [][]byte{pps}); err == nil {
		t.Error("H264Writer.Configure() ignored a write error")
	}
	if _, err := NewADTSWriter(failingWriter{}).WriteFrame(AACFrame{ADTS: lc44100, Data: []byte{1}}); err == nil {
		t.Error("ADTSWriter.WriteFrame() ignored a write error")
	}
}
