package ts

import (
	"bytes"
	"errors"
	"testing"

	"srtrecv/pkg/ts/tstest"
)

func TestParsePacket(t *testing.T) {
	t.Parallel()

	full, _ := tstest.Packet(0x100, true, 7, bytes.Repeat([]byte{0xAB}, 200))
	short, _ := tstest.Packet(0x101, false, 3, []byte{1, 2, 3})

	adaptOnly := make([]byte, PacketSize)
	copy(adaptOnly, []byte{SyncByte, 0x01, 0x00, 0x20, 183})

	badSync := make([]byte, PacketSize)
	badSync[0] = 0x48

	tests := []struct {
		name        string
		in          []byte
		wantPID     uint16
		wantStart   bool
		wantCC      uint8
		wantPayload int
		wantErr     error
	}{
		{name: "payload only", in: full, wantPID: 0x100, wantStart: true, wantCC: 7, wantPayload: 184},
		{name: "adaptation and payload", in: short, wantPID: 0x101, wantCC: 3, wantPayload: 3},
		{name: "adaptation only", in: adaptOnly, wantPID: 0x100, wantErr: ErrNoPayload},
		{name: "sync", in: badSync, wantErr: ErrSync},
		{name: "short", in: full[:100], wantErr: ErrShortPacket},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, err := ParsePacket(tc.in)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("ParsePacket() error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePacket() error = %v", err)
			}
			if p.PID != tc.wantPID || p.PayloadStart != tc.wantStart || p.ContinuityCounter != tc.wantCC {
				t.Errorf("ParsePacket() = pid %#x start %v cc %d, want %#x %v %d",
					p.PID, p.PayloadStart, p.ContinuityCounter, tc.wantPID, tc.wantStart, tc.wantCC)
			}
			if len(p.Payload) != tc.wantPayload {
				t.Errorf("len(Payload) = %d, want %d", len(p.Payload), tc.wantPayload)
			}
		})
	}
}

func TestParseAdaptationFieldPastPacket(t *testing.T) {
	t.Parallel()

	b := make([]byte, PacketSize)
	copy(b, []byte{SyncByte, 0x01, 0x00, 0x30, 200})
	if _, err := ParsePacket(b); err == nil {
		t.Fatal("ParsePacket() accepted an adaptation field longer than the packet")
	}
}

func TestParsePAT(t *testing.T) {
	t.Parallel()

	pid, err := ParsePAT(tstest.PAT(1, 0x1000))
	if err != nil {
		t.Fatalf("ParsePAT() error = %v", err)
	}
	if pid != 0x1000 {
		t.Errorf("ParsePAT() = %#x, want 0x1000", pid)
	}

	// Program 0 is the NIT and must be skipped.
	if _, err := ParsePAT(tstest.PAT(0, 0x0010)); err == nil {
		t.Error("ParsePAT() returned a PID for program 0")
	}

	if _, err := ParsePAT(tstest.PMT(0x100, 0x101)); err == nil {
		t.Error("ParsePAT() accepted a PMT section")
	}
	if _, err := ParsePAT(nil); err == nil {
		t.Error("ParsePAT() accepted an empty payload")
	}
}

func TestParsePMT(t *testing.T) {
	t.Parallel()

	pmt, err := ParsePMT(tstest.PMT(0x100, 0x101))
	if err != nil {
		t.Fatalf("ParsePMT() error = %v", err)
	}
	if pmt.Video == nil || pmt.Video.PID != 0x100 || pmt.Video.Type != StreamTypeH264 {
		t.Errorf("Video = %+v, want H.264 on 0x100", pmt.Video)
	}
	if pmt.Audio == nil || pmt.Audio.PID != 0x101 || pmt.Audio.Type != StreamTypeAAC {
		t.Errorf("Audio = %+v, want AAC on 0x101", pmt.Audio)
	}
	if pmt.PCRPID != 0x100 {
		t.Errorf("PCRPID = %#x, want 0x100", pmt.PCRPID)
	}

	pmt, err = ParsePMT(tstest.PMT(0x200, 0))
	if err != nil {
		t.Fatalf("ParsePMT() error = %v", err)
	}
	if pmt.Audio != nil {
		t.Errorf("Audio = %+v, want none", pmt.Audio)
	}
}

func TestPTSMicros(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ticks int64
		want  int64
	}{
		{0, 0},
		{90_000, 1_000_000},
		{90, 1_000},
		{1 << 32, (1 << 32) * 1_000_000 / 90_000},
	}
	for _, tc := range tests {
		if got := PTSMicros(tstest.EncodePTS(tc.ticks)); got != tc.want {
			t.Errorf("PTSMicros(%d ticks) = %d, want %d", tc.ticks, got, tc.want)
		}
	}
}

func TestAssembler(t *testing.T) {
	t.Parallel()

	type pes struct {
		data string
		pts  int64
	}
	var got []pes
	a := NewAssembler(func(data []byte, pts int64) {
		got = append(got, pes{string(data), pts})
	})

	body := bytes.Repeat([]byte("x"), 300)
	var cc uint8
	stream := tstest.Packets(0x100, &cc, tstest.PES(0xE0, 90_000, body))
	stream = append(stream, tstest.Packets(0x100, &cc, tstest.PES(0xE0, 180_000, []byte("second")))...)

	for off := 0; off < len(stream); off += PacketSize {
		p, err := ParsePacket(stream[off:])
		if err != nil {
			t.Fatalf("ParsePacket() error = %v", err)
		}
		a.Add(p)
	}

	if len(got) != 1 {
		t.Fatalf("flushed %d PES before Flush, want 1", len(got))
	}
	if got[0].data != string(body) || got[0].pts != 1_000_000 {
		t.Errorf("first PES = %d bytes @ %d, want %d bytes @ 1000000", len(got[0].data), got[0].pts, len(body))
	}

	a.Flush()
	if len(got) != 2 || got[1].data != "second" || got[1].pts != 2_000_000 {
		t.Fatalf("after Flush got %+v", got)
	}

	a.Flush()
	if len(got) != 2 {
		t.Errorf("empty Flush emitted a PES")
	}
}

func TestDemuxer(t *testing.T) {
	t.Parallel()

	s := tstest.NewStream()
	var in []byte
	in = append(in, s.Tables()...)
	in = append(in, s.Video(90_000, []byte("frame-1"))...)
	in = append(in, s.Audio(90_000, []byte("audio-1"))...)
	in = append(in, s.Video(93_000, []byte("frame-2"))...)
	in = append(in, 0x47, 0x00) // trailing garbage

	var video, audio []string
	var lastPTS int64
	d := NewDemuxer(nil)
	d.OnVideo = func(data []byte, pts int64) {
		video = append(video, string(data))
		lastPTS = pts
	}
	d.OnAudio = func(data []byte, _ int64) { audio = append(audio, string(data)) }

	d.Process(in)
	d.Flush()

	if pmt, v, a := d.PIDs(); pmt != tstest.PMTPID || v != tstest.VideoPID || a != tstest.AudioPID {
		t.Errorf("PIDs() = %d %d %d", pmt, v, a)
	}
	if len(video) != 2 || video[0] != "frame-1" || video[1] != "frame-2" {
		t.Errorf("video = %q", video)
	}
	if len(audio) != 1 || audio[0] != "audio-1" {
		t.Errorf("audio = %q", audio)
	}
	if lastPTS != 93_000*1_000_000/90_000 {
		t.Errorf("last video PTS = %d", lastPTS)
	}

	st := d.Stats()
	if st.Packets != 5 || st.VideoPES != 2 || st.AudioPES != 1 || st.Discarded != 2 || st.Invalid != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestDemuxerIgnoresStreamsBeforeTables(t *testing.T) {
	t.Parallel()

	s := tstest.NewStream()
	var in []byte
	in = append(in, s.Video(0, []byte("orphan"))...)
	in = append(in, s.Tables()...)
	in = append(in, s.Video(0, []byte("kept"))...)

	var video []string
	d := NewDemuxer(nil)
	d.OnVideo = func(data []byte, _ int64) { video = append(video, string(data)) }
	d.Process(in)
	d.Flush()

	if len(video) != 1 || video[0] != "kept" {
		t.Errorf("video = %q, want [kept]", video)
	}
}

func TestDemuxerReset(t *testing.T) {
	t.Parallel()

	s := tstest.NewStream()
	d := NewDemuxer(nil)
	var video int
	d.OnVideo = func([]byte, int64) { video++ }

	d.Process(s.Tables())
	d.Process(s.Video(0, []byte("partial")))
	d.Reset()
	d.Flush()

	if video != 0 {
		t.Errorf("Reset kept a partial PES")
	}
	if pmt, v, a := d.PIDs(); pmt != -1 || v != -1 || a != -1 {
		t.Errorf("PIDs() after Reset = %d %d %d", pmt, v, a)
	}
}

func TestDemuxerCountsInvalidPackets(t *testing.T) {
	t.Parallel()

	bad := make([]byte, PacketSize)
	d := NewDemuxer(nil)
	d.Process(bad)

	if st := d.Stats(); st.Invalid != 1 || st.Packets != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}
