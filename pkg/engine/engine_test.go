package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestCodeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, CodeSuccess},
		{"plain error", errors.New("boom"), CodeUnknown},
		{"engine error", NewError("bind", CodeSockFail, nil), CodeSockFail},
		{"wrapped engine error", fmt.Errorf("outer: %w", NewError("recvmsg", CodeAsyncReceive, nil)), CodeAsyncReceive},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := CodeOf(tc.err); got != tc.want {
				t.Errorf("CodeOf(%v) = %d; want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsWouldBlock(t *testing.T) {
	t.Parallel()

	if !IsWouldBlock(NewError("recvmsg", CodeAsyncReceive, nil)) {
		t.Error("IsWouldBlock(CodeAsyncReceive) = false; want true")
	}
	if IsWouldBlock(NewError("recvmsg", CodeConnLost, nil)) {
		t.Error("IsWouldBlock(CodeConnLost) = true; want false")
	}
	if IsWouldBlock(nil) {
		t.Error("IsWouldBlock(nil) = true; want false")
	}
}

func TestError_Error(t *testing.T) {
	t.Parallel()

	err := Errorf("bind", CodeSockFail, "port %d in use", 9991)
	msg := err.Error()

	for _, want := range []string{"bind", "1003", "port 9991 in use", "unable to create/configure socket"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q; missing %q", msg, want)
		}
	}

	bare := NewError("close", CodeInvalidSocket, nil).Error()
	if !strings.Contains(bare, "Invalid socket ID") {
		t.Errorf("Error() = %q; want code text", bare)
	}
}

func TestCode_StringUnknown(t *testing.T) {
	t.Parallel()

	if got := Code(4242).String(); got != "Unknown error" {
		t.Errorf("Code(4242).String() = %q; want %q", got, "Unknown error")
	}
}

func TestSettings_Apply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opt     Option
		value   int
		wantErr bool
		check   func(Settings) bool
	}{
		{"latency", OptLatency, 200, false, func(s Settings) bool { return s.LatencyMs == 200 }},
		{"zero latency", OptLatency, 0, false, func(s Settings) bool { return s.LatencyMs == 0 }},
		{"negative latency", OptLatency, -1, true, nil},
		{"rcvsyn off", OptReceiveSync, 0, false, func(s Settings) bool { return !s.ReceiveSync }},
		{"rcvsyn bad value", OptReceiveSync, 2, true, nil},
		{"tsbpd off", OptTimestampDelivery, 0, false, func(s Settings) bool { return !s.TimestampDelivery }},
		{"peer idle", OptPeerIdleTimeout, 250, false, func(s Settings) bool { return s.PeerIdleTimeout() == 250*time.Millisecond }},
		{"peer idle off", OptPeerIdleTimeout, 0, false, func(s Settings) bool { return s.PeerIdleTimeout() == 0 }},
		{"negative peer idle", OptPeerIdleTimeout, -1, true, nil},
		{"unknown option", Option(99), 1, true, nil},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := DefaultSettings()
			err := s.Apply(tc.opt, tc.value)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Apply(%s, %d) error = %v, wantErr %v", tc.opt, tc.value, err, tc.wantErr)
			}
			if err != nil && CodeOf(err) != CodeInvalidParam {
				t.Errorf("Apply() code = %d; want %d", CodeOf(err), CodeInvalidParam)
			}
			if tc.check != nil && !tc.check(s) {
				t.Errorf("Apply(%s, %d) left settings %+v", tc.opt, tc.value, s)
			}
		})
	}
}

func TestDefaultSettings(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	if !s.ReceiveSync || !s.TimestampDelivery || s.LatencyMs != 120 || s.PeerIdleTimeoutMs != 5000 {
		t.Errorf("DefaultSettings() = %+v", s)
	}
}

func TestTable(t *testing.T) {
	t.Parallel()

	tbl := NewTable[string]()

	a := tbl.Add("a")
	b := tbl.Add("b")
	if a < 0 || b <= a {
		t.Fatalf("descriptors not increasing: %d, %d", a, b)
	}

	if v, ok := tbl.Get(a); !ok || v != "a" {
		t.Errorf("Get(%d) = %q, %v", a, v, ok)
	}

	if _, ok := tbl.Remove(a); !ok {
		t.Errorf("Remove(%d) = false", a)
	}
	if _, ok := tbl.Remove(a); ok {
		t.Errorf("second Remove(%d) = true", a)
	}

	c := tbl.Add("c")
	if c == a {
		t.Errorf("descriptor %d reused", a)
	}

	if got := len(tbl.Drain()); got != 2 {
		t.Errorf("Drain() returned %d items; want 2", got)
	}
	if tbl.Len() != 0 {
		t.Errorf("Len() after Drain = %d", tbl.Len())
	}
}
