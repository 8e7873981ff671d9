package shared

import (
	"strings"
	"testing"

	"srtrecv/pkg/config"
	"srtrecv/pkg/engine/kcp"
	"srtrecv/pkg/engine/ws"
)

func TestGetTransportDescription(t *testing.T) {
	t.Parallel()

	desc := GetTransportDescription()
	for _, want := range []string{"udp", "ws"} {
		if !strings.Contains(desc, want) {
			t.Errorf("description should mention %s", want)
		}
	}
}

func TestGetCommonFlags(t *testing.T) {
	t.Parallel()

	flagNames := make(map[string]bool)
	for _, flag := range GetCommonFlags() {
		for _, name := range flag.Names() {
			flagNames[name] = true
		}
	}

	for _, want := range []string{TransportFlag, "T", VerboseFlag, "v"} {
		if !flagNames[want] {
			t.Errorf("GetCommonFlags() missing flag %q", want)
		}
	}
}

func TestNewEngine(t *testing.T) {
	t.Parallel()

	e, err := NewEngine(config.ProtoUDP, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine(udp) error = %v", err)
	}
	if _, ok := e.(*kcp.Engine); !ok {
		t.Errorf("NewEngine(udp) = %T, want *kcp.Engine", e)
	}

	e, err = NewEngine(config.ProtoWS, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine(ws) error = %v", err)
	}
	if _, ok := e.(*ws.Engine); !ok {
		t.Errorf("NewEngine(ws) = %T, want *ws.Engine", e)
	}

	if _, err := NewEngine(0, nil, nil); err == nil {
		t.Error("NewEngine(0) should fail")
	}
}

func TestNewDialer(t *testing.T) {
	t.Parallel()

	if _, err := NewDialer(config.ProtoUDP, "127.0.0.1:9991", nil); err != nil {
		t.Errorf("NewDialer(udp) error = %v", err)
	}
	if _, err := NewDialer(config.ProtoWS, "127.0.0.1:9991", nil); err != nil {
		t.Errorf("NewDialer(ws) error = %v", err)
	}
	if _, err := NewDialer(config.ProtoUDP, "not an address", nil); err == nil {
		t.Error("NewDialer(udp) accepted a bad address")
	}
	if _, err := NewDialer(0, "127.0.0.1:9991", nil); err == nil {
		t.Error("NewDialer(0) should fail")
	}
}
