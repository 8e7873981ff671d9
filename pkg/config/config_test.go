package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestProtocol_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		protocol Protocol
		want     string
	}{
		{"UDP", ProtoUDP, "udp"},
		{"WebSocket", ProtoWS, "ws"},
		{"Invalid", Protocol(999), ""},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.protocol.String(); got != tc.want {
				t.Errorf("Protocol.String() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseProtocol(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Protocol
		wantErr bool
	}{
		{"udp", ProtoUDP, false},
		{"UDP", ProtoUDP, false},
		{" ws ", ProtoWS, false},
		{"tcp", 0, true},
		{"", 0, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseProtocol(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseProtocol(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseProtocol(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestProtocol_YAML(t *testing.T) {
	t.Parallel()

	var v struct {
		P Protocol `yaml:"p"`
	}
	if err := yaml.Unmarshal([]byte("p: ws\n"), &v); err != nil {
		t.Fatalf("yaml.Unmarshal(): %s", err)
	}
	if v.P != ProtoWS {
		t.Errorf("P = %v, want ws", v.P)
	}

	out, err := yaml.Marshal(v)
	if err != nil {
		t.Fatalf("yaml.Marshal(): %s", err)
	}
	if string(out) != "p: ws\n" {
		t.Errorf("yaml.Marshal() = %q", out)
	}

	if err := yaml.Unmarshal([]byte("p: quic\n"), &v); err == nil {
		t.Error("yaml.Unmarshal() accepted unknown transport")
	}
}

func TestListen_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(c *Listen)
		wantErrs int
	}{
		{"defaults", func(c *Listen) {}, 0},
		{"ephemeral port", func(c *Listen) { c.Port = 0 }, 0},
		{"port 65535", func(c *Listen) { c.Port = 65535 }, 0},
		{"port too high", func(c *Listen) { c.Port = 65536 }, 1},
		{"negative port", func(c *Listen) { c.Port = -1 }, 1},
		{"negative latency", func(c *Listen) { c.LatencyMs = -5 }, 1},
		{"no transport", func(c *Listen) { c.Protocol = 0 }, 1},
		{"same outputs", func(c *Listen) { c.VideoOut, c.AudioOut = "out", "out" }, 1},
		{"everything wrong", func(c *Listen) {
			c.Protocol, c.Port, c.LatencyMs = 0, 70000, -1
		}, 3},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := DefaultListen()
			tc.mutate(c)
			if errs := c.Validate(); len(errs) != tc.wantErrs {
				t.Errorf("Validate() returned %v, want %d errors", errs, tc.wantErrs)
			}
		})
	}
}

func TestListen_LoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "srtrecv.yaml")
	data := strings.Join([]string{
		"transport: ws",
		"port: 5000",
		"latency_ms: 250",
		"video_out: video.h264",
	}, "\n")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	c := DefaultListen()
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("LoadFile(): %s", err)
	}

	if c.Protocol != ProtoWS || c.Port != 5000 || c.LatencyMs != 250 || c.VideoOut != "video.h264" {
		t.Errorf("LoadFile() = %+v", c)
	}
	if !c.TimestampDelivery || !c.BlockingReceive {
		t.Error("LoadFile() reset keys missing from the file")
	}
}

func TestListen_LoadFileErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("prot: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := DefaultListen().LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadFile(missing) succeeded")
	}
	if err := DefaultListen().LoadFile(unknown); err == nil {
		t.Error("LoadFile() accepted an unknown key")
	}
	c := DefaultListen()
	if err := c.LoadFile(empty); err != nil {
		t.Errorf("LoadFile(empty) = %s", err)
	}
	if c.Port != DefaultListenPort {
		t.Errorf("empty file changed port to %d", c.Port)
	}
}

func TestSend(t *testing.T) {
	t.Parallel()

	c := &Send{Protocol: ProtoUDP, Port: 9991}
	if errs := c.Validate(); len(errs) != 0 {
		t.Errorf("Validate() = %v", errs)
	}
	if got := c.Addr(); got != "localhost:9991" {
		t.Errorf("Addr() = %q", got)
	}

	c = &Send{Host: "::1", Port: 0}
	if errs := c.Validate(); len(errs) != 2 {
		t.Errorf("Validate() returned %d errors, want 2", len(errs))
	}
	c.Port = 1
	if got := c.Addr(); got != "[::1]:1" {
		t.Errorf("Addr() = %q", got)
	}
}
