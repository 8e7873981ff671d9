package session

import (
	"fmt"

	"srtrecv/pkg/engine"
)

// Backlog is the listen backlog of every session. The receiver serves one
// streaming source at a time, so a single pending connection is enough.
const Backlog = 1

// DefaultLatencyMs is the latency budget applied by StartServer.
const DefaultLatencyMs = 120

// SocketOptions are the delivery options applied to a session descriptor
// between creation and bind. Accepted connections inherit them.
type SocketOptions struct {
	LatencyMs         int  `yaml:"latency_ms"`
	TimestampDelivery bool `yaml:"timestamp_delivery"`
	BlockingReceive   bool `yaml:"blocking_receive"`
}

// DefaultSocketOptions returns 120 ms latency with timestamp-based delivery
// and blocking receive enabled.
func DefaultSocketOptions() SocketOptions {
	return SocketOptions{
		LatencyMs:         DefaultLatencyMs,
		TimestampDelivery: true,
		BlockingReceive:   true,
	}
}

// Validate checks the options without touching an engine.
func (o SocketOptions) Validate() error {
	if o.LatencyMs < 0 {
		return fmt.Errorf("latency %d ms must not be negative", o.LatencyMs)
	}
	return nil
}

// apply sets the options on fd in the engine's documented order:
// receive mode first, then latency, then timestamp delivery.
func (o SocketOptions) apply(eng engine.Engine, fd engine.Socket) error {
	settings := []struct {
		opt   engine.Option
		value int
	}{
		{engine.OptReceiveSync, boolToInt(o.BlockingReceive)},
		{engine.OptLatency, o.LatencyMs},
		{engine.OptTimestampDelivery, boolToInt(o.TimestampDelivery)},
	}

	for _, s := range settings {
		if err := eng.SetOption(fd, s.opt, s.value); err != nil {
			return fmt.Errorf("setsockopt(%s=%d): %w", s.opt, s.value, err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
