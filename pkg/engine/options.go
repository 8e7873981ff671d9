package engine

import (
	"fmt"
	"time"
)

// Option identifies a socket option. Values match the SRTO_* constants.
type Option int

// Socket options.
const (
	// OptLatency is the delivery latency budget in milliseconds.
	OptLatency Option = 18
	// OptReceiveSync selects blocking (1) or would-block (0) receive and accept.
	OptReceiveSync Option = 28
	// OptTimestampDelivery enables (1) timestamp-based packet delivery.
	OptTimestampDelivery Option = 34
	// OptPeerIdleTimeout is how long a connection may go without hearing
	// from its peer before it is reported lost, in milliseconds. 0 disables.
	OptPeerIdleTimeout Option = 109
)

func (o Option) String() string {
	switch o {
	case OptLatency:
		return "SRTO_LATENCY"
	case OptReceiveSync:
		return "SRTO_RCVSYN"
	case OptTimestampDelivery:
		return "SRTO_TSBPDMODE"
	case OptPeerIdleTimeout:
		return "SRTO_PEERIDLETIMEO"
	default:
		return fmt.Sprintf("option(%d)", int(o))
	}
}

// Defaults for descriptors whose options are never set.
const (
	DefaultLatencyMs         = 120
	DefaultPeerIdleTimeoutMs = 5000
)

// Settings holds the option values of one descriptor. Accepted sockets
// inherit the listener's settings.
type Settings struct {
	ReceiveSync       bool
	LatencyMs         int
	TimestampDelivery bool
	PeerIdleTimeoutMs int
}

// DefaultSettings returns the values a fresh descriptor starts with.
func DefaultSettings() Settings {
	return Settings{
		ReceiveSync:       true,
		LatencyMs:         DefaultLatencyMs,
		TimestampDelivery: true,
		PeerIdleTimeoutMs: DefaultPeerIdleTimeoutMs,
	}
}

// PeerIdleTimeout returns PeerIdleTimeoutMs as a duration; 0 means never.
func (s Settings) PeerIdleTimeout() time.Duration {
	return time.Duration(s.PeerIdleTimeoutMs) * time.Millisecond
}

// Apply validates value for opt and stores it.
func (s *Settings) Apply(opt Option, value int) error {
	switch opt {
	case OptLatency:
		if value < 0 {
			return Errorf("setsockopt", CodeInvalidParam, "%s: negative latency %d", opt, value)
		}
		s.LatencyMs = value
	case OptReceiveSync:
		b, err := boolValue(opt, value)
		if err != nil {
			return err
		}
		s.ReceiveSync = b
	case OptTimestampDelivery:
		b, err := boolValue(opt, value)
		if err != nil {
			return err
		}
		s.TimestampDelivery = b
	case OptPeerIdleTimeout:
		if value < 0 {
			return Errorf("setsockopt", CodeInvalidParam, "%s: negative timeout %d", opt, value)
		}
		s.PeerIdleTimeoutMs = value
	default:
		return Errorf("setsockopt", CodeInvalidParam, "unsupported %s", opt)
	}
	return nil
}

func boolValue(opt Option, value int) (bool, error) {
	switch value {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, Errorf("setsockopt", CodeInvalidParam, "%s: want 0 or 1, got %d", opt, value)
	}
}

// State is the lifecycle state of a descriptor.
type State int

// Descriptor states, mirroring SRTS_*.
const (
	StateInit State = iota + 1
	StateOpened
	StateListening
	StateConnected
	StateBroken
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateOpened:
		return "OPENED"
	case StateListening:
		return "LISTENING"
	case StateConnected:
		return "CONNECTED"
	case StateBroken:
		return "BROKEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "NONEXIST"
	}
}
