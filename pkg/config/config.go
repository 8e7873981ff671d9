// Package config holds the settings of the srtrecv commands, their
// validation and loading from YAML files.
package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Protocol selects the Transport Engine backend.
type Protocol int

// Protocols.
const (
	ProtoUDP Protocol = iota + 1 // KCP over UDP
	ProtoWS                      // WebSocket binary messages over TCP
)

// String returns the protocol's name, or "" for an unknown value.
func (p Protocol) String() string {
	switch p {
	case ProtoUDP:
		return "udp"
	case ProtoWS:
		return "ws"
	default:
		return ""
	}
}

// ParseProtocol parses "udp" or "ws", case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "udp":
		return ProtoUDP, nil
	case "ws":
		return ProtoWS, nil
	default:
		return 0, fmt.Errorf("unknown transport %q: must be udp|ws", s)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Protocol) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	proto, err := ParseProtocol(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*p = proto
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (p Protocol) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}
