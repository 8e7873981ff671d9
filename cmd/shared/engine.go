package shared

import (
	"context"
	"fmt"
	"net"

	"srtrecv/pkg/config"
	"srtrecv/pkg/engine"
	"srtrecv/pkg/engine/kcp"
	"srtrecv/pkg/engine/ws"
	"srtrecv/pkg/log"
)

// Dialer opens caller-side connections to a listener. Each Write sends one
// message.
type Dialer interface {
	Dial(ctx context.Context) (net.Conn, error)
}

// NewEngine returns the server-side engine for proto.
func NewEngine(proto config.Protocol, deps *config.Dependencies, logger *log.Logger) (engine.Engine, error) {
	switch proto {
	case config.ProtoUDP:
		return kcp.New(deps, logger), nil
	case config.ProtoWS:
		return ws.New(deps, logger), nil
	}
	return nil, fmt.Errorf("NewEngine(): unsupported transport %q", proto)
}

// NewDialer returns the caller side matching NewEngine(proto).
func NewDialer(proto config.Protocol, addr string, deps *config.Dependencies) (Dialer, error) {
	switch proto {
	case config.ProtoUDP:
		d, err := kcp.NewDialer(addr, deps)
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.ProtoWS:
		return ws.NewDialer(addr, deps), nil
	}
	return nil, fmt.Errorf("NewDialer(): unsupported transport %q", proto)
}
