package ws

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/coder/websocket"

	"srtrecv/pkg/config"
)

// Dialer opens caller-side WebSocket connections.
type Dialer struct {
	url    string
	client *http.Client
}

// NewDialer creates a dialer for addr (host:port) that opens its TCP
// connections through deps, or with a net.Dialer if deps is nil.
func NewDialer(addr string, deps *config.Dependencies) *Dialer {
	return &Dialer{
		url: fmt.Sprintf("ws://%s/", addr),
		client: &http.Client{
			Transport: &http.Transport{DialContext: config.GetTCPDialerFunc(deps)},
		},
	}
}

// Dial upgrades a connection and wraps it so that each Write sends one
// binary message. The connection lives until Close or until ctx is done.
func (d *Dialer) Dial(ctx context.Context) (net.Conn, error) {
	c, _, err := websocket.Dial(ctx, d.url, &websocket.DialOptions{
		HTTPClient:   d.client,
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket.Dial(%s): %w", d.url, err)
	}
	return websocket.NetConn(ctx, c, websocket.MessageBinary), nil
}
