package mocks

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// StreamNetwork simulates a loopback TCP network over in-memory pipes.
// Like PacketNetwork, listeners are keyed by port only. Listen matches
// config.TCPListenerFunc and DialContext matches config.TCPDialerFunc.
type StreamNetwork struct {
	mu        sync.Mutex
	listeners map[int]*streamListener
	nextPort  int
}

// NewStreamNetwork creates an empty network.
func NewStreamNetwork() *StreamNetwork {
	return &StreamNetwork{
		listeners: make(map[int]*streamListener),
		nextPort:  firstEphemeralPort,
	}
}

func splitPort(address string) (int, error) {
	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", portStr)
	}
	return port, nil
}

func checkStreamNetwork(network string) error {
	switch network {
	case "tcp", "tcp4":
		return nil
	}
	return fmt.Errorf("unsupported network type: %s", network)
}

// Listen binds a listener. Port 0 picks a free ephemeral port.
func (n *StreamNetwork) Listen(network, address string) (net.Listener, error) {
	if err := checkStreamNetwork(network); err != nil {
		return nil, err
	}
	port, err := splitPort(address)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if port == 0 {
		for n.listeners[n.nextPort] != nil {
			n.nextPort++
		}
		port = n.nextPort
		n.nextPort++
	}
	if _, inUse := n.listeners[port]; inUse {
		return nil, fmt.Errorf("listen %s %s: bind: address already in use", network, address)
	}

	l := &streamListener{
		addr:    &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		connCh:  make(chan net.Conn),
		closeCh: make(chan struct{}),
		network: n,
	}
	n.listeners[port] = l
	return l, nil
}

// DialContext connects to the listener bound to the port of address.
func (n *StreamNetwork) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := checkStreamNetwork(network); err != nil {
		return nil, err
	}
	port, err := splitPort(address)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	l := n.listeners[port]
	local := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: n.nextPort}
	n.nextPort++
	n.mu.Unlock()

	if l == nil {
		return nil, fmt.Errorf("dial %s %s: connection refused", network, address)
	}

	client, server := net.Pipe()
	select {
	case l.connCh <- &streamConn{Conn: server, local: l.addr, remote: local}:
		return &streamConn{Conn: client, local: local, remote: l.addr}, nil
	case <-l.closeCh:
		err = fmt.Errorf("dial %s %s: connection refused", network, address)
	case <-ctx.Done():
		err = ctx.Err()
	}
	client.Close()
	server.Close()
	return nil, err
}

// Listening reports whether a listener is bound to port.
func (n *StreamNetwork) Listening(port int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.listeners[port]
	return ok
}

type streamListener struct {
	addr    *net.TCPAddr
	connCh  chan net.Conn
	network *StreamNetwork

	once    sync.Once
	closeCh chan struct{}
}

func (l *streamListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.connCh:
		return c, nil
	case <-l.closeCh:
		return nil, net.ErrClosed
	}
}

func (l *streamListener) Close() error {
	l.once.Do(func() {
		close(l.closeCh)

		l.network.mu.Lock()
		if l.network.listeners[l.addr.Port] == l {
			delete(l.network.listeners, l.addr.Port)
		}
		l.network.mu.Unlock()
	})
	return nil
}

func (l *streamListener) Addr() net.Addr {
	return l.addr
}

// streamConn reports TCP addresses instead of the pipe's.
type streamConn struct {
	net.Conn
	local, remote *net.TCPAddr
}

func (c *streamConn) LocalAddr() net.Addr  { return c.local }
func (c *streamConn) RemoteAddr() net.Addr { return c.remote }

var (
	_ net.Listener = (*streamListener)(nil)
	_ net.Conn     = (*streamConn)(nil)
)
