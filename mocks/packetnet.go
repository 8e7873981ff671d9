package mocks

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// PacketNetwork simulates a loopback UDP network without real sockets.
// Endpoints are keyed by port only, so a packet sent to any host reaches
// the endpoint bound to the destination port. Its ListenPacket method
// matches config.PacketListenerFunc.
type PacketNetwork struct {
	mu       sync.Mutex
	conns    map[int]*packetConn
	nextPort int
	dropped  int
}

// NewPacketNetwork creates an empty network.
func NewPacketNetwork() *PacketNetwork {
	return &PacketNetwork{
		conns:    make(map[int]*packetConn),
		nextPort: firstEphemeralPort,
	}
}

// ListenPacket binds a packet endpoint. Port 0 picks a free ephemeral port.
func (n *PacketNetwork) ListenPacket(network, address string) (net.PacketConn, error) {
	switch network {
	case "udp", "udp4":
	default:
		return nil, fmt.Errorf("unsupported network type: %s", network)
	}

	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q", portStr)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if port == 0 {
		for n.conns[n.nextPort] != nil {
			n.nextPort++
		}
		port = n.nextPort
		n.nextPort++
	}
	if _, inUse := n.conns[port]; inUse {
		return nil, fmt.Errorf("listen %s %s: bind: address already in use", network, address)
	}

	c := &packetConn{
		addr:    &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		packets: make(chan packet, 256),
		closeCh: make(chan struct{}),
		network: n,
	}
	n.conns[port] = c
	return c, nil
}

// Bound reports whether an endpoint is bound to port.
func (n *PacketNetwork) Bound(port int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.conns[port]
	return ok
}

// Dropped returns how many packets found no endpoint or a full queue.
func (n *PacketNetwork) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

func (n *PacketNetwork) deliver(dst *net.UDPAddr, p packet) {
	n.mu.Lock()
	c := n.conns[dst.Port]
	n.mu.Unlock()

	if c != nil {
		select {
		case c.packets <- p:
			return
		case <-c.closeCh:
		case <-time.After(100 * time.Millisecond):
		}
	}

	n.mu.Lock()
	n.dropped++
	n.mu.Unlock()
}

type packet struct {
	data []byte
	from *net.UDPAddr
}

// packetConn is one bound endpoint of a PacketNetwork.
type packetConn struct {
	addr    *net.UDPAddr
	packets chan packet
	network *PacketNetwork

	mu       sync.Mutex
	closed   bool
	closeCh  chan struct{}
	deadline time.Time
}

func (c *packetConn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timeout = t.C
	}

	select {
	case pkt := <-c.packets:
		return copy(p, pkt.data), pkt.from, nil
	case <-c.closeCh:
		return 0, nil, net.ErrClosed
	case <-timeout:
		return 0, nil, fmt.Errorf("read %s: i/o timeout", c.addr)
	}
}

// WriteTo pretends success for unreachable destinations, like real UDP.
func (c *packetConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}

	dst, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, fmt.Errorf("address must be *net.UDPAddr, got %T", addr)
	}

	data := make([]byte, len(p))
	copy(data, p)
	c.network.deliver(dst, packet{data: data, from: c.addr})
	return len(p), nil
}

func (c *packetConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)

	c.network.mu.Lock()
	if c.network.conns[c.addr.Port] == c {
		delete(c.network.conns, c.addr.Port)
	}
	c.network.mu.Unlock()
	return nil
}

func (c *packetConn) LocalAddr() net.Addr {
	return c.addr
}

func (c *packetConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *packetConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

func (c *packetConn) SetWriteDeadline(time.Time) error {
	return nil
}

var _ net.PacketConn = (*packetConn)(nil)
