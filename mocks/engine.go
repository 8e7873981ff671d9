// Package mocks provides mock implementations for testing.
package mocks

import (
	"fmt"
	"net"
	"net/netip"
	"sync"

	"srtrecv/pkg/engine"
)

const firstEphemeralPort = 49152

// Engine is an in-memory Transport Engine. It enforces the same descriptor
// state rules as the real backends, counts every primitive call and lets
// tests inject failures per operation.
//
// Operation names used by Fail, Heal and Calls: startup, cleanup,
// create_socket, setsockopt, bind, listen, accept, recvmsg, close.
type Engine struct {
	mu       sync.Mutex
	started  bool
	calls    map[string]int
	faults   map[string]engine.Code
	ports    map[uint16]*mockSocket
	nextPort uint16
	nextPeer int

	sockets *engine.Table[*mockSocket]
}

type mockSocket struct {
	fd engine.Socket

	mu       sync.Mutex
	state    engine.State
	settings engine.Settings
	port     uint16
	remote   net.Addr

	pending chan *mockSocket
	inbox   chan []byte
	partial []byte

	peerGone  chan struct{}
	peerOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func newMockSocket() *mockSocket {
	return &mockSocket{
		state:    engine.StateInit,
		settings: engine.DefaultSettings(),
		inbox:    make(chan []byte, 64),
		peerGone: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *mockSocket) getState() engine.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *mockSocket) shut() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = engine.StateClosed
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *mockSocket) hangUp() {
	s.peerOnce.Do(func() { close(s.peerGone) })
}

// NewEngine creates a mock engine that has not been started.
func NewEngine() *Engine {
	return &Engine{
		calls:    make(map[string]int),
		faults:   make(map[string]engine.Code),
		ports:    make(map[uint16]*mockSocket),
		nextPort: firstEphemeralPort,
		sockets:  engine.NewTable[*mockSocket](),
	}
}

// Fail makes every later call to op fail with code until Heal(op).
func (e *Engine) Fail(op string, code engine.Code) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[op] = code
}

// Heal removes an injected failure.
func (e *Engine) Heal(op string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.faults, op)
}

// Calls returns how many times op was invoked.
func (e *Engine) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

// OpenSockets returns the number of descriptors not yet closed.
func (e *Engine) OpenSockets() int {
	return e.sockets.Len()
}

// Started reports whether Startup succeeded and Cleanup has not run since.
func (e *Engine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// enter records a call and returns the injected failure or the
// not-started error, if any.
func (e *Engine) enter(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls[op]++
	if code, ok := e.faults[op]; ok {
		return engine.Errorf(op, code, "injected failure")
	}
	if !e.started && op != "startup" && op != "cleanup" {
		return engine.Errorf(op, engine.CodeInvalidOp, "engine not started")
	}
	return nil
}

func (e *Engine) lookup(op string, fd engine.Socket) (*mockSocket, error) {
	s, ok := e.sockets.Get(fd)
	if !ok {
		return nil, engine.Errorf(op, engine.CodeInvalidSocket, "descriptor %d", fd)
	}
	return s, nil
}

// Startup implements engine.Engine.
func (e *Engine) Startup() error {
	if err := e.enter("startup"); err != nil {
		return err
	}
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	return nil
}

// Cleanup implements engine.Engine.
func (e *Engine) Cleanup() error {
	if err := e.enter("cleanup"); err != nil {
		return err
	}
	for _, s := range e.sockets.Drain() {
		e.release(s)
	}
	e.mu.Lock()
	e.started = false
	e.mu.Unlock()
	return nil
}

// CreateSocket implements engine.Engine.
func (e *Engine) CreateSocket() (engine.Socket, error) {
	if err := e.enter("create_socket"); err != nil {
		return engine.InvalidSocket, err
	}
	s := newMockSocket()
	s.fd = e.sockets.Add(s)
	return s.fd, nil
}

// SetOption implements engine.Engine.
func (e *Engine) SetOption(fd engine.Socket, opt engine.Option, value int) error {
	if err := e.enter("setsockopt"); err != nil {
		return err
	}
	s, err := e.lookup("setsockopt", fd)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != engine.StateInit {
		return engine.Errorf("setsockopt", engine.CodeBoundSocket, "%s on %s socket", opt, s.state)
	}
	return s.settings.Apply(opt, value)
}

// Bind implements engine.Engine. Port 0 picks the next free ephemeral port.
func (e *Engine) Bind(fd engine.Socket, addr netip.AddrPort) error {
	if err := e.enter("bind"); err != nil {
		return err
	}
	s, err := e.lookup("bind", fd)
	if err != nil {
		return err
	}
	if !addr.Addr().Is4() {
		return engine.Errorf("bind", engine.CodeInvalidParam, "%s is not IPv4", addr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != engine.StateInit {
		return engine.Errorf("bind", engine.CodeBoundSocket, "socket is %s", s.state)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	port := addr.Port()
	if port == 0 {
		for e.ports[e.nextPort] != nil {
			e.nextPort++
		}
		port = e.nextPort
		e.nextPort++
	}
	if _, inUse := e.ports[port]; inUse {
		return engine.Errorf("bind", engine.CodeSockFail, "port %d: address already in use", port)
	}
	e.ports[port] = s
	s.port = port
	s.state = engine.StateOpened
	return nil
}

// Listen implements engine.Engine.
func (e *Engine) Listen(fd engine.Socket, backlog int) error {
	if err := e.enter("listen"); err != nil {
		return err
	}
	s, err := e.lookup("listen", fd)
	if err != nil {
		return err
	}
	if backlog < 1 {
		return engine.Errorf("listen", engine.CodeInvalidParam, "backlog %d", backlog)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case engine.StateOpened:
	case engine.StateInit:
		return engine.Errorf("listen", engine.CodeUnboundSocket, "socket is not bound")
	default:
		return engine.Errorf("listen", engine.CodeInvalidOp, "socket is %s", s.state)
	}
	s.pending = make(chan *mockSocket, backlog)
	s.state = engine.StateListening
	return nil
}

// Accept implements engine.Engine.
func (e *Engine) Accept(fd engine.Socket) (engine.Socket, net.Addr, error) {
	if err := e.enter("accept"); err != nil {
		return engine.InvalidSocket, nil, err
	}
	s, err := e.lookup("accept", fd)
	if err != nil {
		return engine.InvalidSocket, nil, err
	}

	s.mu.Lock()
	state, blocking, pending := s.state, s.settings.ReceiveSync, s.pending
	s.mu.Unlock()
	if state != engine.StateListening {
		return engine.InvalidSocket, nil, engine.Errorf("accept", engine.CodeNoListen, "socket is %s", state)
	}

	var c *mockSocket
	if blocking {
		select {
		case c = <-pending:
		case <-s.done:
			return engine.InvalidSocket, nil, engine.Errorf("accept", engine.CodeInvalidSocket, "socket closed while accepting")
		}
	} else {
		select {
		case c = <-pending:
		default:
			return engine.InvalidSocket, nil, engine.NewError("accept", engine.CodeAsyncReceive, nil)
		}
	}

	c.fd = e.sockets.Add(c)
	return c.fd, c.remote, nil
}

// RecvMsg implements engine.Engine.
func (e *Engine) RecvMsg(fd engine.Socket, buf []byte) (int, error) {
	if err := e.enter("recvmsg"); err != nil {
		return 0, err
	}
	s, err := e.lookup("recvmsg", fd)
	if err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, engine.Errorf("recvmsg", engine.CodeInvalidParam, "empty buffer")
	}

	s.mu.Lock()
	if s.state != engine.StateConnected {
		state := s.state
		s.mu.Unlock()
		return 0, engine.Errorf("recvmsg", engine.CodeNoConn, "socket is %s", state)
	}
	if len(s.partial) > 0 {
		n := copy(buf, s.partial)
		s.partial = s.partial[n:]
		s.mu.Unlock()
		return n, nil
	}
	blocking := s.settings.ReceiveSync
	s.mu.Unlock()

	var msg []byte
	select {
	case msg = <-s.inbox:
	default:
		if !blocking {
			select {
			case <-s.peerGone:
				return 0, engine.Errorf("recvmsg", engine.CodeConnLost, "peer closed")
			default:
				return 0, engine.NewError("recvmsg", engine.CodeAsyncReceive, nil)
			}
		}
		select {
		case msg = <-s.inbox:
		case <-s.peerGone:
			select {
			case msg = <-s.inbox:
			default:
				return 0, engine.Errorf("recvmsg", engine.CodeConnLost, "peer closed")
			}
		case <-s.done:
			return 0, engine.Errorf("recvmsg", engine.CodeInvalidSocket, "socket closed while receiving")
		}
	}

	n := copy(buf, msg)
	if n < len(msg) {
		s.mu.Lock()
		s.partial = msg[n:]
		s.mu.Unlock()
	}
	return n, nil
}

// LocalAddr implements engine.Engine.
func (e *Engine) LocalAddr(fd engine.Socket) (net.Addr, error) {
	s, err := e.lookup("getsockname", fd)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == engine.StateInit {
		return nil, engine.Errorf("getsockname", engine.CodeUnboundSocket, "socket is not bound")
	}
	return &net.UDPAddr{IP: net.IPv4zero, Port: int(s.port)}, nil
}

// Close implements engine.Engine. An injected close failure is reported
// after the descriptor has been released.
func (e *Engine) Close(fd engine.Socket) error {
	fault := e.enter("close")
	s, ok := e.sockets.Remove(fd)
	if !ok {
		if fault != nil {
			return fault
		}
		return engine.Errorf("close", engine.CodeInvalidSocket, "descriptor %d", fd)
	}
	e.release(s)
	return fault
}

func (e *Engine) release(s *mockSocket) {
	s.mu.Lock()
	state, port, pending := s.state, s.port, s.pending
	s.mu.Unlock()

	if state == engine.StateOpened || state == engine.StateListening {
		e.mu.Lock()
		if e.ports[port] == s {
			delete(e.ports, port)
		}
		e.mu.Unlock()
	}
	if pending != nil {
	drain:
		for {
			select {
			case c := <-pending:
				c.shut()
			default:
				break drain
			}
		}
	}
	s.shut()
}

// Client is the caller side of a mock connection.
type Client struct {
	conn *mockSocket
}

// Dial connects to the listener bound on port. It fails with
// CodeNoServer if nothing listens there and CodeConnRejected if the
// listener's backlog is full.
func (e *Engine) Dial(port uint16) (*Client, error) {
	e.mu.Lock()
	l := e.ports[port]
	e.nextPeer++
	peer := e.nextPeer
	e.mu.Unlock()

	if l == nil || l.getState() != engine.StateListening {
		return nil, engine.Errorf("connect", engine.CodeNoServer, "nothing listening on port %d", port)
	}

	c := newMockSocket()
	l.mu.Lock()
	c.settings = l.settings
	c.port = l.port
	l.mu.Unlock()
	c.state = engine.StateConnected
	c.remote = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 30000 + peer}

	select {
	case l.pending <- c:
		return &Client{conn: c}, nil
	default:
		return nil, engine.Errorf("connect", engine.CodeConnRejected, "backlog of port %d is full", port)
	}
}

// Send delivers one message to the server side.
func (c *Client) Send(p []byte) error {
	msg := make([]byte, len(p))
	copy(msg, p)

	select {
	case <-c.conn.peerGone:
		return fmt.Errorf("send on closed client")
	default:
	}

	select {
	case c.conn.inbox <- msg:
		return nil
	case <-c.conn.done:
		return engine.Errorf("sendmsg", engine.CodeConnLost, "server closed the connection")
	}
}

// Close hangs up. The server side sees CodeConnLost once the inbox is drained.
func (c *Client) Close() {
	c.conn.hangUp()
}

// ServerClosed reports whether the server side of the connection was closed.
func (c *Client) ServerClosed() bool {
	select {
	case <-c.conn.done:
		return true
	default:
		return false
	}
}

var _ engine.Engine = (*Engine)(nil)
