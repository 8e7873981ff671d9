// Package ws implements engine.Engine with WebSocket binary messages over
// TCP. One WebSocket message carries one datagram. Delivery is reliable and
// ordered by TCP, so OptLatency and OptTimestampDelivery are accepted and
// validated but have no effect on this backend.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/coder/websocket"

	"srtrecv/pkg/config"
	"srtrecv/pkg/engine"
	"srtrecv/pkg/log"
	"srtrecv/pkg/semaphore"
)

// Subprotocol is negotiated by both sides.
const Subprotocol = "srtrecv.v1"

// maxMessage bounds a single datagram.
const maxMessage = 1 << 20

// inboxSize is the number of whole messages buffered per connection.
const inboxSize = 64

// Engine is the WebSocket Transport Engine.
type Engine struct {
	listenTCP config.TCPListenerFunc
	logger    *log.Logger

	mu      sync.Mutex
	started bool
	sockets *engine.Table[*socket]
}

// New creates an engine that opens its TCP listeners through deps, or with
// net.Listen if deps carries no TCPListener. logger may be nil.
func New(deps *config.Dependencies, logger *log.Logger) *Engine {
	return &Engine{
		listenTCP: config.GetTCPListenerFunc(deps),
		logger:    logger,
		sockets:   engine.NewTable[*socket](),
	}
}

type socket struct {
	mu       sync.Mutex
	state    engine.State
	settings engine.Settings

	// listener side
	ln      net.Listener
	srv     *http.Server
	slots   *semaphore.ConnSemaphore
	pending chan *peer

	// accepted side
	peer    *peer
	partial []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newSocket() *socket {
	return &socket{
		state:    engine.StateInit,
		settings: engine.DefaultSettings(),
		done:     make(chan struct{}),
	}
}

// peer is one upgraded WebSocket connection and its reader goroutine.
type peer struct {
	c      *websocket.Conn
	remote net.Addr
	inbox  chan []byte
	cancel context.CancelFunc

	errMu sync.Mutex
	err   error // set before gone is closed

	gone     chan struct{}
	goneOnce sync.Once
}

func newPeer(c *websocket.Conn, remote net.Addr) *peer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		c:      c,
		remote: remote,
		inbox:  make(chan []byte, inboxSize),
		cancel: cancel,
		gone:   make(chan struct{}),
	}
	go p.read(ctx)
	return p
}

// read runs for the life of the connection. A Read cancelled through ctx
// closes the connection, so ctx is only cancelled by close.
func (p *peer) read(ctx context.Context) {
	for {
		typ, data, err := p.c.Read(ctx)
		if err != nil {
			p.fail(err)
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		select {
		case p.inbox <- data:
		case <-ctx.Done():
			p.fail(ctx.Err())
			return
		}
	}
}

func (p *peer) fail(err error) {
	p.goneOnce.Do(func() {
		p.errMu.Lock()
		p.err = err
		p.errMu.Unlock()
		close(p.gone)
	})
}

func (p *peer) cause() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// dead reports a peer that left without leaving anything to read.
func (p *peer) dead() bool {
	select {
	case <-p.gone:
		return len(p.inbox) == 0
	default:
		return false
	}
}

// close runs the closing handshake, or just drops the TCP connection when
// the reader has already seen the peer go away.
func (p *peer) close() error {
	var err error
	select {
	case <-p.gone:
		_ = p.c.CloseNow()
	default:
		err = p.c.Close(websocket.StatusNormalClosure, "")
	}
	p.cancel()
	p.fail(net.ErrClosed)

	if err != nil && websocket.CloseStatus(err) == -1 && !isClosed(err) {
		return err
	}
	return nil
}

func (e *Engine) checkStarted(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return engine.Errorf(op, engine.CodeInvalidOp, "engine not started")
	}
	return nil
}

func (e *Engine) lookup(op string, fd engine.Socket) (*socket, error) {
	if err := e.checkStarted(op); err != nil {
		return nil, err
	}
	s, ok := e.sockets.Get(fd)
	if !ok {
		return nil, engine.Errorf(op, engine.CodeInvalidSocket, "descriptor %d", fd)
	}
	return s, nil
}

// Startup implements engine.Engine.
func (e *Engine) Startup() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = true
	return nil
}

// Cleanup implements engine.Engine.
func (e *Engine) Cleanup() error {
	var errs []error
	for _, s := range e.sockets.Drain() {
		if err := s.close(); err != nil {
			errs = append(errs, err)
		}
	}

	e.mu.Lock()
	e.started = false
	e.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		return engine.NewError("cleanup", engine.CodeResource, err)
	}
	return nil
}

// CreateSocket implements engine.Engine.
func (e *Engine) CreateSocket() (engine.Socket, error) {
	if err := e.checkStarted("create_socket"); err != nil {
		return engine.InvalidSocket, err
	}
	return e.sockets.Add(newSocket()), nil
}

// SetOption implements engine.Engine.
func (e *Engine) SetOption(fd engine.Socket, opt engine.Option, value int) error {
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

// Bind opens the TCP listener, so a port conflict is reported here rather
// than by Listen. Upgrades are only served after Listen.
func (e *Engine) Bind(fd engine.Socket, addr netip.AddrPort) error {
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

	ln, err := e.listenTCP("tcp4", addr.String())
	if err != nil {
		return engine.NewError("bind", engine.CodeSockFail, fmt.Errorf("listen(tcp4, %s): %w", addr, err))
	}
	s.ln = ln
	s.state = engine.StateOpened
	return nil
}

// Listen starts serving WebSocket upgrades. Upgrades beyond the backlog are
// refused with 503 Service Unavailable.
func (e *Engine) Listen(fd engine.Socket, backlog int) error {
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

	s.slots = semaphore.New(backlog)
	s.pending = make(chan *peer, backlog)
	s.srv = &http.Server{
		Handler:           e.upgradeHandler(s),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.state = engine.StateListening

	go func(srv *http.Server, ln net.Listener) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.VerboseMsg("ws: http.Server.Serve(): %s", err)
		}
	}(s.srv, s.ln)
	return nil
}

func (e *Engine) upgradeHandler(s *socket) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.slots.TryAcquire() {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{Subprotocol},
		})
		if err != nil {
			s.slots.Release()
			e.logger.ErrorMsg("websocket.Accept(): %s", err)
			return
		}
		c.SetReadLimit(maxMessage)

		p := newPeer(c, remoteAddr(r.RemoteAddr))
		select {
		case s.pending <- p:
		case <-s.done:
			s.slots.Release()
			_ = p.close()
			return
		}

		// The handler owns the hijacked connection until it is done.
		<-p.gone
	}
}

func remoteAddr(s string) net.Addr {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return &net.TCPAddr{}
	}
	return net.TCPAddrFromAddrPort(ap)
}

// Accept implements engine.Engine.
func (e *Engine) Accept(fd engine.Socket) (engine.Socket, net.Addr, error) {
	s, err := e.lookup("accept", fd)
	if err != nil {
		return engine.InvalidSocket, nil, err
	}

	s.mu.Lock()
	state, settings, pending := s.state, s.settings, s.pending
	s.mu.Unlock()
	if state != engine.StateListening {
		return engine.InvalidSocket, nil, engine.Errorf("accept", engine.CodeNoListen, "socket is %s", state)
	}

	for {
		var p *peer
		if settings.ReceiveSync {
			select {
			case p = <-pending:
			case <-s.done:
				return engine.InvalidSocket, nil, engine.Errorf("accept", engine.CodeInvalidSocket, "socket closed while accepting")
			}
		} else {
			select {
			case p = <-pending:
			default:
				return engine.InvalidSocket, nil, engine.NewError("accept", engine.CodeAsyncReceive, nil)
			}
		}
		s.slots.Release()

		if p.dead() {
			e.logger.VerboseMsg("ws: %s left before accept: %s", p.remote, p.cause())
			_ = p.close()
			continue
		}

		c := newSocket()
		c.settings = settings
		c.peer = p
		c.state = engine.StateConnected
		return e.sockets.Add(c), p.remote, nil
	}
}

// RecvMsg implements engine.Engine.
func (e *Engine) RecvMsg(fd engine.Socket, buf []byte) (int, error) {
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
	blocking, p := s.settings.ReceiveSync, s.peer
	s.mu.Unlock()

	var msg []byte
	select {
	case msg = <-p.inbox:
	default:
		if !blocking {
			select {
			case <-p.gone:
				return 0, s.lost(p)
			default:
				return 0, engine.NewError("recvmsg", engine.CodeAsyncReceive, nil)
			}
		}
		select {
		case msg = <-p.inbox:
		case <-p.gone:
			select {
			case msg = <-p.inbox:
			default:
				return 0, s.lost(p)
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

func (s *socket) lost(p *peer) error {
	select {
	case <-s.done:
		return engine.Errorf("recvmsg", engine.CodeInvalidSocket, "socket closed while receiving")
	default:
	}
	return engine.NewError("recvmsg", engine.CodeConnLost, p.cause())
}

// LocalAddr implements engine.Engine.
func (e *Engine) LocalAddr(fd engine.Socket) (net.Addr, error) {
	s, err := e.lookup("getsockname", fd)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil, engine.Errorf("getsockname", engine.CodeUnboundSocket, "socket is not bound")
	}
	return s.ln.Addr(), nil
}

// Close implements engine.Engine.
func (e *Engine) Close(fd engine.Socket) error {
	s, ok := e.sockets.Remove(fd)
	if !ok {
		return engine.Errorf("close", engine.CodeInvalidSocket, "descriptor %d", fd)
	}
	if err := s.close(); err != nil {
		return engine.NewError("close", engine.CodeResource, err)
	}
	return nil
}

func (s *socket) close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = engine.StateClosed
		ln, srv, p, pending := s.ln, s.srv, s.peer, s.pending
		s.mu.Unlock()

		close(s.done)

		var errs []error
		if p != nil {
			errs = append(errs, p.close())
		}
		if srv != nil {
			errs = append(errs, ignoreClosed(srv.Close()))
		}
		if ln != nil {
			errs = append(errs, ignoreClosed(ln.Close()))
		}
		if pending != nil {
		drain:
			for {
				select {
				case q := <-pending:
					_ = q.close()
				default:
					break drain
				}
			}
		}
		err = errors.Join(errs...)
	})
	return err
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}

func ignoreClosed(err error) error {
	if err == nil || isClosed(err) {
		return nil
	}
	return err
}

var _ engine.Engine = (*Engine)(nil)
