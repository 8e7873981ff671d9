// Package kcp implements engine.Engine with KCP over UDP.
//
// KCP provides the ARQ reliability the session manager expects from its
// Transport Engine. Sessions run in message mode, so every Write on the
// sender is returned by exactly one RecvMsg (or split across several when
// the receive buffer is too small). Option mapping:
//
//	OptReceiveSync        blocking Accept and RecvMsg, or would-block
//	OptTimestampDelivery  on: KCP nodelay profile with fast resend and
//	                      immediate ACKs; off: the conservative default profile
//	OptLatency            internal flush interval of latency/4, clamped to
//	                      [10, 100] ms
//	OptPeerIdleTimeout    a connection that hears nothing for this long,
//	                      keepalives included, is lost
//
// A connection exists once its first frame arrives. The Dialer sends one
// on Dial, keepalives while idle and a shutdown frame on Close, which the
// listener acknowledges once everything before it has been received.
package kcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"

	kcp "github.com/xtaci/kcp-go/v5"

	"srtrecv/pkg/config"
	"srtrecv/pkg/engine"
	"srtrecv/pkg/log"
	"srtrecv/pkg/semaphore"
)

// Window sizes in packets.
const (
	sendWindow = 1024
	recvWindow = 1024
)

// Engine is the KCP Transport Engine.
type Engine struct {
	listenPacket config.PacketListenerFunc
	logger       *log.Logger

	mu      sync.Mutex
	started bool
	sockets *engine.Table[*socket]
}

// New creates an engine that opens its UDP sockets through deps, or with
// net.ListenConfig if deps carries no PacketListener. logger may be nil.
func New(deps *config.Dependencies, logger *log.Logger) *Engine {
	listen := defaultListenPacket
	if deps != nil && deps.PacketListener != nil {
		listen = deps.PacketListener
	}
	return &Engine{
		listenPacket: listen,
		logger:       logger,
		sockets:      engine.NewTable[*socket](),
	}
}

type socket struct {
	mu       sync.Mutex
	state    engine.State
	settings engine.Settings

	// listener side
	pc      net.PacketConn
	ln      *kcp.Listener
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

// Bind opens the UDP socket, so a port conflict is reported here rather
// than by Listen.
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

	pc, err := e.listenPacket("udp4", addr.String())
	if err != nil {
		return engine.NewError("bind", engine.CodeSockFail, fmt.Errorf("listen(udp4, %s): %w", addr, err))
	}
	s.pc = pc
	s.state = engine.StateOpened
	return nil
}

// Listen implements engine.Engine.
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

	// ServeConn does not take ownership of pc; close() releases both.
	ln, err := kcp.ServeConn(nil, 0, 0, s.pc)
	if err != nil {
		return engine.NewError("listen", engine.CodeSockFail, fmt.Errorf("kcp.ServeConn(): %w", err))
	}

	s.ln = ln
	s.slots = semaphore.New(backlog)
	s.pending = make(chan *peer, backlog)
	s.state = engine.StateListening
	go e.pump(s, s.settings)
	return nil
}

// pump starts a peer for every new KCP session and admits it once its
// first frame arrives.
func (e *Engine) pump(s *socket, settings engine.Settings) {
	for {
		sess, err := s.ln.AcceptKCP()
		if err != nil {
			select {
			case <-s.done:
			default:
				e.logger.VerboseMsg("kcp: AcceptKCP(): %s", err)
			}
			return
		}

		configure(sess, settings)
		go e.admit(s, newPeer(sess, settings.PeerIdleTimeout()))
	}
}

// admit moves p into the backlog. Peers arriving while the backlog is full
// are closed, as are sessions that never send a frame: KCP recreates a
// session for stray packets of a connection that was already closed.
func (e *Engine) admit(s *socket, p *peer) {
	select {
	case <-p.ready:
	case <-p.gone:
		// A short connection may be over before it is admitted.
		if p.dead() {
			_ = p.close()
			return
		}
	case <-s.done:
		_ = p.close()
		return
	}

	if !s.slots.TryAcquire() {
		e.logger.WarnMsg("Rejecting %s: backlog full", p.sess.RemoteAddr())
		_ = p.close()
		return
	}

	select {
	case s.pending <- p:
	case <-s.done:
		s.slots.Release()
		_ = p.close()
	}
}

func configure(sess *kcp.UDPSession, settings engine.Settings) {
	sess.SetStreamMode(false)
	sess.SetWindowSize(sendWindow, recvWindow)
	if settings.TimestampDelivery {
		// SetNoDelay(nodelay, interval, resend, nc)
		sess.SetNoDelay(1, flushInterval(settings.LatencyMs), 2, 1)
		sess.SetACKNoDelay(true)
	} else {
		sess.SetNoDelay(0, 40, 0, 0)
		sess.SetACKNoDelay(false)
	}
}

func flushInterval(latencyMs int) int {
	iv := latencyMs / 4
	switch {
	case iv < 10:
		return 10
	case iv > 100:
		return 100
	}
	return iv
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
			e.logger.VerboseMsg("kcp: %s left before accept: %s", p.sess.RemoteAddr(), p.cause())
			_ = p.close()
			continue
		}

		c := newSocket()
		c.settings = settings
		c.peer = p
		c.state = engine.StateConnected
		return e.sockets.Add(c), p.sess.RemoteAddr(), nil
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

// lost reports why p went away: a shutdown, an idle timeout or a broken
// session are all CodeConnLost, unless s itself was closed.
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
	switch {
	case s.peer != nil:
		return s.peer.sess.LocalAddr(), nil
	case s.pc != nil:
		return s.pc.LocalAddr(), nil
	}
	return nil, engine.Errorf("getsockname", engine.CodeUnboundSocket, "socket is not bound")
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
		ln, pc, p, pending := s.ln, s.pc, s.peer, s.pending
		s.mu.Unlock()

		close(s.done)

		var errs []error
		if p != nil {
			errs = append(errs, p.close())
		}
		if ln != nil {
			errs = append(errs, ignoreClosed(ln.Close()))
		}
		if pc != nil {
			errs = append(errs, ignoreClosed(pc.Close()))
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
	return errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF)
}

func ignoreClosed(err error) error {
	if err == nil || isClosed(err) {
		return nil
	}
	return err
}

var _ engine.Engine = (*Engine)(nil)
