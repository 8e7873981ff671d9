// Package session implements the server session manager: the state machine
// and option policy for listening endpoints on top of an engine.Engine, and
// the translation of engine outcomes into typed errors.
//
// Lifecycle:
//
//	Manager:  uninitialized --Initialize--> ready --Shutdown--> shut down
//	Session:  Listening --Close--> Closed
//	Conn:     Accepted  --Close--> Closed
//
// Accept and Receive block the calling goroutine, potentially forever. Run
// them on a dedicated goroutine. The only way to unblock them is to Close the
// session or connection from another goroutine; that close may race with the
// engine call in flight, so the blocked call returns some error matching
// ErrInvalidHandle, ErrAccept or ErrReceive, never a success.
//
// Closing a session also closes every connection it accepted that is still
// open. Concurrent use of one Session or Conn from several goroutines is
// race-free but unordered; ordering is the caller's responsibility.
package session

import (
	"errors"
	"net"
	"net/netip"
	"sync"

	"srtrecv/pkg/engine"
	"srtrecv/pkg/log"
	"srtrecv/pkg/metrics"
)

type managerState int

const (
	stateUninitialized managerState = iota
	stateReady
	stateShutdown
)

// Manager owns the process-wide engine lifecycle and every session started
// through it.
type Manager struct {
	eng     engine.Engine
	logger  *log.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    managerState
	sessions map[engine.Socket]*Session
}

// New creates a manager for eng. logger and m may be nil.
func New(eng engine.Engine, logger *log.Logger, m *metrics.Metrics) *Manager {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Manager{
		eng:      eng,
		logger:   logger,
		metrics:  m,
		sessions: make(map[engine.Socket]*Session),
	}
}

// Metrics returns the counters the manager updates.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

// Initialize starts the engine. It must succeed once before StartServer.
// A second call returns ErrAlreadyInitialized and a call after Shutdown
// returns ErrShutdown, both without touching the engine. A failed startup
// leaves the manager uninitialized so the caller may try again.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateReady:
		return ErrAlreadyInitialized
	case stateShutdown:
		return ErrShutdown
	}

	if err := m.eng.Startup(); err != nil {
		m.logger.ErrorMsg("Transport startup failed: %s", err)
		return newError(ErrInitialization, "startup", engine.InvalidSocket, 0, err)
	}

	m.state = stateReady
	m.logger.VerboseMsg("Transport initialized")
	return nil
}

// Shutdown closes every open session (and through them every connection)
// and tears the engine down. Only the first call has an effect.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	prev := m.state
	m.state = stateShutdown
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[engine.Socket]*Session)
	m.mu.Unlock()

	if prev != stateReady {
		return
	}

	for _, s := range sessions {
		s.Close()
	}
	if err := m.eng.Cleanup(); err != nil {
		m.logger.ErrorMsg("Transport cleanup failed: %s", err)
		return
	}
	m.logger.VerboseMsg("Transport shut down")
}

func (m *Manager) checkReady() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateUninitialized:
		return ErrNotInitialized
	case stateShutdown:
		return ErrShutdown
	}
	return nil
}

// StartServer starts a session on port with DefaultSocketOptions.
func (m *Manager) StartServer(port uint16) (*Session, error) {
	return m.StartServerWithOptions(port, DefaultSocketOptions())
}

// StartServerWithOptions creates a descriptor, applies opts, binds it to
// 0.0.0.0:port and listens with backlog 1. If any step fails the
// descriptor is released before the error is returned; the error's kind
// names the step. Port 0 lets the engine pick a free port, reported by
// Session.Port.
func (m *Manager) StartServerWithOptions(port uint16, opts SocketOptions) (*Session, error) {
	if err := m.checkReady(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		m.metrics.StartErrors.WithLabelValues("option").Inc()
		return nil, newError(ErrOption, "setsockopt", engine.InvalidSocket, port, err)
	}

	fd, err := m.eng.CreateSocket()
	if err != nil {
		return nil, m.startFailed(ErrCreate, "create_socket", "create", engine.InvalidSocket, port, err)
	}

	if err := opts.apply(m.eng, fd); err != nil {
		m.release(fd)
		return nil, m.startFailed(ErrOption, "setsockopt", "option", fd, port, err)
	}

	addr := netip.AddrPortFrom(netip.IPv4Unspecified(), port)
	if err := m.eng.Bind(fd, addr); err != nil {
		m.release(fd)
		return nil, m.startFailed(ErrBind, "bind", "bind", fd, port, err)
	}

	if err := m.eng.Listen(fd, Backlog); err != nil {
		m.release(fd)
		return nil, m.startFailed(ErrListen, "listen", "listen", fd, port, err)
	}

	bound := port
	if la, err := m.eng.LocalAddr(fd); err == nil {
		if p, ok := portOf(la); ok {
			bound = p
		}
	}

	s := &Session{
		m:     m,
		fd:    fd,
		port:  bound,
		opts:  opts,
		state: StateListening,
		conns: make(map[engine.Socket]*Conn),
	}

	m.mu.Lock()
	if m.state != stateReady {
		m.mu.Unlock()
		m.release(fd)
		return nil, ErrShutdown
	}
	m.sessions[fd] = s
	m.mu.Unlock()

	m.metrics.SessionsStarted.Inc()
	m.logger.InfoMsg("Server started on port %d, fd=%d", bound, fd)
	return s, nil
}

func (m *Manager) startFailed(kind error, op, step string, fd engine.Socket, port uint16, err error) error {
	m.metrics.StartErrors.WithLabelValues(step).Inc()
	e := newError(kind, op, fd, port, err)
	m.logger.ErrorMsg("%s", e)
	return e
}

// release closes fd and logs, but never returns, a failure.
func (m *Manager) release(fd engine.Socket) {
	if err := m.eng.Close(fd); err != nil {
		m.metrics.CloseErrors.Inc()
		m.logger.ErrorMsg("close(fd=%d): %s", fd, err)
		return
	}
	m.logger.VerboseMsg("Socket %d closed", fd)
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.fd] == s {
		delete(m.sessions, s.fd)
	}
}

func portOf(addr net.Addr) (uint16, bool) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return uint16(a.Port), true
	case *net.TCPAddr:
		return uint16(a.Port), true
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return 0, false
	}
	return ap.Port(), true
}

// IsTransient reports whether err is a polling outcome rather than a failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrWouldBlock)
}
