package session

import (
	"net"
	"sync"

	"srtrecv/pkg/engine"
)

// State is the lifecycle state of a Session or Conn.
type State int

// States. Transitions only move forward.
const (
	StateListening State = iota + 1
	StateAccepted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateAccepted:
		return "accepted"
	case StateClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// Session is a listening endpoint. It owns its descriptor until Close.
type Session struct {
	m    *Manager
	fd   engine.Socket
	port uint16
	opts SocketOptions

	mu    sync.Mutex
	state State
	conns map[engine.Socket]*Conn
}

// Descriptor returns the engine descriptor. It stays valid until Close.
func (s *Session) Descriptor() engine.Socket {
	return s.fd
}

// Port returns the port the session is bound to.
func (s *Session) Port() uint16 {
	return s.port
}

// Options returns the options applied at start.
func (s *Session) Options() SocketOptions {
	return s.opts
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Conns returns the accepted connections that are still open.
func (s *Session) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Accept blocks until a client connects and returns its connection. With
// BlockingReceive disabled it returns ErrWouldBlock when nobody is waiting.
// The session stays usable for further accepts.
func (s *Session) Accept() (*Conn, error) {
	if s.State() == StateClosed {
		return nil, newError(ErrInvalidHandle, "accept", s.fd, s.port, nil)
	}

	fd, remote, err := s.m.eng.Accept(s.fd)
	if err != nil {
		if engine.IsWouldBlock(err) {
			return nil, ErrWouldBlock
		}
		if s.State() == StateClosed {
			s.m.logger.VerboseMsg("Accept on fd=%d interrupted by close", s.fd)
			return nil, newError(ErrInvalidHandle, "accept", s.fd, s.port, err)
		}
		s.m.metrics.AcceptErrors.Inc()
		e := newError(ErrAccept, "accept", s.fd, s.port, err)
		s.m.logger.ErrorMsg("%s", e)
		return nil, e
	}

	c := &Conn{
		s:      s,
		fd:     fd,
		remote: remote,
		state:  StateAccepted,
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		s.m.release(fd)
		return nil, newError(ErrInvalidHandle, "accept", s.fd, s.port, nil)
	}
	s.conns[fd] = c
	s.mu.Unlock()

	s.m.metrics.ConnectionsAccepted.Inc()
	s.m.logger.InfoMsg("Client %s accepted, fd=%d", addrString(remote), fd)
	return c, nil
}

// Close releases the descriptor and closes every connection accepted
// through the session that is still open. It is safe to call more than
// once and never fails; engine errors are logged.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	children := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		children = append(children, c)
	}
	s.conns = nil
	s.mu.Unlock()

	for _, c := range children {
		c.Close()
	}
	s.m.release(s.fd)
	s.m.forget(s)
	s.m.logger.InfoMsg("Server on port %d closed", s.port)
}

func (s *Session) forget(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.fd)
}

func addrString(a net.Addr) string {
	if a == nil {
		return "unknown"
	}
	return a.String()
}
