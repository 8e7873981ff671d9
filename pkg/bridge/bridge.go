// Package bridge exposes the session manager to callers that only speak
// integer descriptors and negative sentinels, such as an FFI or a
// scripting host. It owns one process-wide Manager.
//
// Return conventions:
//
//	InitializeTransport  0, or OK, Failed, AlreadyInitialized, AfterShutdown
//	StartServer          descriptor >= 0, or Failed
//	AcceptConnection     descriptor >= 0, or Failed
//	Receive              bytes >= 0, Failed (fatal) or WouldBlock
//
// Every failure is logged through the manager before the sentinel is
// returned; the sentinel itself carries no detail.
package bridge

import (
	"errors"
	"sync"

	"srtrecv/pkg/engine"
	"srtrecv/pkg/engine/kcp"
	"srtrecv/pkg/log"
	"srtrecv/pkg/metrics"
	"srtrecv/pkg/session"
)

// Sentinels.
const (
	OK                 = 0
	Failed             = -1
	WouldBlock         = -2
	AlreadyInitialized = -2
	AfterShutdown      = -3
)

type entry struct {
	sess *session.Session
	conn *session.Conn
}

var (
	mu      sync.Mutex
	eng     engine.Engine
	logger  *log.Logger
	metric  *metrics.Metrics
	manager *session.Manager
	handles = make(map[int]entry)
)

// Use replaces the engine, logger and metrics of the process-wide manager.
// It only has an effect before InitializeTransport; afterwards it returns
// false. Nil arguments keep the defaults: the kcp engine, a stderr logger
// and unregistered metrics.
func Use(e engine.Engine, l *log.Logger, m *metrics.Metrics) bool {
	mu.Lock()
	defer mu.Unlock()

	if manager != nil {
		return false
	}
	eng, logger, metric = e, l, m
	return true
}

// state returns the manager and its logger, creating them on first use.
func state() (*session.Manager, *log.Logger) {
	mu.Lock()
	defer mu.Unlock()

	if manager == nil {
		if logger == nil {
			logger = log.NewLogger(nil, false)
		}
		if eng == nil {
			eng = kcp.New(nil, logger)
		}
		manager = session.New(eng, logger, metric)
	}
	return manager, logger
}

// InitializeTransport starts the engine.
func InitializeTransport() int {
	m, _ := state()
	err := m.Initialize()
	switch {
	case err == nil:
		return OK
	case errors.Is(err, session.ErrAlreadyInitialized):
		return AlreadyInitialized
	case errors.Is(err, session.ErrShutdown):
		return AfterShutdown
	default:
		return Failed
	}
}

// StartServer starts a listening session on port with the default options
// and returns its descriptor. Ports outside [0, 65535] are rejected.
func StartServer(port int) int {
	m, logger := state()
	if port < 0 || port > 65535 {
		logger.ErrorMsg("StartServer(%d): port out of range", port)
		return Failed
	}

	s, err := m.StartServer(uint16(port))
	if err != nil {
		if !isLogged(err) {
			logger.ErrorMsg("StartServer(%d): %s", port, err)
		}
		return Failed
	}

	fd := int(s.Descriptor())
	mu.Lock()
	handles[fd] = entry{sess: s}
	mu.Unlock()
	return fd
}

// AcceptConnection blocks until a client connects to the session fd and
// returns the connection's descriptor.
func AcceptConnection(fd int) int {
	_, logger := state()
	e, ok := lookup(fd)
	if !ok || e.sess == nil {
		logger.ErrorMsg("AcceptConnection(%d): not a server descriptor", fd)
		return Failed
	}

	c, err := e.sess.Accept()
	if err != nil {
		if !isLogged(err) {
			logger.ErrorMsg("AcceptConnection(%d): %s", fd, err)
		}
		return Failed
	}

	acceptHook()
	cfd := int(c.Descriptor())
	mu.Lock()
	// fd may have been closed while Accept was returning; its children
	// are gone from handles already and c is closed or about to be.
	if cur, ok := handles[fd]; !ok || cur.sess != e.sess || c.State() == session.StateClosed {
		mu.Unlock()
		c.Close()
		logger.ErrorMsg("AcceptConnection(%d): server descriptor closed", fd)
		return Failed
	}
	handles[cfd] = entry{sess: e.sess, conn: c}
	mu.Unlock()
	return cfd
}

// Receive reads one message from the connection fd into buf.
func Receive(fd int, buf []byte) int {
	_, logger := state()
	e, ok := lookup(fd)
	if !ok || e.conn == nil {
		logger.ErrorMsg("Receive(%d): not a connection descriptor", fd)
		return Failed
	}

	n, err := e.conn.Receive(buf)
	switch {
	case err == nil:
		return n
	case errors.Is(err, session.ErrWouldBlock):
		return WouldBlock
	default:
		if !isLogged(err) {
			logger.ErrorMsg("Receive(%d): %s", fd, err)
		}
		return Failed
	}
}

// Close releases fd. Closing a server descriptor also closes every
// connection accepted through it. Unknown descriptors are ignored.
func Close(fd int) {
	mu.Lock()
	e, ok := handles[fd]
	if !ok {
		mu.Unlock()
		return
	}
	delete(handles, fd)
	if e.conn == nil {
		for h, child := range handles {
			if child.sess == e.sess {
				delete(handles, h)
			}
		}
	}
	mu.Unlock()

	if e.conn != nil {
		e.conn.Close()
		return
	}
	e.sess.Close()
}

// Shutdown closes everything and tears the engine down. Later calls of
// InitializeTransport return AfterShutdown.
func Shutdown() {
	m, _ := state()

	mu.Lock()
	handles = make(map[int]entry)
	mu.Unlock()

	m.Shutdown()
}

func lookup(fd int) (entry, bool) {
	mu.Lock()
	defer mu.Unlock()
	e, ok := handles[fd]
	return e, ok
}

// isLogged reports whether the manager already logged err.
func isLogged(err error) bool {
	var se *session.Error
	return errors.As(err, &se) && !errors.Is(err, session.ErrInvalidHandle)
}

// acceptHook runs between Accept and the registration of its connection.
// Tests only.
var acceptHook = func() {}

// reset drops all process-wide state. Tests only.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	eng, logger, metric, manager = nil, nil, nil, nil
	handles = make(map[int]entry)
	acceptHook = func() {}
}
