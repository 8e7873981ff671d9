package session

import (
	"net"
	"sync"

	"srtrecv/pkg/engine"
)

// Conn is an accepted client connection. Its lifecycle is independent of
// further accepts on the session, but closing the session closes it too.
type Conn struct {
	s      *Session
	fd     engine.Socket
	remote net.Addr

	mu    sync.Mutex
	state State
}

// Descriptor returns the engine descriptor.
func (c *Conn) Descriptor() engine.Socket {
	return c.fd
}

// RemoteAddr returns the client's address as reported by the engine.
func (c *Conn) RemoteAddr() net.Addr {
	return c.remote
}

// State returns the current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Receive reads one message into buf and returns the number of bytes
// written. In non-blocking mode it returns ErrWouldBlock when no message is
// ready; that outcome is counted separately and only logged verbosely.
// Messages larger than buf are split according to the engine's policy.
func (c *Conn) Receive(buf []byte) (int, error) {
	m := c.s.m
	if c.State() == StateClosed {
		return 0, newError(ErrInvalidHandle, "recvmsg", c.fd, c.s.port, nil)
	}

	n, err := m.eng.RecvMsg(c.fd, buf)
	if err != nil {
		if engine.IsWouldBlock(err) {
			m.metrics.WouldBlock.Inc()
			m.logger.VerboseMsg("recvmsg(fd=%d): would block", c.fd)
			return 0, ErrWouldBlock
		}
		if c.State() == StateClosed {
			m.logger.VerboseMsg("Receive on fd=%d interrupted by close", c.fd)
			return 0, newError(ErrInvalidHandle, "recvmsg", c.fd, c.s.port, err)
		}
		m.metrics.ReceiveErrors.Inc()
		e := newError(ErrReceive, "recvmsg", c.fd, c.s.port, err)
		m.logger.ErrorMsg("%s", e)
		return 0, e
	}

	m.metrics.MessagesReceived.Inc()
	m.metrics.BytesReceived.Add(float64(n))
	return n, nil
}

// Close releases the descriptor. It is safe to call more than once and
// never fails; engine errors are logged.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.mu.Unlock()

	c.s.forget(c)
	c.s.m.release(c.fd)
}
