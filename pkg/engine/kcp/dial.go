package kcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	kcp "github.com/xtaci/kcp-go/v5"

	"srtrecv/pkg/config"
)

// Dialer timing defaults.
const (
	DefaultLinger     = 5 * time.Second
	KeepaliveInterval = time.Second
)

// ErrNotDelivered is returned by Conn.Drain when the listener did not
// confirm the end of the stream in time.
var ErrNotDelivered = errors.New("listener did not confirm delivery")

// Dialer opens caller-side KCP sessions configured like the listener's.
type Dialer struct {
	remoteAddr   *net.UDPAddr
	packetConnFn config.PacketListenerFunc
	timestamp    bool
	latencyMs    int

	// Linger bounds how long Close waits for the listener to confirm
	// delivery when Drain was not called first. Zero closes at once.
	Linger time.Duration
}

// NewDialer creates a dialer for addr with timestamp delivery enabled and
// the default latency. deps may be nil.
func NewDialer(addr string, deps *config.Dependencies) (*Dialer, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.ResolveUDPAddr(udp, %s): %w", addr, err)
	}

	listen := defaultListenPacket
	if deps != nil && deps.PacketListener != nil {
		listen = deps.PacketListener
	}

	return &Dialer{
		remoteAddr:   udpAddr,
		packetConnFn: listen,
		timestamp:    true,
		latencyMs:    120,
		Linger:       DefaultLinger,
	}, nil
}

// Dial creates the session and sends its first frame, which is what makes
// the listener admit it.
func (d *Dialer) Dial(ctx context.Context) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pc, err := d.packetConnFn("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("listen(udp, :0): %w", err)
	}

	sess, err := kcp.NewConn(d.remoteAddr.String(), nil, 0, 0, pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("kcp.NewConn(%s): %w", d.remoteAddr, err)
	}
	configure(sess, defaultSettings(d.timestamp, d.latencyMs))

	c := &Conn{UDPSession: sess, pc: pc, linger: d.Linger, stop: make(chan struct{})}
	if err := c.send(frameKeepalive, nil); err != nil {
		c.release()
		return nil, fmt.Errorf("sending first frame: %w", err)
	}
	go c.keepalive()
	return c, nil
}

// Conn is the caller side of a KCP connection. Every Write is framed as
// one message, or several when longer than the frame limit.
type Conn struct {
	*kcp.UDPSession
	pc     net.PacketConn
	linger time.Duration

	lastSend atomic.Int64 // unix nanoseconds
	draining atomic.Bool  // set by the first Drain

	stop      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (c *Conn) send(typ byte, payload []byte) error {
	frame := make([]byte, 1+len(payload))
	frame[0] = typ
	copy(frame[1:], payload)
	if _, err := c.UDPSession.Write(frame); err != nil {
		return err
	}
	c.lastSend.Store(time.Now().UnixNano())
	return nil
}

// Write implements net.Conn.
func (c *Conn) Write(b []byte) (int, error) {
	n := 0
	for n < len(b) {
		end := min(n+maxPayload, len(b))
		if err := c.send(frameData, b[n:end]); err != nil {
			return n, err
		}
		n = end
	}
	return n, nil
}

// Read discards everything but data frames; listeners send none besides
// the shutdown acknowledgement.
func (c *Conn) Read(b []byte) (int, error) {
	buf := make([]byte, maxPayload+1)
	for {
		n, err := c.UDPSession.Read(buf)
		if err != nil {
			return 0, err
		}
		if n > 0 && buf[0] == frameData {
			return copy(b, buf[1:n]), nil
		}
	}
}

func (c *Conn) keepalive() {
	t := time.NewTicker(KeepaliveInterval / 2)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			last := time.Unix(0, c.lastSend.Load())
			if time.Since(last) >= KeepaliveInterval {
				_ = c.send(frameKeepalive, nil)
			}
		}
	}
}

// Drain sends the end of the stream and waits until the listener confirms
// that it received everything written before, or until ctx is done. Nothing
// may be written after Drain.
func (c *Conn) Drain(ctx context.Context) error {
	c.draining.Store(true)
	if err := c.send(frameShutdown, nil); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { _ = c.UDPSession.SetReadDeadline(time.Now()) })
	defer stop()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.UDPSession.SetReadDeadline(dl)
	}

	buf := make([]byte, maxPayload+1)
	for {
		n, err := c.UDPSession.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return ErrNotDelivered
			}
			return err
		}
		if n > 0 && buf[0] == frameShutdownAck {
			return nil
		}
	}
}

// Close drains for up to the dialer's Linger unless Drain was called
// before, then releases the session and its packet socket. An unconfirmed
// delivery is not an error here.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if !c.draining.Load() && c.linger > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), c.linger)
			_ = c.Drain(ctx)
			cancel()
		}
		c.closeErr = c.release()
	})
	return c.closeErr
}

// release closes the packet socket along with the session, since
// kcp.NewConn does not take ownership of it.
func (c *Conn) release() error {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	err := c.UDPSession.Close()
	if perr := c.pc.Close(); perr != nil && err == nil {
		err = perr
	}
	return ignoreClosed(err)
}
