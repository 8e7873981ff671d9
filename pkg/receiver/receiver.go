// Package receiver runs a listening session end to end: it accepts one
// client at a time, reads transport stream messages, and hands them
// through a bounded queue to a sink running on its own goroutine.
package receiver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"srtrecv/pkg/format"
	"srtrecv/pkg/log"
	"srtrecv/pkg/session"
)

// Defaults.
const (
	BufferSize      = 1316 // 7 TS packets
	QueueSize       = 200
	BitrateInterval = 5 * time.Second
	AcceptBackoff   = time.Second
	PollInterval    = 10 * time.Millisecond
)

// Sink consumes received data. All calls come from one goroutine.
type Sink interface {
	Process(data []byte) error
	Flush() error
	Reset()
}

// Config configures a Receiver. Zero durations and sizes take the
// defaults above.
type Config struct {
	Port    uint16
	Options session.SocketOptions

	BufferSize      int
	QueueSize       int
	BitrateInterval time.Duration
	AcceptBackoff   time.Duration
	PollInterval    time.Duration
}

// DefaultConfig returns the defaults for port.
func DefaultConfig(port uint16) Config {
	return Config{
		Port:            port,
		Options:         session.DefaultSocketOptions(),
		BufferSize:      BufferSize,
		QueueSize:       QueueSize,
		BitrateInterval: BitrateInterval,
		AcceptBackoff:   AcceptBackoff,
		PollInterval:    PollInterval,
	}
}

func (c *Config) fill() {
	if c.BufferSize <= 0 {
		c.BufferSize = BufferSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = QueueSize
	}
	if c.BitrateInterval <= 0 {
		c.BitrateInterval = BitrateInterval
	}
	if c.AcceptBackoff <= 0 {
		c.AcceptBackoff = AcceptBackoff
	}
	if c.PollInterval <= 0 {
		c.PollInterval = PollInterval
	}
}

// Receiver serves one session. Set the callbacks before Run; they are
// called from the accept goroutine.
type Receiver struct {
	OnConnect    func(remote net.Addr)
	OnDisconnect func()

	cfg    Config
	m      *session.Manager
	sink   Sink
	logger *log.Logger
	queue  *Queue

	conns   atomic.Uint64
	running atomic.Bool
	ready   chan struct{}

	mu   sync.Mutex
	sess *session.Session
}

// New creates a receiver. m must be initialized before Run. logger may be
// nil.
func New(m *session.Manager, sink Sink, cfg Config, logger *log.Logger) *Receiver {
	cfg.fill()
	return &Receiver{
		cfg:    cfg,
		m:      m,
		sink:   sink,
		logger: logger,
		queue:  NewQueue(cfg.QueueSize, m.Metrics()),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the server listens.
func (r *Receiver) Ready() <-chan struct{} {
	return r.ready
}

// Port returns the bound port, or 0 before Ready.
func (r *Receiver) Port() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return 0
	}
	return r.sess.Port()
}

// Run starts the server and serves clients until ctx is done or the sink
// fails. Cancelling ctx closes the session, which unblocks a pending
// accept or receive. A receiver runs once.
func (r *Receiver) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("Run(): receiver already ran")
	}

	s, err := r.m.StartServerWithOptions(r.cfg.Port, r.cfg.Options)
	if err != nil {
		return fmt.Errorf("StartServer(%d): %w", r.cfg.Port, err)
	}
	defer s.Close()

	r.mu.Lock()
	r.sess = s
	r.mu.Unlock()
	close(r.ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		s.Close()
		return nil
	})
	g.Go(func() error {
		return r.acceptLoop(gctx, s)
	})
	g.Go(func() error {
		return r.demuxLoop(gctx)
	})

	err = g.Wait()
	if ferr := r.sink.Flush(); err == nil && ferr != nil {
		err = ferr
	}
	r.logger.InfoMsg("Receiver stopped")
	return err
}

func (r *Receiver) acceptLoop(ctx context.Context, s *session.Session) error {
	for ctx.Err() == nil {
		r.logger.InfoMsg("Waiting for client connection...")
		c, err := s.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, session.ErrInvalidHandle) {
				return err
			}
			if !session.IsTransient(err) {
				r.logger.WarnMsg("Failed to accept client, retrying in %s", r.cfg.AcceptBackoff)
				sleep(ctx, r.cfg.AcceptBackoff)
			} else {
				sleep(ctx, r.cfg.PollInterval)
			}
			continue
		}

		id := r.conns.Add(1)
		if r.OnConnect != nil {
			r.OnConnect(c.RemoteAddr())
		}
		r.serve(ctx, c, id)
		c.Close()

		r.logger.InfoMsg("Client disconnected, resetting pipeline")
		if n := r.queue.Clear(); n > 0 {
			r.logger.VerboseMsg("Dropped %d queued messages", n)
		}
		if r.OnDisconnect != nil {
			r.OnDisconnect()
		}
	}
	return nil
}

// serve reads from c until the connection fails or ctx is done.
func (r *Receiver) serve(ctx context.Context, c *session.Conn, id uint64) {
	buf := make([]byte, r.cfg.BufferSize)
	var received uint64
	last := time.Now()

	for ctx.Err() == nil {
		n, err := c.Receive(buf)
		if err != nil {
			if session.IsTransient(err) {
				sleep(ctx, r.cfg.PollInterval)
				continue
			}
			r.logger.VerboseMsg("Receive: %s", err)
			return
		}
		if n == 0 {
			continue
		}

		if !r.queue.Offer(Chunk{Conn: id, Data: bytes.Clone(buf[:n])}) {
			r.logger.WarnMsg("Data queue full, dropping packet")
		}

		received += uint64(n)
		if d := time.Since(last); d >= r.cfg.BitrateInterval {
			r.logger.InfoMsg("Bitrate: %s", format.Bitrate(received, d))
			received = 0
			last = time.Now()
		}
	}
}

func (r *Receiver) demuxLoop(ctx context.Context) error {
	var conn uint64
	for {
		c, ok := r.queue.Poll(ctx, 100*time.Millisecond)
		if ctx.Err() != nil {
			return nil
		}
		if !ok {
			continue
		}

		if c.Conn != conn {
			if conn != 0 {
				r.sink.Reset()
			}
			conn = c.Conn
		}
		if err := r.sink.Process(c.Data); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
