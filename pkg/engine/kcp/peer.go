package kcp

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"time"

	kcp "github.com/xtaci/kcp-go/v5"
)

// Every KCP message starts with one frame type byte. KCP itself has no
// connection teardown, so shutdown and liveness travel as frames.
const (
	frameData byte = iota
	frameKeepalive
	frameShutdown
	frameShutdownAck
)

// maxPayload bounds the data of one frame, well below the KCP limit of
// 255 fragments per message. Longer writes are sent as several messages.
const maxPayload = 32 << 10

// inboxSize is the number of whole messages buffered per connection.
const inboxSize = 256

var errPeerShutdown = errors.New("peer closed the connection")

type idleError time.Duration

func (e idleError) Error() string {
	return "no message from peer for " + time.Duration(e).String()
}

// peer is one server-side KCP session and its reader goroutine. The reader
// runs from the first packet on, so a pending peer is acknowledged and can
// be seen leaving before Accept.
type peer struct {
	sess  *kcp.UDPSession
	inbox chan []byte

	ready     chan struct{} // closed on the first frame
	readyOnce sync.Once

	errMu sync.Mutex
	err   error // set before gone is closed

	gone     chan struct{}
	goneOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

func newPeer(sess *kcp.UDPSession, idle time.Duration) *peer {
	p := &peer{
		sess:  sess,
		inbox: make(chan []byte, inboxSize),
		ready: make(chan struct{}),
		gone:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.read(idle)
	return p
}

func (p *peer) read(idle time.Duration) {
	buf := make([]byte, maxPayload+1)
	for {
		deadline := time.Time{}
		if idle > 0 {
			deadline = time.Now().Add(idle)
		}
		if err := p.sess.SetReadDeadline(deadline); err != nil {
			p.fail(err)
			return
		}

		n, err := p.sess.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				err = idleError(idle)
			}
			p.fail(err)
			return
		}
		if n == 0 {
			continue
		}
		p.readyOnce.Do(func() { close(p.ready) })

		switch buf[0] {
		case frameData:
			select {
			case p.inbox <- bytes.Clone(buf[1:n]):
			case <-p.done:
				p.fail(net.ErrClosed)
				return
			}
		case frameShutdown:
			// Everything sent before the shutdown is in the inbox now. The
			// peer is gone before the sender learns it was heard.
			p.fail(errPeerShutdown)
			_, _ = p.sess.Write([]byte{frameShutdownAck})
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

func (p *peer) close() error {
	p.doneOnce.Do(func() { close(p.done) })
	err := ignoreClosed(p.sess.Close())
	p.fail(net.ErrClosed)
	return err
}
