package ws

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"srtrecv/mocks"
	"srtrecv/pkg/config"
	"srtrecv/pkg/engine"
)

// Every engine in this package shares one in-memory network; ports are
// ephemeral, so parallel tests never collide.
var (
	network = mocks.NewStreamNetwork()
	deps    = &config.Dependencies{
		TCPListener: network.Listen,
		TCPDialer:   network.DialContext,
	}
)

func newEngine(t *testing.T) *Engine {
	t.Helper()

	e := New(deps, nil)
	require.NoError(t, e.Startup())
	t.Cleanup(func() { _ = e.Cleanup() })
	return e
}

func loopback(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port)
}

func listen(t *testing.T, e *Engine, blocking bool) (engine.Socket, uint16) {
	t.Helper()

	fd, err := e.CreateSocket()
	require.NoError(t, err)
	if !blocking {
		require.NoError(t, e.SetOption(fd, engine.OptReceiveSync, 0))
	}
	require.NoError(t, e.Bind(fd, loopback(0)))
	require.NoError(t, e.Listen(fd, 1))

	la, err := e.LocalAddr(fd)
	require.NoError(t, err)
	return fd, uint16(la.(*net.TCPAddr).Port)
}

func dial(t *testing.T, port uint16) net.Conn {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c, err := NewDialer(loopback(port).String(), deps).Dial(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func accept(t *testing.T, e *Engine, fd engine.Socket) engine.Socket {
	t.Helper()

	type result struct {
		fd  engine.Socket
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, _, err := e.Accept(fd)
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.fd
	case <-time.After(5 * time.Second):
		t.Fatal("Accept() did not return")
	}
	return engine.InvalidSocket
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	fd, port := listen(t, e, true)

	c := dial(t, port)
	_, err := c.Write([]byte("hello-srt"))
	require.NoError(t, err)

	cfd := accept(t, e, fd)
	buf := make([]byte, 1316)
	n, err := e.RecvMsg(cfd, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello-srt", string(buf[:n]))
}

func TestMessageBoundaries(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	fd, port := listen(t, e, true)

	c := dial(t, port)
	for _, m := range []string{"one", "two", "0123456789"} {
		_, err := c.Write([]byte(m))
		require.NoError(t, err)
	}

	cfd := accept(t, e, fd)
	buf := make([]byte, 8)
	var got []string
	for i := 0; i < 4; i++ {
		n, err := e.RecvMsg(cfd, buf)
		require.NoError(t, err)
		got = append(got, string(buf[:n]))
	}
	assert.Equal(t, []string{"one", "two", "01234567", "89"}, got)
}

func TestPeerCloseIsConnLost(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	fd, port := listen(t, e, true)

	c := dial(t, port)
	_, err := c.Write([]byte("bye"))
	require.NoError(t, err)
	cfd := accept(t, e, fd)

	buf := make([]byte, 16)
	_, err = e.RecvMsg(cfd, buf)
	require.NoError(t, err)

	_ = c.Close()
	_, err = e.RecvMsg(cfd, buf)
	assert.Equal(t, engine.CodeConnLost, engine.CodeOf(err))
}

func TestNonBlocking(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	fd, port := listen(t, e, false)

	_, _, err := e.Accept(fd)
	assert.True(t, engine.IsWouldBlock(err), "Accept() = %v", err)

	_ = dial(t, port)
	var cfd engine.Socket
	require.Eventually(t, func() bool {
		s, _, err := e.Accept(fd)
		cfd = s
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	_, err = e.RecvMsg(cfd, make([]byte, 8))
	assert.True(t, engine.IsWouldBlock(err), "RecvMsg() = %v", err)
}

func TestAcceptSkipsPeerThatLeft(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	fd, port := listen(t, e, false)
	s, ok := e.sockets.Get(fd)
	require.True(t, ok)

	c := dial(t, port)
	var p *peer
	select {
	case p = <-s.pending:
	case <-time.After(5 * time.Second):
		t.Fatal("upgrade never reached the backlog")
	}
	require.NoError(t, c.Close())
	select {
	case <-p.gone:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not see the close")
	}
	s.pending <- p

	_, _, err := e.Accept(fd)
	assert.True(t, engine.IsWouldBlock(err), "Accept() = %v", err)

	// The backlog slot is free again.
	_ = dial(t, port)
	require.Eventually(t, func() bool {
		_, _, err := e.Accept(fd)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBacklogRejectsWith503(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	fd, port := listen(t, e, true)

	_ = dial(t, port)

	url := "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))) + "/"
	client := &http.Client{Transport: &http.Transport{DialContext: network.DialContext}}
	require.Eventually(t, func() bool {
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusServiceUnavailable
	}, 5*time.Second, 20*time.Millisecond)

	_ = accept(t, e, fd)
}

func TestBindPortInUse(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	_, port := listen(t, e, true)

	fd, err := e.CreateSocket()
	require.NoError(t, err)
	assert.Equal(t, engine.CodeSockFail, engine.CodeOf(e.Bind(fd, loopback(port))))
	assert.Equal(t, engine.CodeInvalidParam, engine.CodeOf(e.Bind(fd, netip.MustParseAddrPort("[::1]:0"))))
}

func TestOptionsAfterBind(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	fd, _ := listen(t, e, true)
	assert.Equal(t, engine.CodeBoundSocket, engine.CodeOf(e.SetOption(fd, engine.OptLatency, 10)))
}

func TestCloseUnblocksAccept(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	fd, port := listen(t, e, true)

	errc := make(chan error, 1)
	go func() {
		_, _, err := e.Accept(fd)
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, e.Close(fd))

	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Accept() not unblocked by Close()")
	}

	assert.False(t, network.Listening(int(port)), "port still open after Close()")
}
