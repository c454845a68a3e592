package server

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/remotebackend/pkg/engine"
	"github.com/cuemby/remotebackend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler writes every line back until the peer hangs up
type echoHandler struct {
	mu        sync.Mutex
	opts      []engine.ConnOptions
	ignoreCtx bool
}

func (h *echoHandler) Serve(ctx context.Context, conn net.Conn, opts engine.ConnOptions) error {
	defer func() { _ = conn.Close() }()

	h.mu.Lock()
	h.opts = append(h.opts, opts)
	h.mu.Unlock()

	if !h.ignoreCtx {
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()
	}

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil
		}
		if _, err := conn.Write([]byte(line)); err != nil {
			return err
		}
	}
}

func (h *echoHandler) served() []engine.ConnOptions {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]engine.ConnOptions(nil), h.opts...)
}

func startServer(t *testing.T, s *Server) chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return errCh
}

func roundTrip(t *testing.T, conn net.Conn, line string) string {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return reply
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{MaxConnections: 1}, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{}, &echoHandler{}, nil, nil)
	assert.Error(t, err)
}

func TestServeWithoutListeners(t *testing.T) {
	s, err := New(Config{MaxConnections: 1}, &echoHandler{}, nil, nil)
	require.NoError(t, err)
	assert.Error(t, s.Serve())
}

func TestServeTCP(t *testing.T) {
	h := &echoHandler{}
	health := metrics.NewHealthChecker("test", metrics.ComponentListener)
	rec := metrics.NewMemory()

	s, err := New(Config{MaxConnections: 4, UnixReadTimeout: time.Second}, h, rec, health)
	require.NoError(t, err)
	require.NoError(t, s.ListenTCP("127.0.0.1:0"))
	startServer(t, s)

	conn, err := net.Dial("tcp", s.Addrs()[0].String())
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "hello\n", roundTrip(t, conn, "hello"))
	assert.Equal(t, 1, s.Len())

	served := h.served()
	require.Len(t, served, 1)
	assert.Equal(t, TransportTCP, served[0].Transport)
	assert.Zero(t, served[0].ReadTimeout, "TCP connections have no read timeout")
	_, err = uuid.Parse(served[0].ConnID)
	assert.NoError(t, err)

	assert.Equal(t, "ready", health.Readiness().Status)
	assert.Equal(t, 1, rec.Count("server.connections.accepted"))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServeUnix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote.sock")

	h := &echoHandler{}
	s, err := New(Config{MaxConnections: 4, UnixReadTimeout: 250 * time.Millisecond}, h, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.ListenUnix(path))
	startServer(t, s)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "ping\n", roundTrip(t, conn, "ping"))

	served := h.served()
	require.Len(t, served, 1)
	assert.Equal(t, TransportUnix, served[0].Transport)
	assert.Equal(t, 250*time.Millisecond, served[0].ReadTimeout)
}

func TestListenUnixReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote.sock")

	stale, err := net.Listen("unix", path)
	require.NoError(t, err)
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())

	_, err = os.Stat(path)
	require.NoError(t, err, "socket file should still exist")

	s, err := New(Config{MaxConnections: 1}, &echoHandler{}, nil, nil)
	require.NoError(t, err)
	assert.NoError(t, s.ListenUnix(path))
	s.closeListeners()
}

func TestListenUnixRefusesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-socket")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

	s, err := New(Config{MaxConnections: 1}, &echoHandler{}, nil, nil)
	require.NoError(t, err)
	assert.Error(t, s.ListenUnix(path))
}

func TestConnectionCapBlocksAccept(t *testing.T) {
	h := &echoHandler{}
	s, err := New(Config{MaxConnections: 1}, h, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.ListenTCP("127.0.0.1:0"))
	startServer(t, s)

	addr := s.Addrs()[0].String()

	first, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	assert.Equal(t, "one\n", roundTrip(t, first, "one"))

	// Completes in the kernel backlog but is not served yet
	second, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer second.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, h.served(), 1)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, first.Close())
	assert.Equal(t, "two\n", roundTrip(t, second, "two"))
	assert.Len(t, h.served(), 2)
}

func TestIdleListenerHoldsNoSlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote.sock")

	h := &echoHandler{}
	s, err := New(Config{MaxConnections: 1}, h, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.ListenTCP("127.0.0.1:0"))
	require.NoError(t, s.ListenUnix(path))
	startServer(t, s)

	tcp, err := net.Dial("tcp", s.Addrs()[0].String())
	require.NoError(t, err)
	assert.Equal(t, "tcp\n", roundTrip(t, tcp, "tcp"))

	unix, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer unix.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, h.served(), 1)

	require.NoError(t, tcp.Close())
	assert.Equal(t, "unix\n", roundTrip(t, unix, "unix"))
	assert.Equal(t, 1, s.Len())
}

func TestShutdownClosesConnections(t *testing.T) {
	h := &echoHandler{}
	health := metrics.NewHealthChecker("test", metrics.ComponentListener)
	s, err := New(Config{MaxConnections: 4}, h, nil, health)
	require.NoError(t, err)
	require.NoError(t, s.ListenTCP("127.0.0.1:0"))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()

	conn, err := net.Dial("tcp", s.Addrs()[0].String())
	require.NoError(t, err)
	defer conn.Close()
	roundTrip(t, conn, "hello")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Zero(t, s.Len())
	assert.Equal(t, "not_ready", health.Readiness().Status)

	// Listener is gone
	_, err = net.DialTimeout("tcp", s.Addrs()[0].String(), 100*time.Millisecond)
	assert.Error(t, err)
}

func TestShutdownForcesStragglers(t *testing.T) {
	h := &echoHandler{ignoreCtx: true}
	s, err := New(Config{MaxConnections: 4}, h, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.ListenTCP("127.0.0.1:0"))
	go func() { _ = s.Serve() }()

	conn, err := net.Dial("tcp", s.Addrs()[0].String())
	require.NoError(t, err)
	defer conn.Close()
	roundTrip(t, conn, "hello")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)
	assert.Zero(t, s.Len())
}

func TestListenAfterShutdown(t *testing.T) {
	s, err := New(Config{MaxConnections: 1}, &echoHandler{}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(context.Background()))

	assert.Error(t, s.ListenTCP("127.0.0.1:0"))
}
