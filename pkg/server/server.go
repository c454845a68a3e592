package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/remotebackend/pkg/engine"
	"github.com/cuemby/remotebackend/pkg/log"
	"github.com/cuemby/remotebackend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Transport names reported in logs and health
const (
	TransportTCP  = "tcp"
	TransportUnix = "unix"
)

// Handler serves one accepted connection and closes it
type Handler interface {
	Serve(ctx context.Context, conn net.Conn, opts engine.ConnOptions) error
}

// Config bounds the listeners
type Config struct {
	// MaxConnections caps open connections across every listener.
	// Accepting blocks while the cap is reached.
	MaxConnections int

	// UnixReadTimeout closes unix connections idle for this long. Zero disables it.
	UnixReadTimeout time.Duration
}

type listener struct {
	net.Listener
	transport   string
	component   string
	readTimeout time.Duration
}

// Server accepts DNS server connections on TCP and unix sockets and hands
// each one to the Handler on its own goroutine.
type Server struct {
	config  Config
	handler Handler
	slots   *semaphore.Weighted

	mu        sync.Mutex
	listeners []*listener
	conns     map[string]net.Conn
	closing   bool

	active atomic.Int64
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	health  *metrics.HealthChecker
	metrics metrics.Recorder
	logger  zerolog.Logger
}

// New creates a server. health may be nil.
func New(cfg Config, handler Handler, rec metrics.Recorder, health *metrics.HealthChecker) (*Server, error) {
	if handler == nil {
		return nil, errors.New("server: handler is required")
	}
	if cfg.MaxConnections <= 0 {
		return nil, errors.New("server: max connections must be positive")
	}
	if rec == nil {
		rec = metrics.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:  cfg,
		handler: handler,
		slots:   semaphore.NewWeighted(int64(cfg.MaxConnections)),
		conns:   make(map[string]net.Conn),
		ctx:     ctx,
		cancel:  cancel,
		health:  health,
		metrics: rec,
		logger:  log.WithComponent("server"),
	}, nil
}

// ListenTCP binds a TCP listener on addr
func (s *Server) ListenTCP(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.add(&listener{Listener: l, transport: TransportTCP, component: metrics.ComponentListener})
}

// ListenUnix binds a unix socket at path, replacing a stale socket file
func (s *Server) ListenUnix(path string) error {
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return fmt.Errorf("%s exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove stale socket %s: %w", path, err)
		}
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	return s.add(&listener{
		Listener:    l,
		transport:   TransportUnix,
		component:   metrics.ComponentUnix,
		readTimeout: s.config.UnixReadTimeout,
	})
}

func (s *Server) add(l *listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		_ = l.Close()
		return errors.New("server is shutting down")
	}
	s.listeners = append(s.listeners, l)
	return nil
}

// Addrs returns the bound listener addresses
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// Len returns the number of open connections
func (s *Server) Len() int {
	return int(s.active.Load())
}

// Serve runs every accept loop and blocks until they all stop.
// It returns nil after Shutdown, or the first accept error otherwise.
func (s *Server) Serve() error {
	s.mu.Lock()
	listeners := append([]*listener(nil), s.listeners...)
	s.mu.Unlock()

	if len(listeners) == 0 {
		return errors.New("server: no listeners")
	}

	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		go func(l *listener) {
			errCh <- s.acceptLoop(l)
		}(l)
	}

	var first error
	for range listeners {
		if err := <-errCh; err != nil && first == nil {
			first = err
			// One broken listener takes the others down with it
			s.closeListeners()
		}
	}
	return first
}

func (s *Server) acceptLoop(l *listener) error {
	logger := s.logger.With().Str("transport", l.transport).Str("addr", l.Addr().String()).Logger()
	logger.Info().Int("max_connections", s.config.MaxConnections).Msg("accepting connections")

	if s.health != nil {
		s.health.Set(l.component, true, "accepting on "+l.Addr().String())
		defer s.health.Set(l.component, false, "listener closed")
	}

	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return nil
			}

			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				backoff = nextBackoff(backoff)
				logger.Warn().Err(err).Dur("retry_in", backoff).Msg("accept failed")
				time.Sleep(backoff)
				continue
			}
			logger.Error().Err(err).Msg("accept failed, stopping listener")
			return fmt.Errorf("accept on %s: %w", l.Addr(), err)
		}
		backoff = 0

		// A full server stops accepting until a connection closes; the
		// slot pool is shared by every listener
		if err := s.slots.Acquire(s.ctx, 1); err != nil {
			_ = conn.Close()
			return nil
		}

		id := uuid.NewString()
		if !s.track(id, conn) {
			_ = conn.Close()
			s.slots.Release(1)
			return nil
		}

		go s.serveConn(id, conn, l)
	}
}

func (s *Server) serveConn(id string, conn net.Conn, l *listener) {
	defer s.wg.Done()
	defer s.slots.Release(1)
	defer s.untrack(id)

	s.metrics.Inc("server.connections.accepted")
	s.metrics.Inc("server.connections." + l.transport)

	err := s.handler.Serve(s.ctx, conn, engine.ConnOptions{
		ConnID:      id,
		Transport:   l.transport,
		ReadTimeout: l.readTimeout,
	})
	if err != nil {
		s.metrics.Inc("server.connections.failed")
		s.logger.Debug().Err(err).Str("conn_id", id).Msg("connection ended with error")
	}
}

func (s *Server) track(id string, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[id] = conn
	s.active.Add(1)
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[id]; ok {
		delete(s.conns, id)
		s.active.Add(-1)
	}
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for _, l := range s.listeners {
		_ = l.Close()
	}
}

// Shutdown stops accepting, asks every connection to finish and waits until
// they have, or ctx ends. Connections still open at that point are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeListeners()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("all connections closed")
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	remaining := len(s.conns)
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.logger.Warn().Int("connections", remaining).Msg("shutdown grace period expired, closing connections")
	<-done
	return ctx.Err()
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
