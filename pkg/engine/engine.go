package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cuemby/remotebackend/pkg/cache"
	"github.com/cuemby/remotebackend/pkg/clock"
	"github.com/cuemby/remotebackend/pkg/log"
	"github.com/cuemby/remotebackend/pkg/metrics"
	"github.com/cuemby/remotebackend/pkg/records"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Resolver answers cache misses
type Resolver interface {
	Resolve(ctx context.Context, hostname string, deadline time.Duration) (*records.RecordSet, bool)
}

// Config holds the engine's per-request policy
type Config struct {
	// FetchDeadline bounds the wait for a cache miss
	FetchDeadline time.Duration

	// StalenessWindow is the maximum age of a cached set
	StalenessWindow time.Duration

	// SOAContent is served for every SOA query
	SOAContent string
}

// ConnOptions describe one accepted connection
type ConnOptions struct {
	// ConnID tags log lines; a random one is generated when empty
	ConnID string

	// Transport names the listener, e.g. "tcp" or "unix"
	Transport string

	// ReadTimeout closes the connection when no line arrives in time. Zero waits forever.
	ReadTimeout time.Duration
}

// Engine serves the line protocol. One Engine is shared by every connection.
type Engine struct {
	config   Config
	cache    *cache.Cache
	resolver Resolver
	clock    clock.Source
	metrics  metrics.Recorder
}

// New creates an engine. A nil cache behaves like a disabled one.
func New(cfg Config, c *cache.Cache, resolver Resolver, clk clock.Source, rec metrics.Recorder) (*Engine, error) {
	if resolver == nil {
		return nil, errors.New("engine: resolver is required")
	}
	if clk == nil {
		return nil, errors.New("engine: clock is required")
	}
	if cfg.FetchDeadline <= 0 {
		return nil, errors.New("engine: fetch deadline must be positive")
	}
	if cfg.SOAContent == "" {
		cfg.SOAContent = records.DefaultSOAContent
	}
	if c == nil {
		c, _ = cache.New(0, rec)
	}
	if rec == nil {
		rec = metrics.Nop{}
	}

	return &Engine{
		config:   cfg,
		cache:    c,
		resolver: resolver,
		clock:    clk,
		metrics:  rec,
	}, nil
}

// Serve runs the request loop on conn until the peer hangs up, a read times out,
// ctx is cancelled, or a request breaks the protocol. conn is always closed on return.
// End of stream, read timeouts and cancellation return nil.
func (e *Engine) Serve(ctx context.Context, conn net.Conn, opts ConnOptions) error {
	defer func() { _ = conn.Close() }()

	if opts.ConnID == "" {
		opts.ConnID = uuid.NewString()
	}
	logger := log.WithConn(opts.ConnID, opts.Transport)
	logger.Debug().Str("remote_addr", addr(conn)).Msg("connection opened")

	// Unblock a pending read when ctx ends
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		if ctx.Err() != nil {
			logger.Debug().Msg("connection closed on shutdown")
			return nil
		}
		if opts.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout)); err != nil {
				return fmt.Errorf("set read deadline: %w", err)
			}
		}

		line, readErr := reader.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")

		// A partial line left by a timeout is discarded. A blank line is
		// a request like any other and fails to decode.
		if readErr == nil || (errors.Is(readErr, io.EOF) && len(line) > 0) {
			if err := e.handle(ctx, line, writer, logger); err != nil {
				return err
			}
		}

		if readErr != nil {
			return e.closeOnRead(ctx, readErr, logger)
		}
	}
}

// closeOnRead maps a read error to the connection's exit status
func (e *Engine) closeOnRead(ctx context.Context, err error, logger zerolog.Logger) error {
	var nerr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug().Msg("connection closed by peer")
		return nil
	case ctx.Err() != nil:
		logger.Debug().Msg("connection closed on shutdown")
		return nil
	case errors.As(err, &nerr) && nerr.Timeout():
		logger.Debug().Msg("read timed out, closing connection")
		return nil
	default:
		e.metrics.Inc("engine.exceptions.io")
		logger.Warn().Err(err).Msg("read failed, closing connection")
		return fmt.Errorf("read request: %w", err)
	}
}

// handle processes one line and writes at most one reply line
func (e *Engine) handle(ctx context.Context, line []byte, w *bufio.Writer, logger zerolog.Logger) error {
	e.metrics.Inc("engine.requests.total")
	timer := metrics.NewTimer()
	defer timer.Record(e.metrics, "engine.request")

	if IsUnsupported(line) {
		e.metrics.Inc("engine.requests.unsupported_method")
		return e.write(w, EncodeNegative(), "engine.replies.negative", logger)
	}

	req, err := ParseRequest(line)
	if err != nil {
		e.metrics.Inc("engine.exceptions.protocol")
		logger.Warn().Err(err).Bytes("line", line).Msg("malformed request, closing connection")
		return err
	}

	if err := Validate(req); err != nil {
		e.metrics.Inc("engine.requests.invalid")
		logger.Warn().Err(err).Bytes("line", line).Msg("invalid request, closing connection")
		return err
	}
	e.metrics.Inc("engine.requests.valid")
	e.metrics.Inc("engine.requests." + req.Method)

	if req.Method == MethodInitialize {
		logger.Debug().Msg("initialize received")
		return e.write(w, EncodeOK(), "engine.replies.ok", logger)
	}

	qname, qtype := req.Qname(), req.Qtype()
	e.metrics.Inc(qtypeEvent(qtype))
	logger.Debug().Str("qname", qname).Str("qtype", qtype).Msg("lookup received")

	switch qtype {
	case "SOA":
		out, err := EncodeSOA(qname, e.config.SOAContent)
		if err != nil {
			return fmt.Errorf("encode SOA reply: %w", err)
		}
		return e.write(w, out, "engine.replies.positive", logger)
	case "NS":
		return e.write(w, EncodeNegative(), "engine.replies.negative", logger)
	}

	hostname := strings.ToLower(qname)

	if set, ok := e.cached(hostname, logger); ok {
		e.metrics.Inc("engine.cache.served")
		return e.writeSet(w, qname, set, logger)
	}

	set, ok := e.resolver.Resolve(ctx, hostname, e.config.FetchDeadline)
	if !ok {
		logger.Debug().Str("hostname", hostname).Msg("no records, answering negatively")
		return e.write(w, EncodeNegative(), "engine.replies.negative", logger)
	}

	if e.cache.Enabled() {
		e.cache.Put(hostname, set)
		e.metrics.Inc("engine.cache.inserts")
	}
	return e.writeSet(w, qname, set, logger)
}

// cached returns a fresh cache entry, dropping it if it has gone stale
func (e *Engine) cached(hostname string, logger zerolog.Logger) (*records.RecordSet, bool) {
	if !e.cache.Enabled() {
		return nil, false
	}

	e.metrics.Inc("engine.cache.lookups")
	set, ok := e.cache.Get(hostname)
	if !ok {
		e.metrics.Inc("engine.cache.misses")
		return nil, false
	}
	e.metrics.Inc("engine.cache.hits")

	if set.Timestamp < e.clock.Now()-e.config.StalenessWindow.Milliseconds() {
		e.metrics.Inc("engine.cache.expirations")
		logger.Debug().Str("hostname", hostname).Msg("cached records too old, refetching")
		e.cache.Invalidate(hostname)
		return nil, false
	}
	return set, true
}

// writeSet writes a positive reply, or a negative one if set holds nothing answerable
func (e *Engine) writeSet(w *bufio.Writer, qname string, set *records.RecordSet, logger zerolog.Logger) error {
	out, err := EncodePositive(qname, set)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	if out == nil {
		return e.write(w, EncodeNegative(), "engine.replies.negative", logger)
	}
	return e.write(w, out, "engine.replies.positive", logger)
}

func (e *Engine) write(w *bufio.Writer, line []byte, event string, logger zerolog.Logger) error {
	if _, err := w.Write(line); err != nil {
		e.metrics.Inc("engine.exceptions.io")
		return fmt.Errorf("write reply: %w", err)
	}
	e.metrics.Inc(event)
	if err := w.Flush(); err != nil {
		e.metrics.Inc("engine.exceptions.io")
		return fmt.Errorf("write reply: %w", err)
	}
	logger.Debug().Bytes("reply", bytes.TrimRight(line, "\n")).Msg("reply sent")
	return nil
}

// qtypeEvent keeps the qtype counters to the types records knows about
func qtypeEvent(qtype string) string {
	if qtype == "ANY" {
		return "engine.qtype.ANY"
	}
	if t, ok := records.ParseType(qtype); ok {
		return "engine.qtype." + t.String()
	}
	return "engine.qtype.other"
}

func addr(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
