package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cuemby/remotebackend/pkg/clock"
	"github.com/cuemby/remotebackend/pkg/log"
	"github.com/cuemby/remotebackend/pkg/metrics"
	"github.com/cuemby/remotebackend/pkg/records"
	"github.com/icholy/digest"
	"github.com/rs/zerolog"
)

const (
	// MaxResponseSize is the largest Content-Length accepted from the record source
	MaxResponseSize = 8192

	// MaxAttempts bounds the HTTP exchange when the connection is reset
	MaxAttempts = 3
)

// Fetcher fetches the record set for one hostname
type Fetcher interface {
	Fetch(ctx context.Context, hostname string) (*records.RecordSet, error)
}

// Config describes one record source endpoint
type Config struct {
	Scheme     string // default: http
	Host       string
	Port       int
	Username   string
	Password   string
	APIVersion int
	Timeout    time.Duration // per HTTP exchange; zero means no client-side limit
}

// Client performs authenticated GETs against /fqdn/<version>/<hostname>.
// It is safe for concurrent use.
type Client struct {
	config    Config
	endpoint  *url.URL
	transport *http.Transport
	http      *http.Client
	clock     clock.Source
	metrics   metrics.Recorder
	logger    zerolog.Logger
}

// New creates a client bound to one record source
func New(cfg Config, clk clock.Source, rec metrics.Recorder) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("remote: host is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("remote: username and password are required")
	}
	if clk == nil {
		return nil, errors.New("remote: clock is required")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.APIVersion <= 0 {
		cfg.APIVersion = 1
	}
	if rec == nil {
		rec = metrics.Nop{}
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		config: cfg,
		endpoint: &url.URL{
			Scheme: cfg.Scheme,
			Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		},
		transport: transport,
		http: &http.Client{
			Transport: &digest.Transport{
				Username:  cfg.Username,
				Password:  cfg.Password,
				Transport: transport,
			},
			Timeout: cfg.Timeout,
		},
		clock:   clk,
		metrics: rec,
		logger:  log.WithComponent("remote"),
	}, nil
}

// URL returns the request URL for hostname
func (c *Client) URL(hostname string) string {
	u := *c.endpoint
	u.Path = fmt.Sprintf("/fqdn/%d/%s", c.config.APIVersion, hostname)
	return u.String()
}

// Fetch returns the record set for hostname, stamped with the fetch time.
// Every failure maps to one of the package's sentinel errors.
func (c *Client) Fetch(ctx context.Context, hostname string) (*records.RecordSet, error) {
	c.metrics.Inc("remote.calls")

	if hostname == "" {
		c.metrics.Inc("remote.absent.hostname_not_set")
		return nil, ErrIllegalState
	}

	timer := metrics.NewTimer()
	defer timer.Record(c.metrics, "remote.fetch")

	resp, err := c.do(ctx, hostname)
	if err != nil {
		if isTimeout(err) || ctx.Err() != nil {
			c.metrics.Inc("remote.absent.timeout")
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		c.metrics.Inc("remote.absent.transport")
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer drain(resp.Body)

	c.metrics.Inc("remote.status." + strconv.Itoa(resp.StatusCode))
	c.logger.Debug().
		Str("hostname", hostname).
		Int("status", resp.StatusCode).
		Int64("content_length", resp.ContentLength).
		Msg("record source replied")

	if resp.StatusCode != http.StatusOK {
		c.metrics.Inc("remote.absent.bad_status_code")
		return nil, fmt.Errorf("%w: status %d", ErrNotFound, resp.StatusCode)
	}

	// -1 means the length is unknown and the body is read without a pre-check
	if resp.ContentLength < -1 || resp.ContentLength > MaxResponseSize {
		c.metrics.Inc("remote.absent.content_too_long")
		return nil, fmt.Errorf("%w: content length %d", ErrNotFound, resp.ContentLength)
	}
	if resp.ContentLength == 0 {
		c.metrics.Inc("remote.absent.empty_body")
		return nil, fmt.Errorf("%w: empty body", ErrNotFound)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) || ctx.Err() != nil {
			c.metrics.Inc("remote.absent.timeout")
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		c.metrics.Inc("remote.absent.read_error")
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if len(body) == 0 {
		c.metrics.Inc("remote.absent.empty_body")
		return nil, fmt.Errorf("%w: empty body", ErrNotFound)
	}

	set, err := records.Decode(body)
	if err != nil {
		c.logger.Info().Err(err).Str("hostname", hostname).Msg("could not decode record source reply")
		c.metrics.Inc("remote.absent.decode_error")
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	set.Timestamp = c.clock.Now()
	c.metrics.Inc("remote.valid_responses")
	return set, nil
}

// do issues the GET, retrying only when the connection was reset before a response arrived
func (c *Client) do(ctx context.Context, hostname string) (*http.Response, error) {
	target := c.URL(hostname)

	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if attempt > 1 {
			c.metrics.Inc("remote.retries")
			c.logger.Info().
				Str("hostname", hostname).
				Int("attempt", attempt).
				Err(lastErr).
				Msg("connection reset by record source, retrying")
			// Drop pooled connections so the next attempt dials fresh
			c.transport.CloseIdleConnections()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if !isConnectionReset(err) {
			return nil, err
		}
	}

	c.logger.Error().
		Str("hostname", hostname).
		Err(lastErr).
		Msgf("could not fetch records after %d attempts", MaxAttempts)
	return nil, lastErr
}

// Close releases idle connections held by the client
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

// drain consumes a bounded remainder of the body so the connection can be reused, then closes it
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
	_ = body.Close()
}
