package remote

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/remotebackend/pkg/clock"
	"github.com/cuemby/remotebackend/pkg/metrics"
	"github.com/cuemby/remotebackend/pkg/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBody = `{"ttl":60,"records":[{"type":"A","address":"192.0.2.1"},{"type":"MX","address":"mx.example.com","priority":10}]}`

func newTestClient(t *testing.T, server *httptest.Server, timeout time.Duration) (*Client, *metrics.Memory) {
	t.Helper()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	rec := metrics.NewMemory()
	c, err := New(Config{
		Host:       host,
		Port:       port,
		Username:   "foo",
		Password:   "bar",
		APIVersion: 1,
		Timeout:    timeout,
	}, clock.NewFixed(1234), rec)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return c, rec
}

func TestNewRequiresEndpointAndCredentials(t *testing.T) {
	clk := clock.NewFixed(0)

	_, err := New(Config{Username: "foo", Password: "bar"}, clk, nil)
	assert.Error(t, err)

	_, err = New(Config{Host: "localhost", Port: 8080}, clk, nil)
	assert.Error(t, err)

	_, err = New(Config{Host: "localhost", Port: 8080, Username: "foo", Password: "bar"}, nil, nil)
	assert.Error(t, err)
}

func TestURL(t *testing.T) {
	c, err := New(Config{Host: "localhost", Port: 8080, Username: "foo", Password: "bar", APIVersion: 2}, clock.NewFixed(0), nil)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/fqdn/2/www.example.com", c.URL("www.example.com"))
}

func TestFetchSuccess(t *testing.T) {
	paths := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer server.Close()

	c, rec := newTestClient(t, server, time.Second)

	set, err := c.Fetch(context.Background(), "www.example.com")
	require.NoError(t, err)

	assert.Equal(t, "/fqdn/1/www.example.com", <-paths)
	assert.Equal(t, int64(60), set.TTL)
	assert.Equal(t, int64(1234), set.Timestamp)
	require.Len(t, set.Records, 2)
	assert.Equal(t, records.TypeA, set.Records[0].Type())
	assert.Equal(t, records.MX{Priority: 10, Exchange: "mx.example.com"}, set.Records[1])

	assert.Equal(t, 1, rec.Count("remote.calls"))
	assert.Equal(t, 1, rec.Count("remote.status.200"))
	assert.Equal(t, 1, rec.Count("remote.valid_responses"))
	assert.Equal(t, 1, rec.Observations("remote.fetch"))
}

func TestFetchEmptyHostname(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("record source must not be called")
	}))
	defer server.Close()

	c, _ := newTestClient(t, server, time.Second)

	_, err := c.Fetch(context.Background(), "")
	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestFetchAbsentResponses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
		counter string
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			wantErr: ErrNotFound,
			counter: "remote.absent.bad_status_code",
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(sampleBody))
			},
			wantErr: ErrNotFound,
			counter: "remote.absent.bad_status_code",
		},
		{
			name: "content too long",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Length", strconv.Itoa(MaxResponseSize+1))
				_, _ = w.Write([]byte(strings.Repeat(" ", MaxResponseSize+1)))
			},
			wantErr: ErrNotFound,
			counter: "remote.absent.content_too_long",
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			wantErr: ErrNotFound,
			counter: "remote.absent.empty_body",
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"ttl":`))
			},
			wantErr: ErrBadResponse,
			counter: "remote.absent.decode_error",
		},
		{
			name: "unknown record type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"records":[{"type":"PTR","address":"x"}]}`))
			},
			wantErr: ErrBadResponse,
			counter: "remote.absent.decode_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			c, rec := newTestClient(t, server, time.Second)

			set, err := c.Fetch(context.Background(), "www.example.com")
			assert.Nil(t, set)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 1, rec.Count(tt.counter))
			assert.Zero(t, rec.Count("remote.valid_responses"))
		})
	}
}

func TestFetchUnknownLengthIsRead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		half := len(sampleBody) / 2
		_, _ = w.Write([]byte(sampleBody[:half]))
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte(sampleBody[half:]))
	}))
	defer server.Close()

	c, _ := newTestClient(t, server, time.Second)

	set, err := c.Fetch(context.Background(), "www.example.com")
	require.NoError(t, err)
	assert.Len(t, set.Records, 2)
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, rec := newTestClient(t, server, 50*time.Millisecond)

	start := time.Now()
	_, err := c.Fetch(context.Background(), "slow.example.com")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, rec.Count("remote.absent.timeout"))
	assert.Zero(t, rec.Count("remote.retries"))
}

func TestFetchContextCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, _ := newTestClient(t, server, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx, "slow.example.com")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFetchRetriesConnectionReset(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < MaxAttempts {
			resetConnection(t, w)
			return
		}
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer server.Close()

	c, rec := newTestClient(t, server, time.Second)

	set, err := c.Fetch(context.Background(), "www.example.com")
	require.NoError(t, err)
	assert.Len(t, set.Records, 2)
	assert.Equal(t, int32(MaxAttempts), attempts.Load())
	assert.Equal(t, MaxAttempts-1, rec.Count("remote.retries"))
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		resetConnection(t, w)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server, time.Second)

	_, err := c.Fetch(context.Background(), "www.example.com")
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, int32(MaxAttempts), attempts.Load())
	assert.Equal(t, 1, rec.Count("remote.absent.transport"))
}

// digestParams splits an Authorization: Digest header into its parameters
func digestParams(header string) map[string]string {
	params := make(map[string]string)
	for _, m := range regexp.MustCompile(`(\w+)=(?:"([^"]*)"|([^,\s]*))`).FindAllStringSubmatch(header, -1) {
		params[m[1]] = m[2] + m[3]
	}
	return params
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestFetchDigestChallenge(t *testing.T) {
	const nonce = "dcd98b7102dd2f0e8b11d0f600bfb0c093"

	var (
		mu         sync.Mutex
		auth       string
		challenges int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			mu.Lock()
			challenges++
			mu.Unlock()
			w.Header().Set("WWW-Authenticate",
				`Digest realm="records", nonce="`+nonce+`", qop="auth", algorithm=MD5, opaque="5ccc069c403ebaf9f0171e9517f40e41"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		auth = header
		mu.Unlock()
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer server.Close()

	c, rec := newTestClient(t, server, time.Second)

	set, err := c.Fetch(context.Background(), "www.example.com")
	require.NoError(t, err)
	assert.Len(t, set.Records, 2)
	assert.Equal(t, 1, rec.Count("remote.valid_responses"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, challenges)
	require.True(t, strings.HasPrefix(auth, "Digest "), auth)

	params := digestParams(auth)
	assert.Equal(t, "foo", params["username"])
	assert.Equal(t, "records", params["realm"])
	assert.Equal(t, nonce, params["nonce"])
	assert.Equal(t, "/fqdn/1/www.example.com", params["uri"])
	assert.Equal(t, "auth", params["qop"])
	require.NotEmpty(t, params["cnonce"])
	require.NotEmpty(t, params["nc"])

	ha1 := md5Hex("foo:records:bar")
	ha2 := md5Hex("GET:/fqdn/1/www.example.com")
	want := md5Hex(strings.Join([]string{ha1, nonce, params["nc"], params["cnonce"], "auth", ha2}, ":"))
	assert.Equal(t, want, params["response"])
}

func TestInvocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer server.Close()

	c, _ := newTestClient(t, server, time.Second)

	inv := NewInvocation(c)
	_, err := inv.Run(context.Background())
	assert.ErrorIs(t, err, ErrIllegalState)

	set, err := inv.SetHostname("www.example.com").Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "www.example.com", inv.Hostname())
	assert.Len(t, set.Records, 2)
}

// resetConnection drops the client connection without writing a response
func resetConnection(t *testing.T, w http.ResponseWriter) {
	t.Helper()

	conn, _, err := w.(http.Hijacker).Hijack()
	if err != nil {
		t.Errorf("hijack: %v", err)
		return
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0)
	}
	_ = conn.Close()
}
