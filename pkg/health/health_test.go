package health

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/remotebackend/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusUpdate(t *testing.T) {
	cfg := Config{Retries: 2}
	s := &Status{}

	assert.True(t, s.Update(Result{Healthy: true, Message: "ok"}, cfg))
	assert.True(t, s.Healthy)
	assert.Equal(t, 1, s.ConsecutiveSuccesses)

	// One failure is tolerated
	assert.False(t, s.Update(Result{Healthy: false, Message: "refused"}, cfg))
	assert.True(t, s.Healthy)
	assert.Equal(t, 1, s.ConsecutiveFailures)
	assert.Zero(t, s.ConsecutiveSuccesses)

	assert.True(t, s.Update(Result{Healthy: false, Message: "refused"}, cfg))
	assert.False(t, s.Healthy)
	assert.Equal(t, "refused", s.LastResult.Message)

	assert.True(t, s.Update(Result{Healthy: true}, cfg))
	assert.True(t, s.Healthy)
	assert.Zero(t, s.ConsecutiveFailures)
}

func TestTCPCheckerHealthy(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	result := NewTCPChecker(l.Addr().String()).Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
	assert.False(t, result.CheckedAt.IsZero())
}

func TestTCPCheckerUnhealthy(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	result := NewTCPChecker(addr).WithTimeout(time.Second).Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "unreachable")
}

type flipChecker struct {
	healthy atomic.Bool
	calls   atomic.Int32
}

func (f *flipChecker) Check(context.Context) Result {
	f.calls.Add(1)
	if f.healthy.Load() {
		return Result{Healthy: true, Message: "ok", CheckedAt: time.Now()}
	}
	return Result{Healthy: false, Message: "down", CheckedAt: time.Now()}
}

func TestMonitorReportsComponent(t *testing.T) {
	checker := &flipChecker{}
	checker.healthy.Store(true)

	hc := metrics.NewHealthChecker("test", metrics.ComponentRemote)
	m := NewMonitor(checker, Config{Interval: 10 * time.Millisecond, Timeout: time.Second, Retries: 2}, hc, metrics.ComponentRemote)
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		return hc.Readiness().Status == "ready"
	}, time.Second, 5*time.Millisecond)

	checker.healthy.Store(false)
	require.Eventually(t, func() bool {
		return hc.Readiness().Status == "not_ready"
	}, time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, m.Status().ConsecutiveFailures, 2)
}

func TestMonitorStop(t *testing.T) {
	checker := &flipChecker{}
	m := NewMonitor(checker, Config{Interval: 5 * time.Millisecond}, nil, metrics.ComponentRemote)

	// Stop before Start does not block
	m.Stop()

	m = NewMonitor(checker, Config{Interval: 5 * time.Millisecond}, nil, metrics.ComponentRemote)
	m.Start()
	require.Eventually(t, func() bool { return checker.calls.Load() > 0 }, time.Second, time.Millisecond)
	m.Stop()

	calls := checker.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, checker.calls.Load())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Positive(t, cfg.Interval)
	assert.Positive(t, cfg.Timeout)
	assert.Positive(t, cfg.Retries)
}
