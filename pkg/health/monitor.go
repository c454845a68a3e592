package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/remotebackend/pkg/log"
	"github.com/cuemby/remotebackend/pkg/metrics"
	"github.com/rs/zerolog"
)

// Monitor runs a Checker periodically and reports it as one component
type Monitor struct {
	checker   Checker
	config    Config
	reporter  *metrics.HealthChecker
	component string
	logger    zerolog.Logger

	mu     sync.Mutex
	status Status

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	started   bool
	stopOnce  sync.Once
}

// NewMonitor creates a monitor reporting checker's outcome under component
func NewMonitor(checker Checker, config Config, reporter *metrics.HealthChecker, component string) *Monitor {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Retries <= 0 {
		config.Retries = def.Retries
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		checker:   checker,
		config:    config,
		reporter:  reporter,
		component: component,
		logger:    log.WithComponent("health").With().Str("target", component).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start runs the first check immediately, then one per interval
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.started = true
		m.mu.Unlock()
		go m.healthCheckLoop()
	})
}

// Stop stops the monitor and waits for the running check to finish
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()

		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		if started {
			<-m.done
		}
	})
}

// Status returns a copy of the current status
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) healthCheckLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.runHealthCheck()

	for {
		select {
		case <-ticker.C:
			m.runHealthCheck()
		case <-m.ctx.Done():
			return
		}
	}
}

// runHealthCheck performs a single health check and reports the result
func (m *Monitor) runHealthCheck() {
	checkCtx, cancel := context.WithTimeout(m.ctx, m.config.Timeout)
	defer cancel()

	result := m.checker.Check(checkCtx)
	if m.ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	changed := m.status.Update(result, m.config)
	status := m.status
	m.mu.Unlock()

	if changed {
		event := m.logger.Info()
		if !status.Healthy {
			event = m.logger.Warn()
		}
		event.Bool("healthy", status.Healthy).
			Int("consecutive_failures", status.ConsecutiveFailures).
			Msg(result.Message)
	}

	m.report(status)
}

func (m *Monitor) report(status Status) {
	if m.reporter == nil {
		return
	}
	// Before the first success the component stays unhealthy
	m.reporter.Set(m.component, status.Healthy, status.LastResult.Message)
}
