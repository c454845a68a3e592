package metrics

import (
	"sync"
	"time"
)

// Sizer reports the current size of an observed component
type Sizer interface {
	Len() int
}

// SizeFunc adapts a function to Sizer
type SizeFunc func() int

func (f SizeFunc) Len() int { return f() }

// Collector periodically samples component sizes into gauges
type Collector struct {
	metrics  *Prometheus
	cache    Sizer
	inflight Sizer
	conns    Sizer
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new metrics collector. Any sizer may be nil.
func NewCollector(p *Prometheus, cache, inflight, conns Sizer, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		metrics:  p,
		cache:    cache,
		inflight: inflight,
		conns:    conns,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *Collector) collect() {
	if c.cache != nil {
		c.metrics.CacheEntries.Set(float64(c.cache.Len()))
	}
	if c.inflight != nil {
		c.metrics.InFlight.Set(float64(c.inflight.Len()))
	}
	if c.conns != nil {
		c.metrics.Connections.Set(float64(c.conns.Len()))
	}
}
