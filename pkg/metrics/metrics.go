package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the counter/timer sink used by every component.
// Names are dotted event paths such as "engine.replies.negative".
type Recorder interface {
	Inc(name string)
	Observe(name string, d time.Duration)
}

// Nop discards everything
type Nop struct{}

func (Nop) Inc(string) {}

func (Nop) Observe(string, time.Duration) {}

// Prometheus exposes recorded events on its own registry
type Prometheus struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec

	CacheEntries prometheus.Gauge
	InFlight     prometheus.Gauge
	Connections  prometheus.Gauge
}

// NewPrometheus creates a recorder with a private registry that also carries
// the Go runtime and process collectors
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotebackend_events_total",
				Help: "Total number of events by name",
			},
			[]string{"event"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "remotebackend_duration_seconds",
				Help:    "Duration of timed operations in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "remotebackend_cache_entries",
				Help: "Number of record sets held in the cache",
			},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "remotebackend_fetches_in_flight",
				Help: "Number of record source fetches holding a worker slot",
			},
		),
		Connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "remotebackend_connections_open",
				Help: "Number of open DNS server connections",
			},
		),
	}

	p.registry.MustRegister(
		p.events,
		p.duration,
		p.CacheEntries,
		p.InFlight,
		p.Connections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Inc increments the counter for name
func (p *Prometheus) Inc(name string) {
	p.events.WithLabelValues(name).Inc()
}

// Observe records d under name
func (p *Prometheus) Observe(name string, d time.Duration) {
	p.duration.WithLabelValues(name).Observe(d.Seconds())
}

// Handler returns the Prometheus HTTP handler for this recorder
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Memory keeps counts in memory. It is safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	counts    map[string]int
	durations map[string][]time.Duration
}

// NewMemory creates an empty in-memory recorder
func NewMemory() *Memory {
	return &Memory{
		counts:    make(map[string]int),
		durations: make(map[string][]time.Duration),
	}
}

func (m *Memory) Inc(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
}

func (m *Memory) Observe(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[name] = append(m.durations[name], d)
}

// Count returns how many times name was incremented
func (m *Memory) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

// Observations returns how many durations were recorded under name
func (m *Memory) Observations(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.durations[name])
}
