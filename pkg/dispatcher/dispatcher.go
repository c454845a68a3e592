package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/remotebackend/pkg/log"
	"github.com/cuemby/remotebackend/pkg/metrics"
	"github.com/cuemby/remotebackend/pkg/records"
	"github.com/cuemby/remotebackend/pkg/remote"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config sizes the dispatcher
type Config struct {
	// Workers bounds concurrent fetches against the record source
	Workers int

	// QueueSize bounds callers waiting for a free worker. Zero means no waiting.
	QueueSize int

	// QPS caps fetches started per second. Zero disables the limit.
	QPS float64

	// Burst is the limiter bucket size, defaults to Workers
	Burst int
}

// Dispatcher runs record source fetches on a bounded pool and waits for
// each one up to a caller-supplied deadline. Every failure collapses to
// an absent result.
type Dispatcher struct {
	fetcher   remote.Fetcher
	slots     *semaphore.Weighted
	queueSize int64
	limiter   *rate.Limiter

	waiting  atomic.Int64
	inflight atomic.Int64

	mu      sync.Mutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	metrics metrics.Recorder
	logger  zerolog.Logger
}

type result struct {
	set *records.RecordSet
	err error
}

// New creates a dispatcher over fetcher
func New(cfg Config, fetcher remote.Fetcher, rec metrics.Recorder) (*Dispatcher, error) {
	if fetcher == nil {
		return nil, errors.New("dispatcher: fetcher is required")
	}
	if cfg.Workers <= 0 {
		return nil, errors.New("dispatcher: workers must be positive")
	}
	if cfg.QueueSize < 0 {
		return nil, errors.New("dispatcher: queue size must not be negative")
	}
	if rec == nil {
		rec = metrics.Nop{}
	}

	var limiter *rate.Limiter
	if cfg.QPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.Workers
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		fetcher:   fetcher,
		slots:     semaphore.NewWeighted(int64(cfg.Workers)),
		queueSize: int64(cfg.QueueSize),
		limiter:   limiter,
		ctx:       ctx,
		cancel:    cancel,
		metrics:   rec,
		logger:    log.WithComponent("dispatcher"),
	}, nil
}

// Resolve fetches hostname, waiting at most deadline for the result.
// A non-positive deadline waits until ctx is done. The bool is false on
// any failure: timeout, saturation, shutdown or a record source error.
func (d *Dispatcher) Resolve(ctx context.Context, hostname string, deadline time.Duration) (*records.RecordSet, bool) {
	if d.isStopped() {
		d.metrics.Inc("dispatcher.stopped")
		return nil, false
	}
	d.metrics.Inc("dispatcher.submitted")

	timer := metrics.NewTimer()
	defer timer.Record(d.metrics, "dispatcher.wait")

	var (
		fetchCtx context.Context
		cancel   context.CancelFunc
	)
	if deadline > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, deadline)
	} else {
		fetchCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Stop cancels everything still queued or running
	unlink := context.AfterFunc(d.ctx, cancel)
	defer unlink()

	if !d.acquire(fetchCtx) {
		return nil, false
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(fetchCtx); err != nil {
			d.slots.Release(1)
			d.absent(hostname, "rate_limited", err)
			return nil, false
		}
	}

	if !d.track() {
		d.slots.Release(1)
		d.metrics.Inc("dispatcher.stopped")
		d.absent(hostname, "stopped", nil)
		return nil, false
	}

	done := make(chan result, 1)
	d.inflight.Add(1)
	go func() {
		// The slot is held until the fetch returns, even if the caller gave up
		defer d.wg.Done()
		defer d.inflight.Add(-1)
		defer d.slots.Release(1)

		set, err := remote.NewInvocation(d.fetcher).SetHostname(hostname).Run(fetchCtx)
		done <- result{set: set, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil || res.set == nil {
			d.absent(hostname, "fetch_failed", res.err)
			return nil, false
		}
		d.metrics.Inc("dispatcher.completed")
		return res.set, true

	case <-fetchCtx.Done():
		cancel()
		d.metrics.Inc("dispatcher.timeouts")
		d.absent(hostname, "timeout", fetchCtx.Err())
		return nil, false
	}
}

// acquire takes a worker slot, queueing behind busy workers while the queue has room
func (d *Dispatcher) acquire(ctx context.Context) bool {
	if d.slots.TryAcquire(1) {
		return true
	}

	if d.waiting.Add(1) > d.queueSize {
		d.waiting.Add(-1)
		d.metrics.Inc("dispatcher.saturated")
		d.logger.Warn().Int64("queue_size", d.queueSize).Msg("dispatcher saturated, answering negatively")
		d.metrics.Inc("dispatcher.absent")
		return false
	}
	defer d.waiting.Add(-1)

	if err := d.slots.Acquire(ctx, 1); err != nil {
		d.metrics.Inc("dispatcher.timeouts")
		d.metrics.Inc("dispatcher.absent")
		d.logger.Debug().Err(err).Msg("gave up waiting for a worker")
		return false
	}
	return true
}

// track registers a worker goroutine unless the dispatcher is stopping
func (d *Dispatcher) track() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	d.wg.Add(1)
	return true
}

func (d *Dispatcher) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

func (d *Dispatcher) absent(hostname, reason string, err error) {
	d.metrics.Inc("dispatcher.absent")
	event := d.logger.Debug().Str("hostname", hostname).Str("reason", reason)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("resolution absent")
}

// InFlight returns the number of fetches currently holding a worker slot
func (d *Dispatcher) InFlight() int {
	return int(d.inflight.Load())
}

// Waiting returns the number of callers queued for a worker slot
func (d *Dispatcher) Waiting() int {
	return int(d.waiting.Load())
}

// Stop cancels queued and running fetches and waits for their workers to exit.
// Resolve answers absent once Stop has been called.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	d.logger.Info().Msg("dispatcher stopped")
}
