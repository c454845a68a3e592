package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPeriod is how often the cached timestamp is refreshed
const DefaultPeriod = time.Second

// Source returns the current time in milliseconds since the epoch
type Source interface {
	Now() int64
}

// Clock is a coarse millisecond clock refreshed by a single background goroutine.
// Readers never take a lock.
type Clock struct {
	now    atomic.Int64
	period time.Duration
	wall   func() time.Time

	startOnce sync.Once
	started   atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates a clock that refreshes every period. A non-positive period uses DefaultPeriod.
func New(period time.Duration) *Clock {
	if period <= 0 {
		period = DefaultPeriod
	}

	c := &Clock{
		period: period,
		wall:   time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	c.now.Store(c.wall().UnixMilli())
	return c
}

// Start begins refreshing the cached timestamp. Calling Start more than once is a no-op.
func (c *Clock) Start() {
	c.startOnce.Do(func() {
		c.started.Store(true)
		go c.run()
	})
}

// Stop halts the updater and waits for it to exit
func (c *Clock) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})

	// A stopped clock cannot be started afterwards
	c.startOnce.Do(func() {})
	if c.started.Load() {
		<-c.doneCh
	}
}

// Now returns the cached timestamp in milliseconds
func (c *Clock) Now() int64 {
	return c.now.Load()
}

func (c *Clock) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.refresh()
		case <-c.stopCh:
			return
		}
	}
}

// refresh never moves the cached time backwards
func (c *Clock) refresh() {
	next := c.wall().UnixMilli()
	for {
		cur := c.now.Load()
		if next <= cur {
			return
		}
		if c.now.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Fixed is a manually advanced Source for tests
type Fixed struct {
	ms atomic.Int64
}

// NewFixed returns a Fixed clock set to ms
func NewFixed(ms int64) *Fixed {
	f := &Fixed{}
	f.ms.Store(ms)
	return f
}

// Now returns the current fixed time
func (f *Fixed) Now() int64 {
	return f.ms.Load()
}

// Set moves the clock to ms
func (f *Fixed) Set(ms int64) {
	f.ms.Store(ms)
}

// Advance moves the clock forward by d
func (f *Fixed) Advance(d time.Duration) {
	f.ms.Add(d.Milliseconds())
}
