package health

import (
	"context"
	"time"
)

// Result is one probe outcome
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes a single dependency
type Checker interface {
	Check(ctx context.Context) Result
}

// Config controls how often a Monitor probes and how it decides health.
// A dependency flips to unhealthy only after Retries failed probes in a row;
// one success flips it back.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// DefaultConfig probes every 10s with a 2s budget and tolerates two misses
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
		Timeout:  2 * time.Second,
		Retries:  3,
	}
}

// Status is the running verdict for one probed dependency
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// Update folds result into s and reports whether Healthy changed
func (s *Status) Update(result Result, config Config) bool {
	before := s.Healthy
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= config.Retries {
			s.Healthy = false
		}
	}
	return s.Healthy != before
}
