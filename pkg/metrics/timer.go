package metrics

import "time"

// Timer measures the duration of one operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Record reports the elapsed time to a Recorder under name
func (t *Timer) Record(r Recorder, name string) {
	r.Observe(name, t.Duration())
}
