package health

import (
	"context"
	"net"
	"time"
)

const defaultDialTimeout = 5 * time.Second

// TCPChecker probes the record source by opening and closing a TCP
// connection. Success only means the port accepts connections; digest
// credentials and per-host lookups are exercised by real traffic.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: defaultDialTimeout}
}

// WithTimeout overrides the dial timeout; zero restores the default
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}

func (t *TCPChecker) Check(ctx context.Context) Result {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	start := time.Now()
	conn, err := (&net.Dialer{Timeout: timeout}).DialContext(ctx, "tcp", t.Address)
	result := Result{CheckedAt: start, Duration: time.Since(start)}
	if err != nil {
		result.Message = "record source unreachable: " + err.Error()
		return result
	}
	_ = conn.Close()

	result.Healthy = true
	result.Message = "record source reachable at " + t.Address
	return result
}
