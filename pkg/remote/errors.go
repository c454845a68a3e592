package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

var (
	// ErrIllegalState is returned when a fetch is attempted without a hostname
	ErrIllegalState = errors.New("hostname has not been set")

	// ErrNotFound means the record source has no usable answer for the hostname
	ErrNotFound = errors.New("no record")

	// ErrBadResponse means the body could not be decoded into a record set
	ErrBadResponse = errors.New("bad response from record source")

	// ErrTimeout means the fetch deadline expired
	ErrTimeout = errors.New("record source fetch timed out")

	// ErrTransport means the HTTP exchange failed below the HTTP layer
	ErrTransport = errors.New("record source transport error")
)

// isConnectionReset reports the one transport failure worth retrying: the
// record source dropping a pooled connection before any response arrived.
// Timeouts, cancellations and HTTP-level failures are never retried.
func isConnectionReset(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return false
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
