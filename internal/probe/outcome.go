package probe

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// ErrorKind classifies why a probe failed. Empty on success.
type ErrorKind string

const (
	ErrorTimeout           ErrorKind = "timeout"
	ErrorConnectionRefused ErrorKind = "connection_refused"
	ErrorProtocol          ErrorKind = "protocol_error"
	ErrorUnknown           ErrorKind = "unknown"
)

// Outcome is the result of a single probe execution. A Prober always
// returns an Outcome; it never surfaces an error to its caller.
type Outcome struct {
	TargetID  string
	Success   bool
	Latency   time.Duration
	ErrorKind ErrorKind
	Detail    string
	ProbedAt  time.Time
}

// classify maps a network-level error to an ErrorKind.
func classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrorConnectionRefused
	}
	return ErrorUnknown
}

// capLatency bounds a measured latency at the target's timeout so that a
// timed-out probe never reports more elapsed time than the budget it had.
func capLatency(elapsed, timeout time.Duration) time.Duration {
	if timeout > 0 && elapsed > timeout {
		return timeout
	}
	return elapsed
}
