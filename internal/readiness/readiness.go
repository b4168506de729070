// Package readiness provides a bounded poll-until-ready primitive.
//
// Every wait in a bootstrap run goes through [Wait]: host reachability after
// reboot, the control plane readiness endpoint, and the kubelet Ready
// condition. A wait never outlives its timeout and is cancellable through
// the context.
package readiness

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Predicate observes a condition. It must not have side effects beyond the
// observation itself; it is called repeatedly until it reports true.
type Predicate func(ctx context.Context) bool

// Check configures one wait: how often to probe and how long to keep trying.
type Check struct {
	Interval time.Duration
	Timeout  time.Duration
}

// TimeoutError is returned when the condition did not become true in time.
type TimeoutError struct {
	What    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for %s", e.Timeout, e.What)
}

// Wait evaluates the predicate until it reports true, the timeout elapses,
// or the context is cancelled. The predicate is probed once immediately and
// then once per interval. On timeout a *TimeoutError naming the condition is
// returned; on external cancellation the context error is returned.
func Wait(ctx context.Context, what string, check Check, pred Predicate) error {
	waitCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	if pred(waitCtx) {
		return nil
	}

	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TimeoutError{What: what, Timeout: check.Timeout}
		case <-ticker.C:
			if pred(waitCtx) {
				return nil
			}
		}
	}
}

// TCPPort returns a predicate that reports true once a TCP connection to
// host:port succeeds. Used for host reachability after reboot.
func TCPPort(host string, port int) Predicate {
	address := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: 2 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}
