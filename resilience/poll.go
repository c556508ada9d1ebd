// Package resilience provides deadline-bounded polling and retry helpers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a poll does not succeed before its deadline.
var ErrTimeout = errors.New("poll timed out")

// Condition reports whether the awaited state was reached. A returned error is
// remembered and reported on timeout but does not stop polling.
type Condition func(ctx context.Context) (bool, error)

// Poller checks a condition at a fixed interval until it holds or the timeout expires.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration
}

// NewPoller creates a poller.
func NewPoller(interval, timeout time.Duration) *Poller {
	return &Poller{Interval: interval, Timeout: timeout}
}

// Until polls cond, checking it once immediately. It returns nil once cond holds,
// an error wrapping ErrTimeout when the deadline passes, or the context error if
// ctx is cancelled first.
func (p *Poller) Until(ctx context.Context, cond Condition) error {
	deadline := time.NewTimer(p.Timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := cond(ctx)
		if ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if lastErr != nil {
				return fmt.Errorf("%w after %v: %v", ErrTimeout, p.Timeout, lastErr)
			}
			return fmt.Errorf("%w after %v", ErrTimeout, p.Timeout)
		case <-ticker.C:
		}
	}
}
