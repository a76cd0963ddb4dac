// Package retry provides a bounded retry policy with exponential backoff.
//
// Only transient errors are retried. Validation and conflict errors
// surface immediately, and the attempt budget is a hard cap.
package retry

import (
	"context"
	"log/slog"
	"time"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
)

// Policy describes a bounded retry schedule.
type Policy struct {
	MaxAttempts  int           // total attempts including the first
	InitialDelay time.Duration // delay before the second attempt
	Multiplier   float64       // backoff growth factor
	MaxDelay     time.Duration // cap on any single delay
}

// DefaultPolicy returns the schedule used for networked store calls:
// 4 attempts over roughly 100ms + 200ms + 400ms of backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  4,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     2 * time.Second,
	}
}

// NoRetry returns a policy that runs the call exactly once.
func NoRetry() Policy {
	return Policy{MaxAttempts: 1}
}

// Do runs fn under the policy. The call is retried only when fn returns a
// transient error; any other error, or success, ends the loop. The
// context is honored between attempts.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.InitialDelay

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !sesherr.IsTransient(err) {
			return err
		}
		if attempt >= attempts {
			break
		}

		slog.Warn("transient failure, retrying",
			"op", op, "attempt", attempt, "max", attempts, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
