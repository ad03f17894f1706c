package provision

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"
)

// Sleeper pauses for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry runs an operation up to Attempts times. After failed attempt n
// (0-based) it waits Base^n seconds before the next one; there is no wait
// after the final attempt.
type Retry struct {
	Attempts int
	Base     float64
}

// DefaultRetry is three attempts with waits of 1s and 2s.
func DefaultRetry() Retry {
	return Retry{Attempts: 3, Base: 2}
}

// Backoff returns the wait after failed attempt n.
func (r Retry) Backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(r.Base, float64(attempt)) * float64(time.Second))
}

// Do calls fn until it succeeds, the attempts run out, or ctx is cancelled.
// It returns the number of attempts made. Exhaustion yields a *StepError
// carrying label; cancellation is returned unwrapped and never retried.
func (r Retry) Do(ctx context.Context, sleep Sleeper, label string, fn func(context.Context) error) (int, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	if sleep == nil {
		sleep = SleepContext
	}

	var last error
	for n := 0; n < attempts; n++ {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		last = fn(ctx)
		if last == nil {
			return n + 1, nil
		}
		if isCancellation(ctx, last) {
			return n + 1, last
		}
		if n == attempts-1 {
			break
		}
		wait := r.Backoff(n)
		slog.Warn("retrying", "label", label, "attempt", n+1, "wait", wait, "error", last)
		if err := sleep(ctx, wait); err != nil {
			return n + 1, err
		}
	}

	slog.Error("retries exhausted", "label", label, "attempts", attempts, "error", last)
	return attempts, &StepError{Label: label, Attempts: attempts, Err: last}
}

func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}
