package testutil

import (
	"context"
	"sync"
	"time"
)

// Sleeper records requested pauses instead of sleeping.
//
// Pass s.Sleep wherever a provision.Sleeper is expected. Like the real
// sleeper it returns ctx.Err() when the context is already done.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Sleeper struct {
	mu    sync.Mutex
	waits []time.Duration

	// OnSleep, if set, is called with each requested duration before
	// returning. Tests use it to cancel a context mid-run.
	OnSleep func(d time.Duration)
}

// Sleep records d.
func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.waits = append(s.waits, d)
	hook := s.OnSleep
	s.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	return ctx.Err()
}

// Waits returns a copy of the recorded durations in call order.
func (s *Sleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// Total returns the sum of recorded durations.
func (s *Sleeper) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, d := range s.waits {
		total += d
	}
	return total
}

// Reset clears the recorded durations.
func (s *Sleeper) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = nil
}
