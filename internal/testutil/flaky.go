package testutil

import (
	"context"
	"sync"
)

// Flaky fails a fixed number of times before succeeding.
//
// Calls counts every invocation, successful or not.
type Flaky struct {
	mu       sync.Mutex
	failures int
	err      error
	result   string
	calls    int
}

// NewFlaky returns a Flaky that returns err for the first n calls and then
// result with a nil error.
func NewFlaky(n int, err error, result string) *Flaky {
	return &Flaky{failures: n, err: err, result: result}
}

// Do matches the signature of provision.Step.Do.
func (f *Flaky) Do(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return f.result, nil
}

// Calls returns the number of invocations so far.
func (f *Flaky) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
