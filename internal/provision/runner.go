package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/powerone/internal/canonical"
	"github.com/roach88/powerone/internal/store"
)

// Ledger is the subset of *store.Store the runner needs.
type Ledger interface {
	Lookup(ctx context.Context, scope, kind, key string) (store.Entity, error)
	Record(ctx context.Context, e store.Entity) error
}

// Runner executes phases sequentially.
type Runner struct {
	// IDs receives every GUID produced by a keyed step. Required.
	IDs *IDMap

	Retry Retry

	// Sleep is used for retry backoff and pauses. Defaults to SleepContext.
	Sleep Sleeper

	// Pace scales every step's Pause. Zero disables pauses.
	Pace float64

	// Ledger is optional. When set, keyed steps are recorded under Scope
	// and RunID.
	Ledger Ledger
	Scope  string
	RunID  string

	// Resume skips keyed steps already in the ledger with an equal payload hash.
	Resume bool

	// Out receives progress lines. Defaults to io.Discard.
	Out io.Writer
}

// PhaseSummary counts step outcomes for one phase.
type PhaseSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Executed int    `json:"executed"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
}

// Summary is the result of a run. On error it covers the phases reached.
type Summary struct {
	Phases []PhaseSummary `json:"phases"`
}

// Totals sums the per-phase counts.
func (s Summary) Totals() (executed, skipped, failed int) {
	for _, p := range s.Phases {
		executed += p.Executed
		skipped += p.Skipped
		failed += p.Failed
	}
	return executed, skipped, failed
}

// Run executes phases in the given order. It stops at the first step whose
// retries are exhausted, at an unresolved reference, or on cancellation.
func (r *Runner) Run(ctx context.Context, phases []Phase) (Summary, error) {
	if r.IDs == nil {
		return Summary{}, errors.New("runner: nil id map")
	}
	if r.Sleep == nil {
		r.Sleep = SleepContext
	}
	if r.Out == nil {
		r.Out = io.Discard
	}

	var summary Summary
	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		fmt.Fprintf(r.Out, "\n=== Phase %s: %s ===\n", phase.ID, phase.Title)
		slog.Info("phase started", "phase", phase.ID, "title", phase.Title)

		steps := phase.Steps
		if phase.Expand != nil {
			expanded, err := phase.Expand(ctx)
			if err != nil {
				return summary, fmt.Errorf("phase %s: expand steps: %w", phase.ID, err)
			}
			steps = expanded
		}

		ps := PhaseSummary{ID: phase.ID, Title: phase.Title}
		err := r.runPhase(ctx, phase, steps, &ps)
		summary.Phases = append(summary.Phases, ps)
		if err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (r *Runner) runPhase(ctx context.Context, phase Phase, steps []Step, ps *PhaseSummary) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		hash, err := payloadHash(step)
		if err != nil {
			return fmt.Errorf("phase %s: %s: %w", phase.ID, step.Label, err)
		}

		skipped, err := r.tryResume(ctx, step, hash)
		if err != nil {
			return fmt.Errorf("phase %s: %s: %w", phase.ID, step.Label, err)
		}
		if skipped {
			ps.Skipped++
			fmt.Fprintf(r.Out, "  = %s (already provisioned)\n", step.Label)
			continue
		}

		guid, err := r.execute(ctx, step)
		if errors.Is(err, ErrAlreadyExists) {
			if err := r.bind(ctx, step, guid, hash); err != nil {
				return fmt.Errorf("phase %s: %s: %w", phase.ID, step.Label, err)
			}
			ps.Skipped++
			fmt.Fprintf(r.Out, "  = %s (already exists)\n", step.Label)
			if err := r.pause(ctx, step); err != nil {
				return err
			}
			continue
		}
		if errors.Is(err, ErrAbsent) {
			ps.Skipped++
			fmt.Fprintf(r.Out, "  = %s (not found)\n", step.Label)
			if err := r.pause(ctx, step); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			var se *StepError
			if errors.As(err, &se) {
				se.Phase = phase.ID
			}
			if step.BestEffort && ctx.Err() == nil {
				ps.Failed++
				fmt.Fprintf(r.Out, "  - Skip %s (may not exist): %v\n", step.Label, err)
				slog.Warn("best-effort step failed", "phase", phase.ID, "label", step.Label, "error", err)
				if err := r.pause(ctx, step); err != nil {
					return err
				}
				continue
			}
			return err
		}

		if err := r.bind(ctx, step, guid, hash); err != nil {
			return fmt.Errorf("phase %s: %s: %w", phase.ID, step.Label, err)
		}

		ps.Executed++
		if guid != "" {
			fmt.Fprintf(r.Out, "  + %s (%s)\n", step.Label, guid)
		} else {
			fmt.Fprintf(r.Out, "  + %s\n", step.Label)
		}

		if err := r.pause(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// execute runs the step under the retry policy. Unresolved references,
// ErrAlreadyExists and ErrAbsent are returned immediately; retrying cannot
// change them.
func (r *Runner) execute(ctx context.Context, step Step) (string, error) {
	var guid string
	fn := func(ctx context.Context) error {
		g, err := step.Do(ctx)
		guid = g
		return err
	}

	if step.BestEffort {
		err := fn(ctx)
		return guid, err
	}

	var final error
	guarded := func(ctx context.Context) error {
		err := fn(ctx)
		if IsUnresolvedReference(err) || errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrAbsent) {
			final = err
			return nil
		}
		return err
	}
	if _, err := r.Retry.Do(ctx, r.Sleep, step.Label, guarded); err != nil {
		return "", err
	}
	if final != nil && IsUnresolvedReference(final) {
		return "", final
	}
	return guid, final
}

func (r *Runner) tryResume(ctx context.Context, step Step, hash string) (bool, error) {
	if !r.Resume || r.Ledger == nil || step.Key == "" {
		return false, nil
	}
	e, err := r.Ledger.Lookup(ctx, r.Scope, step.Kind, step.Key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if e.PayloadHash != hash {
		slog.Info("payload changed since last run", "kind", step.Kind, "key", step.Key)
		return false, nil
	}
	if e.GUID != "" {
		if err := r.IDs.Set(step.Key, e.GUID); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *Runner) bind(ctx context.Context, step Step, guid, hash string) error {
	if step.Key == "" {
		return nil
	}
	if guid != "" {
		if err := r.IDs.Set(step.Key, guid); err != nil {
			return err
		}
	}
	if r.Ledger == nil {
		return nil
	}
	return r.Ledger.Record(ctx, store.Entity{
		Scope:       r.Scope,
		Kind:        step.Kind,
		Key:         step.Key,
		GUID:        guid,
		PayloadHash: hash,
		RunID:       r.RunID,
	})
}

func (r *Runner) pause(ctx context.Context, step Step) error {
	if step.Pause <= 0 || r.Pace <= 0 {
		return nil
	}
	d := time.Duration(float64(step.Pause) * r.Pace)
	return r.Sleep(ctx, d)
}

func payloadHash(step Step) (string, error) {
	if step.Payload == nil {
		return "", nil
	}
	return canonical.PayloadHash(step.Payload)
}
