package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/powerone/internal/store"
	"github.com/roach88/powerone/internal/testutil"
)

const scope = "https://org.crm.dynamics.com|po"

func openLedger(t *testing.T, runIDs ...string) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	for _, id := range runIDs {
		require.NoError(t, st.BeginRun(context.Background(), store.Run{ID: id, Flow: "seed", Mode: "apply"}))
	}
	return st
}

// recorder builds steps that append their key to a shared call log.
type recorder struct {
	calls []string
}

func (r *recorder) step(kind, key string, guid string) Step {
	return Step{
		Kind:    kind,
		Key:     key,
		Label:   "Create " + key,
		Payload: map[string]any{"name": key},
		Pause:   300 * time.Millisecond,
		Do: func(context.Context) (string, error) {
			r.calls = append(r.calls, key)
			return guid, nil
		},
	}
}

func TestRunner_PhaseOrderAndIDs(t *testing.T) {
	rec := &recorder{}
	var s testutil.Sleeper
	var out bytes.Buffer
	ids := NewIDMap()

	phases := []Phase{
		{ID: "1", Title: "Sprints", Steps: []Step{
			rec.step("record", "sprint-a", "g-a"),
			rec.step("record", "sprint-b", "g-b"),
		}},
		{ID: "2", Title: "Objectives", Steps: []Step{{
			Kind: "record", Key: "obj-1", Label: "Create obj-1",
			Do: func(context.Context) (string, error) {
				parent, err := ids.Get("sprint-b")
				if err != nil {
					return "", err
				}
				rec.calls = append(rec.calls, "obj-1->"+parent)
				return "g-obj", nil
			},
		}}},
	}

	r := &Runner{IDs: ids, Retry: DefaultRetry(), Sleep: s.Sleep, Pace: 1, Out: &out}
	summary, err := r.Run(context.Background(), phases)
	require.NoError(t, err)

	assert.Equal(t, []string{"sprint-a", "sprint-b", "obj-1->g-b"}, rec.calls)
	assert.Equal(t, 3, ids.Len())
	executed, skipped, failed := summary.Totals()
	assert.Equal(t, 3, executed)
	assert.Zero(t, skipped)
	assert.Zero(t, failed)
	require.Len(t, summary.Phases, 2)
	assert.Equal(t, 2, summary.Phases[0].Executed)

	// The objective step has no pause.
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 300 * time.Millisecond}, s.Waits())

	assert.Contains(t, out.String(), "=== Phase 1: Sprints ===")
	assert.Contains(t, out.String(), "+ Create sprint-a (g-a)")
}

func TestRunner_PaceScalesPauses(t *testing.T) {
	rec := &recorder{}
	var s testutil.Sleeper

	r := &Runner{IDs: NewIDMap(), Retry: DefaultRetry(), Sleep: s.Sleep, Pace: 0.5}
	_, err := r.Run(context.Background(), []Phase{{ID: "1", Steps: []Step{rec.step("record", "a", "g")}}})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{150 * time.Millisecond}, s.Waits())

	s.Reset()
	r = &Runner{IDs: NewIDMap(), Retry: DefaultRetry(), Sleep: s.Sleep, Pace: 0}
	_, err = r.Run(context.Background(), []Phase{{ID: "1", Steps: []Step{rec.step("record", "a", "g")}}})
	require.NoError(t, err)
	assert.Empty(t, s.Waits())
}

func TestRunner_AbortsOnExhaustedStep(t *testing.T) {
	rec := &recorder{}
	var s testutil.Sleeper
	flaky := testutil.NewFlaky(5, errors.New("500 internal"), "")

	phases := []Phase{
		{ID: "1", Title: "Tables", Steps: []Step{
			rec.step("table", "sprint", "g1"),
			{Kind: "table", Key: "orgunit", Label: "Create orgunit", Do: flaky.Do},
			rec.step("table", "never", "g3"),
		}},
		{ID: "2", Title: "Later", Steps: []Step{rec.step("table", "later", "g4")}},
	}

	r := &Runner{IDs: NewIDMap(), Retry: DefaultRetry(), Sleep: s.Sleep}
	summary, err := r.Run(context.Background(), phases)
	require.Error(t, err)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "1", se.Phase)
	assert.Equal(t, "Create orgunit", se.Label)
	assert.Equal(t, 3, flaky.Calls())
	assert.Equal(t, []string{"sprint"}, rec.calls)
	require.Len(t, summary.Phases, 1)
	assert.Equal(t, 1, summary.Phases[0].Executed)
}

func TestRunner_UnresolvedReferenceNotRetried(t *testing.T) {
	calls := 0
	ids := NewIDMap()
	phases := []Phase{{ID: "3", Steps: []Step{{
		Kind: "record", Key: "obj", Label: "Create obj",
		Do: func(context.Context) (string, error) {
			calls++
			_, err := ids.Get("ou-missing")
			return "", err
		},
	}}}}

	var s testutil.Sleeper
	r := &Runner{IDs: ids, Retry: DefaultRetry(), Sleep: s.Sleep}
	_, err := r.Run(context.Background(), phases)
	assert.ErrorIs(t, err, ErrUnresolvedReference)
	assert.False(t, IsRetryExhausted(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.Waits())
}

func TestRunner_AlreadyExistsSkips(t *testing.T) {
	calls := 0
	ids := NewIDMap()
	var out bytes.Buffer
	phases := []Phase{{ID: "R", Title: "Roles", Steps: []Step{{
		Kind: "role", Key: "role:PowerOne Viewer", Label: "Role PowerOne Viewer",
		Pause: 300 * time.Millisecond,
		Do: func(context.Context) (string, error) {
			calls++
			return "g-existing", ErrAlreadyExists
		},
	}}}}

	st := openLedger(t, "run-1")
	var s testutil.Sleeper
	r := &Runner{IDs: ids, Retry: DefaultRetry(), Sleep: s.Sleep, Pace: 1, Ledger: st, Scope: scope, RunID: "run-1", Out: &out}
	summary, err := r.Run(context.Background(), phases)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "already-existing objects are not retried")
	assert.Equal(t, 1, summary.Phases[0].Skipped)
	assert.Equal(t, 0, summary.Phases[0].Executed)
	assert.Contains(t, out.String(), "= Role PowerOne Viewer (already exists)")
	assert.Equal(t, []time.Duration{300 * time.Millisecond}, s.Waits())

	guid, err := ids.Get("role:PowerOne Viewer")
	require.NoError(t, err)
	assert.Equal(t, "g-existing", guid)

	e, err := st.Lookup(context.Background(), scope, "role", "role:PowerOne Viewer")
	require.NoError(t, err)
	assert.Equal(t, "g-existing", e.GUID)
}

func TestRunner_AbsentCountsAsSkipped(t *testing.T) {
	var out bytes.Buffer
	calls := 0
	phases := []Phase{{ID: "R1", Title: "Delete security roles", Steps: []Step{
		{Kind: "delete", Label: "Delete role PowerOne User", BestEffort: true, Do: func(context.Context) (string, error) {
			calls++
			return "", fmt.Errorf("role PowerOne User: %w", ErrAbsent)
		}},
		{Kind: "delete", Label: "Delete role PowerOne Admin", Do: func(context.Context) (string, error) {
			calls++
			return "", ErrAbsent
		}},
	}}}

	var s testutil.Sleeper
	r := &Runner{IDs: NewIDMap(), Retry: DefaultRetry(), Sleep: s.Sleep, Out: &out}
	summary, err := r.Run(context.Background(), phases)
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "absent objects are not retried")
	assert.Equal(t, 2, summary.Phases[0].Skipped)
	assert.Zero(t, summary.Phases[0].Failed)
	assert.Contains(t, out.String(), "= Delete role PowerOne User (not found)")
	assert.Empty(t, s.Waits())
}

func TestRunner_BestEffortContinues(t *testing.T) {
	rec := &recorder{}
	var out bytes.Buffer
	calls := 0
	phases := []Phase{{ID: "R", Title: "Rollback", Steps: []Step{
		{Kind: "table", Label: "Delete po_activityupdate", BestEffort: true, Do: func(context.Context) (string, error) {
			calls++
			return "", errors.New("404 not found")
		}},
		rec.step("table", "po_sprint", ""),
	}}}

	var s testutil.Sleeper
	r := &Runner{IDs: NewIDMap(), Retry: DefaultRetry(), Sleep: s.Sleep, Out: &out}
	summary, err := r.Run(context.Background(), phases)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "best-effort steps are not retried")
	assert.Equal(t, []string{"po_sprint"}, rec.calls)
	assert.Equal(t, 1, summary.Phases[0].Failed)
	assert.Equal(t, 1, summary.Phases[0].Executed)
	assert.Contains(t, out.String(), "Skip Delete po_activityupdate (may not exist)")
}

func TestRunner_ExpandBuildsStepsAtRunTime(t *testing.T) {
	var got []string
	phases := []Phase{{
		ID: "C", Title: "Clear", Description: "delete every record",
		Expand: func(context.Context) ([]Step, error) {
			var steps []Step
			for i := 0; i < 3; i++ {
				id := fmt.Sprintf("r%d", i)
				steps = append(steps, Step{Kind: "record", Label: "Delete " + id, Do: func(context.Context) (string, error) {
					got = append(got, id)
					return "", nil
				}})
			}
			return steps, nil
		},
	}}

	r := &Runner{IDs: NewIDMap(), Retry: DefaultRetry()}
	summary, err := r.Run(context.Background(), phases)
	require.NoError(t, err)
	assert.Equal(t, []string{"r0", "r1", "r2"}, got)
	assert.Equal(t, 3, summary.Phases[0].Executed)
}

func TestRunner_ExpandError(t *testing.T) {
	phases := []Phase{{ID: "C", Expand: func(context.Context) ([]Step, error) {
		return nil, errors.New("list failed")
	}}}

	r := &Runner{IDs: NewIDMap()}
	_, err := r.Run(context.Background(), phases)
	assert.ErrorContains(t, err, "expand steps")
}

func TestRunner_RecordsToLedger(t *testing.T) {
	st := openLedger(t, "run-1")
	rec := &recorder{}

	r := &Runner{IDs: NewIDMap(), Retry: DefaultRetry(), Ledger: st, Scope: scope, RunID: "run-1"}
	_, err := r.Run(context.Background(), []Phase{{ID: "1", Steps: []Step{
		rec.step("record", "sprint-a", "g-a"),
		{Kind: "association", Label: "unkeyed", Do: func(context.Context) (string, error) { return "", nil }},
	}}})
	require.NoError(t, err)

	entities, err := st.List(context.Background(), scope)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "sprint-a", entities[0].Key)
	assert.Equal(t, "g-a", entities[0].GUID)
	assert.NotEmpty(t, entities[0].PayloadHash)
}

func TestRunner_ResumeSkipsUnchangedSteps(t *testing.T) {
	st := openLedger(t, "run-1", "run-2")
	ctx := context.Background()

	first := &recorder{}
	r := &Runner{IDs: NewIDMap(), Retry: DefaultRetry(), Ledger: st, Scope: scope, RunID: "run-1"}
	_, err := r.Run(ctx, []Phase{{ID: "1", Steps: []Step{first.step("record", "a", "g-a")}}})
	require.NoError(t, err)

	second := &recorder{}
	changed := second.step("record", "b", "g-b2")
	ids := NewIDMap()
	r = &Runner{IDs: ids, Retry: DefaultRetry(), Ledger: st, Scope: scope, RunID: "run-2", Resume: true}
	summary, err := r.Run(ctx, []Phase{{ID: "1", Steps: []Step{
		second.step("record", "a", "g-a-new"),
		changed,
	}}})
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, second.calls)
	got, err := ids.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "g-a", got, "skipped step loads its GUID from the ledger")
	assert.Equal(t, 1, summary.Phases[0].Skipped)
	assert.Equal(t, 1, summary.Phases[0].Executed)
}

func TestRunner_ResumeReexecutesChangedPayload(t *testing.T) {
	st := openLedger(t, "run-1", "run-2")
	ctx := context.Background()
	require.NoError(t, st.Record(ctx, store.Entity{
		Scope: scope, Kind: "record", Key: "a", GUID: "g-old", PayloadHash: "sha256:stale", RunID: "run-1",
	}))

	rec := &recorder{}
	r := &Runner{IDs: NewIDMap(), Retry: DefaultRetry(), Ledger: st, Scope: scope, RunID: "run-2", Resume: true}
	_, err := r.Run(ctx, []Phase{{ID: "1", Steps: []Step{rec.step("record", "a", "g-old")}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, rec.calls)
}

func TestRunner_CancelledBeforePhase(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder{}

	r := &Runner{IDs: NewIDMap()}
	_, err := r.Run(ctx, []Phase{{ID: "1", Steps: []Step{rec.step("record", "a", "g")}}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.calls)
}

func TestRunner_CancelledDuringPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := testutil.Sleeper{OnSleep: func(time.Duration) { cancel() }}
	rec := &recorder{}

	r := &Runner{IDs: NewIDMap(), Sleep: s.Sleep, Pace: 1}
	_, err := r.Run(ctx, []Phase{{ID: "1", Steps: []Step{
		rec.step("record", "a", "g1"),
		rec.step("record", "b", "g2"),
	}}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, rec.calls)
}

func TestRunner_NilIDMap(t *testing.T) {
	_, err := (&Runner{}).Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestPlan(t *testing.T) {
	rec := &recorder{}
	phases := []Phase{
		{ID: "0", Title: "Choices", Steps: []Step{rec.step("choice", "po_SprintStatus", "")}},
		{ID: "C", Title: "Clear", Description: "delete all records", Expand: func(context.Context) ([]Step, error) { return nil, nil }},
	}

	entries := Plan(phases)
	require.Len(t, entries, 2)
	assert.Equal(t, PlanEntry{Phase: "0", Kind: "choice", Key: "po_SprintStatus", Label: "Create po_SprintStatus"}, entries[0])
	assert.Equal(t, "dynamic", entries[1].Kind)
	assert.Empty(t, rec.calls)

	var buf bytes.Buffer
	WritePlan(&buf, phases)
	assert.Contains(t, buf.String(), "Phase 0: Choices")
	assert.Contains(t, buf.String(), "~ delete all records")
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("r1", "r2")
	assert.Equal(t, "r1", g.Generate())
	assert.Equal(t, "r2", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDv7Generator(t *testing.T) {
	a := UUIDv7Generator{}.Generate()
	b := UUIDv7Generator{}.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
