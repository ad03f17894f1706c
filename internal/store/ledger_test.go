package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScope = "https://org.crm.dynamics.com|po"

func TestRecordAndLookup(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	beginTestRun(t, st, "run-1")

	err := st.Record(ctx, Entity{
		Scope: testScope, Kind: "choice", Key: "po_SprintStatus",
		GUID: "11111111-1111-1111-1111-111111111111", PayloadHash: "sha256:aa", RunID: "run-1",
	})
	require.NoError(t, err)

	got, err := st.Lookup(ctx, testScope, "choice", "po_SprintStatus")
	require.NoError(t, err)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", got.GUID)
	assert.Equal(t, "sha256:aa", got.PayloadHash)
	assert.Equal(t, int64(1), got.Seq)
	assert.NotEmpty(t, got.RecordedAt)
}

func TestLookup_NotFound(t *testing.T) {
	st := createTestStore(t)

	_, err := st.Lookup(context.Background(), testScope, "table", "po_Sprint")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRecord_UpsertKeepsSequence(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	beginTestRun(t, st, "run-1")
	beginTestRun(t, st, "run-2")

	require.NoError(t, st.Record(ctx, Entity{Scope: testScope, Kind: "table", Key: "a", GUID: "g1", RunID: "run-1"}))
	require.NoError(t, st.Record(ctx, Entity{Scope: testScope, Kind: "table", Key: "b", GUID: "g2", RunID: "run-1"}))
	require.NoError(t, st.Record(ctx, Entity{Scope: testScope, Kind: "table", Key: "a", GUID: "g3", PayloadHash: "h", RunID: "run-2"}))

	list, err := st.List(ctx, testScope)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Key)
	assert.Equal(t, "g3", list[0].GUID)
	assert.Equal(t, "run-2", list[0].RunID)
	assert.Equal(t, int64(1), list[0].Seq)
	assert.Equal(t, "b", list[1].Key)
}

func TestRecord_RequiresRun(t *testing.T) {
	st := createTestStore(t)

	err := st.Record(context.Background(), Entity{Scope: testScope, Kind: "table", Key: "a", RunID: "missing"})
	assert.Error(t, err)
}

func TestList_ScopesAreIsolated(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	beginTestRun(t, st, "run-1")

	require.NoError(t, st.Record(ctx, Entity{Scope: testScope, Kind: "role", Key: "Admin", RunID: "run-1"}))
	require.NoError(t, st.Record(ctx, Entity{Scope: "https://other.crm.dynamics.com|po", Kind: "role", Key: "Admin", RunID: "run-1"}))

	list, err := st.List(ctx, testScope)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestForget(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	beginTestRun(t, st, "run-1")

	for _, e := range []Entity{
		{Kind: "choice", Key: "c1"},
		{Kind: "table", Key: "t1"},
		{Kind: "table", Key: "t2"},
		{Kind: "relationship", Key: "r1"},
	} {
		e.Scope, e.RunID = testScope, "run-1"
		require.NoError(t, st.Record(ctx, e))
	}

	n, err := st.Forget(ctx, testScope, "table", "choice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	list, err := st.List(ctx, testScope)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "relationship", list[0].Kind)
}

func TestForgetGUIDs(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	beginTestRun(t, st, "run-1")

	for _, e := range []Entity{
		{Kind: "record", Key: "sprint-1", GUID: "g-1"},
		{Kind: "record", Key: "sprint-2", GUID: "g-2"},
		{Kind: "record", Key: "task-1", GUID: "g-3"},
		{Kind: "table", Key: "Sprint", GUID: "g-1"},
	} {
		e.Scope, e.RunID = testScope, "run-1"
		require.NoError(t, st.Record(ctx, e))
	}

	n, err := st.ForgetGUIDs(ctx, testScope, "record", "g-1", "g-3", "g-missing")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := st.List(ctx, testScope)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "sprint-2", list[0].Key)
	assert.Equal(t, "table", list[1].Kind, "other kinds with the same guid stay")

	n, err = st.ForgetGUIDs(ctx, testScope, "record")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRuns_Lifecycle(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	beginTestRun(t, st, "run-1")
	beginTestRun(t, st, "run-2")

	require.NoError(t, st.FinishRun(ctx, "run-1", nil))
	require.NoError(t, st.FinishRun(ctx, "run-2", errors.New("boom")))

	runs, err := st.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, RunFailed, runs[0].Status)
	assert.Equal(t, "boom", runs[0].Error)
	assert.NotEmpty(t, runs[0].FinishedAt)

	assert.Equal(t, "run-1", runs[1].ID)
	assert.Equal(t, RunSucceeded, runs[1].Status)
	assert.Empty(t, runs[1].Error)
}

func TestFinishRun_Unknown(t *testing.T) {
	st := createTestStore(t)

	err := st.FinishRun(context.Background(), "nope", nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBeginRun_EmptyID(t *testing.T) {
	st := createTestStore(t)
	assert.Error(t, st.BeginRun(context.Background(), Run{Flow: "seed"}))
}
