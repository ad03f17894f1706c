package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Run status values.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// ErrNotFound is returned by Lookup when no entity is recorded under the key.
var ErrNotFound = errors.New("not found in ledger")

// Run is one invocation of a provisioning flow.
type Run struct {
	ID         string `json:"id"`
	Flow       string `json:"flow"`
	Mode       string `json:"mode"`
	EnvURL     string `json:"env_url"`
	Prefix     string `json:"prefix"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// Entity is a remote object created by a step.
// Scope is "{env_url}|{prefix}" so one ledger file can serve several environments.
type Entity struct {
	Scope       string `json:"scope"`
	Kind        string `json:"kind"`
	Key         string `json:"key"`
	GUID        string `json:"guid"`
	PayloadHash string `json:"payload_hash"`
	RunID       string `json:"run_id"`
	Seq         int64  `json:"seq"`
	RecordedAt  string `json:"recorded_at"`
}

// BeginRun inserts a run row in the running state.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("begin run: empty id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, flow, mode, env_url, prefix, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Flow, run.Mode, run.EnvURL, run.Prefix, s.timestamp(), RunRunning)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun marks a run as succeeded, or failed when runErr is non-nil.
func (s *Store) FinishRun(ctx context.Context, id string, runErr error) error {
	status, msg := RunSucceeded, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?
	`, s.timestamp(), status, msg, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow, mode, env_url, prefix, started_at,
		       COALESCE(finished_at, ''), status, error
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Flow, &r.Mode, &r.EnvURL, &r.Prefix,
			&r.StartedAt, &r.FinishedAt, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Record upserts an entity. The sequence number is assigned per scope so
// List returns entities in the order they were provisioned.
// Re-recording an existing key keeps its original position.
func (s *Store) Record(ctx context.Context, e Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record %s/%s: %w", e.Kind, e.Key, err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM entities WHERE scope = ?`, e.Scope,
	).Scan(&seq); err != nil {
		return fmt.Errorf("record %s/%s: next seq: %w", e.Kind, e.Key, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (scope, kind, key, guid, payload_hash, run_id, seq, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, kind, key) DO UPDATE SET
			guid = excluded.guid,
			payload_hash = excluded.payload_hash,
			run_id = excluded.run_id,
			recorded_at = excluded.recorded_at
	`, e.Scope, e.Kind, e.Key, e.GUID, e.PayloadHash, e.RunID, seq, s.timestamp())
	if err != nil {
		return fmt.Errorf("record %s/%s: %w", e.Kind, e.Key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record %s/%s: commit: %w", e.Kind, e.Key, err)
	}
	return nil
}

// Lookup returns the entity recorded under (scope, kind, key), or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, scope, kind, key string) (Entity, error) {
	var e Entity
	err := s.db.QueryRowContext(ctx, `
		SELECT scope, kind, key, guid, payload_hash, run_id, seq, recorded_at
		FROM entities
		WHERE scope = ? AND kind = ? AND key = ?
	`, scope, kind, key).Scan(&e.Scope, &e.Kind, &e.Key, &e.GUID, &e.PayloadHash, &e.RunID, &e.Seq, &e.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, fmt.Errorf("lookup %s/%s: %w", kind, key, err)
	}
	return e, nil
}

// List returns all entities of a scope in provisioning order.
func (s *Store) List(ctx context.Context, scope string) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, kind, key, guid, payload_hash, run_id, seq, recorded_at
		FROM entities
		WHERE scope = ?
		ORDER BY seq ASC
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.Scope, &e.Kind, &e.Key, &e.GUID, &e.PayloadHash, &e.RunID, &e.Seq, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Forget removes the entities of the given kinds from a scope and returns
// how many rows were deleted. Rollback and clear call it so a later resume
// does not skip objects that no longer exist.
func (s *Store) Forget(ctx context.Context, scope string, kinds ...string) (int64, error) {
	var total int64
	for _, kind := range kinds {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM entities WHERE scope = ? AND kind = ?`, scope, kind)
		if err != nil {
			return total, fmt.Errorf("forget %s: %w", kind, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("forget %s: %w", kind, err)
		}
		total += n
	}
	return total, nil
}

// ForgetGUIDs removes the entities of one kind whose GUID is listed. A clear
// that did not finish uses it to forget only the records it deleted.
func (s *Store) ForgetGUIDs(ctx context.Context, scope, kind string, guids ...string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("forget %s: %w", kind, err)
	}
	defer tx.Rollback()

	var total int64
	for _, guid := range guids {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM entities WHERE scope = ? AND kind = ? AND guid = ?`, scope, kind, guid)
		if err != nil {
			return 0, fmt.Errorf("forget %s %s: %w", kind, guid, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("forget %s %s: %w", kind, guid, err)
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("forget %s: %w", kind, err)
	}
	return total, nil
}
