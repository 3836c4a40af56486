// Package store provides durable StateStore implementations backed by
// SQLite and MySQL. Execution state and checkpoints are stored as JSON
// documents; checkpoint integrity is validated through the digest carried
// on each row.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/floworc/floworc/workflow"
)

// SQLiteStore is a SQLite implementation of workflow.StateStore.
//
// Designed for development, testing, and single-process deployments:
// a single-file database with zero setup, WAL mode for concurrent reads,
// and auto-migration on first use. Use ":memory:" for throwaway test
// databases.
type SQLiteStore struct {
	db              *sql.DB
	checkpointLimit int
}

// NewSQLiteStore opens (or creates) the database at path and migrates the
// schema. The connection pool is pinned to one writer, matching SQLite's
// locking model.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, checkpointLimit: workflow.DefaultCheckpointLimit}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SetCheckpointLimit overrides the per-execution checkpoint retention
// limit. Values below 1 are ignored.
func (s *SQLiteStore) SetCheckpointLimit(n int) {
	if n >= 1 {
		s.checkpointLimit = n
	}
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			state TEXT NOT NULL,
			completed_at TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			checkpoint_id TEXT NOT NULL UNIQUE,
			execution_id TEXT NOT NULL,
			state TEXT NOT NULL,
			digest TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_execution ON checkpoints(execution_id, seq)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateState implements workflow.StateStore.
func (s *SQLiteStore) CreateState(ctx context.Context, state *workflow.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (execution_id, workflow_id, status, state, completed_at) VALUES (?, ?, ?, ?, ?)`,
		state.ExecutionID, state.WorkflowID, string(state.Status), string(data), completedAt(state))
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetState implements workflow.StateStore.
func (s *SQLiteStore) GetState(ctx context.Context, executionID string) (*workflow.State, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM executions WHERE execution_id = ?`, executionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workflow.ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	var state workflow.State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// UpdateState implements workflow.StateStore.
func (s *SQLiteStore) UpdateState(ctx context.Context, state *workflow.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, state = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE execution_id = ?`,
		string(state.Status), string(data), completedAt(state), state.ExecutionID)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return workflow.ErrExecutionNotFound
	}
	return nil
}

// Checkpoint implements workflow.StateStore. The write and the retention
// trim run in one transaction.
func (s *SQLiteStore) Checkpoint(ctx context.Context, state *workflow.State) (*workflow.Checkpoint, error) {
	cp, err := workflow.NewCheckpoint(uuid.NewString(), state)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(cp.State)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (checkpoint_id, execution_id, state, digest, created_at) VALUES (?, ?, ?, ?, ?)`,
		cp.CheckpointID, cp.ExecutionID, string(data), cp.Digest, cp.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE execution_id = ? AND seq NOT IN (
			SELECT seq FROM checkpoints WHERE execution_id = ? ORDER BY seq DESC LIMIT ?
		)`, cp.ExecutionID, cp.ExecutionID, s.checkpointLimit); err != nil {
		return nil, fmt.Errorf("trim checkpoints: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit checkpoint: %w", err)
	}
	return cp, nil
}

// LatestValidCheckpoint implements workflow.StateStore: checkpoints are
// scanned newest-first, skipping any whose digest no longer matches.
func (s *SQLiteStore) LatestValidCheckpoint(ctx context.Context, executionID string) (*workflow.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT checkpoint_id, state, digest, created_at FROM checkpoints
		 WHERE execution_id = ? ORDER BY seq DESC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, raw, digest string
		var createdAt time.Time
		if err := rows.Scan(&id, &raw, &digest, &createdAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		var state workflow.State
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			continue
		}
		cp := &workflow.Checkpoint{
			CheckpointID: id,
			ExecutionID:  executionID,
			State:        &state,
			CreatedAt:    createdAt,
			Digest:       digest,
		}
		if cp.Valid() {
			return cp, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return nil, workflow.ErrNoValidCheckpoint
}

// Recover implements workflow.StateStore.
func (s *SQLiteStore) Recover(ctx context.Context, executionID string) (*workflow.State, error) {
	cp, err := s.LatestValidCheckpoint(ctx, executionID)
	if err != nil {
		return nil, err
	}
	restored, err := cp.State.Clone()
	if err != nil {
		return nil, err
	}
	workflow.ResetRunningSteps(restored)
	if err := s.UpdateState(ctx, restored); err != nil {
		return nil, err
	}
	return restored, nil
}

// ListExecutions implements workflow.StateStore.
func (s *SQLiteStore) ListExecutions(ctx context.Context, workflowID string, status workflow.Status) ([]string, error) {
	query := `SELECT execution_id FROM executions WHERE 1=1`
	var args []any
	if workflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, workflowID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CleanupCompleted implements workflow.StateStore.
func (s *SQLiteStore) CleanupCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	terminal := []string{
		string(workflow.StatusCompleted),
		string(workflow.StatusFailed),
		string(workflow.StatusCancelled),
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM executions WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at <= ?`,
		terminal[0], terminal[1], terminal[2], olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete executions: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE execution_id NOT IN (SELECT execution_id FROM executions)`); err != nil {
		return int(n), fmt.Errorf("delete orphan checkpoints: %w", err)
	}
	return int(n), nil
}

func completedAt(state *workflow.State) any {
	if state.CompletedAt == nil {
		return nil
	}
	return *state.CompletedAt
}
