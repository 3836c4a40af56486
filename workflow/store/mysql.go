package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/floworc/floworc/workflow"
)

// MySQLStore is a MySQL implementation of workflow.StateStore for
// multi-process deployments sharing one database.
//
// The DSN should enable parseTime, e.g.
//
//	user:pass@tcp(host:3306)/floworc?parseTime=true
type MySQLStore struct {
	db              *sql.DB
	checkpointLimit int
}

// NewMySQLStore connects to the database and migrates the schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{db: db, checkpointLimit: workflow.DefaultCheckpointLimit}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *MySQLStore) Close() error { return s.db.Close() }

// SetCheckpointLimit overrides the per-execution checkpoint retention
// limit. Values below 1 are ignored.
func (s *MySQLStore) SetCheckpointLimit(n int) {
	if n >= 1 {
		s.checkpointLimit = n
	}
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			state JSON NOT NULL,
			completed_at DATETIME(6) NULL,
			updated_at DATETIME(6) DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
			INDEX idx_executions_workflow (workflow_id),
			INDEX idx_executions_status (status)
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			checkpoint_id VARCHAR(64) NOT NULL UNIQUE,
			execution_id VARCHAR(64) NOT NULL,
			state JSON NOT NULL,
			digest VARCHAR(32) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_checkpoints_execution (execution_id, seq)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateState implements workflow.StateStore.
func (s *MySQLStore) CreateState(ctx context.Context, state *workflow.State) error {
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
func (s *MySQLStore) GetState(ctx context.Context, executionID string) (*workflow.State, error) {
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
func (s *MySQLStore) UpdateState(ctx context.Context, state *workflow.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, state = ?, completed_at = ? WHERE execution_id = ?`,
		string(state.Status), string(data), completedAt(state), state.ExecutionID)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// RowsAffected is zero both for a missing row and for a no-change
		// update; distinguish with an existence probe.
		var one int
		probe := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM executions WHERE execution_id = ?`, state.ExecutionID).Scan(&one)
		if errors.Is(probe, sql.ErrNoRows) {
			return workflow.ErrExecutionNotFound
		}
	}
	return nil
}

// Checkpoint implements workflow.StateStore.
func (s *MySQLStore) Checkpoint(ctx context.Context, state *workflow.State) (*workflow.Checkpoint, error) {
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
		`DELETE c FROM checkpoints c
		 LEFT JOIN (
			SELECT seq FROM checkpoints WHERE execution_id = ? ORDER BY seq DESC LIMIT ?
		 ) keep ON c.seq = keep.seq
		 WHERE c.execution_id = ? AND keep.seq IS NULL`,
		cp.ExecutionID, s.checkpointLimit, cp.ExecutionID); err != nil {
		return nil, fmt.Errorf("trim checkpoints: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit checkpoint: %w", err)
	}
	return cp, nil
}

// LatestValidCheckpoint implements workflow.StateStore.
func (s *MySQLStore) LatestValidCheckpoint(ctx context.Context, executionID string) (*workflow.Checkpoint, error) {
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
func (s *MySQLStore) Recover(ctx context.Context, executionID string) (*workflow.State, error) {
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
func (s *MySQLStore) ListExecutions(ctx context.Context, workflowID string, status workflow.Status) ([]string, error) {
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
func (s *MySQLStore) CleanupCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM executions WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at <= ?`,
		string(workflow.StatusCompleted), string(workflow.StatusFailed), string(workflow.StatusCancelled), olderThan)
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
