package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Checkpoint is a durable snapshot of execution state, integrity-protected
// by a digest over its canonical serialization.
type Checkpoint struct {
	CheckpointID string    `json:"checkpoint_id"`
	ExecutionID  string    `json:"execution_id"`
	State        *State    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	Digest       string    `json:"digest"`
}

// Valid reports whether the stored digest matches the state's current
// canonical digest. A checkpoint whose state was corrupted or tampered with
// fails validation and is skipped during recovery.
func (c *Checkpoint) Valid() bool {
	if c.State == nil {
		return false
	}
	digest, err := StateDigest(c.State)
	if err != nil {
		return false
	}
	return digest == c.Digest
}

// StateDigest computes the integrity digest of a state: SHA-256 over its
// canonical JSON form (object keys sorted), truncated to 16 hex characters.
func StateDigest(s *State) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	// Round-trip through a generic value so every object's keys serialize
	// in sorted order regardless of struct field declaration.
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", fmt.Errorf("canonicalize state: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("marshal canonical state: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16], nil
}

// NewCheckpoint snapshots the state into a checkpoint with a fresh id and
// digest. The state is deep-copied, so later mutations do not affect the
// checkpoint.
func NewCheckpoint(checkpointID string, state *State) (*Checkpoint, error) {
	snapshot, err := state.Clone()
	if err != nil {
		return nil, err
	}
	digest, err := StateDigest(snapshot)
	if err != nil {
		return nil, err
	}
	return &Checkpoint{
		CheckpointID: checkpointID,
		ExecutionID:  snapshot.ExecutionID,
		State:        snapshot,
		CreatedAt:    time.Now().UTC(),
		Digest:       digest,
	}, nil
}

// StateStore persists execution state and checkpoints. Implementations must
// be safe for concurrent use. The in-memory store in this package suits
// tests and single-process runs; the store subpackage provides SQLite and
// MySQL backed implementations.
type StateStore interface {
	// CreateState persists a new execution state.
	CreateState(ctx context.Context, state *State) error

	// GetState returns the state for an execution, or ErrExecutionNotFound.
	GetState(ctx context.Context, executionID string) (*State, error)

	// UpdateState overwrites the stored state for state.ExecutionID.
	UpdateState(ctx context.Context, state *State) error

	// Checkpoint snapshots the state durably and returns the checkpoint.
	// Stores keep a bounded number of checkpoints per execution, discarding
	// the oldest beyond the cap.
	Checkpoint(ctx context.Context, state *State) (*Checkpoint, error)

	// LatestValidCheckpoint scans the execution's checkpoints newest-first
	// and returns the first that passes digest validation, or
	// ErrNoValidCheckpoint.
	LatestValidCheckpoint(ctx context.Context, executionID string) (*Checkpoint, error)

	// Recover restores the execution's state from its latest valid
	// checkpoint, resets any steps recorded as running back to pending, and
	// returns the restored state.
	Recover(ctx context.Context, executionID string) (*State, error)

	// ListExecutions returns execution ids, optionally filtered by workflow
	// id and status (empty values match everything).
	ListExecutions(ctx context.Context, workflowID string, status Status) ([]string, error)

	// CleanupCompleted removes terminal executions older than the cutoff and
	// reports how many were removed.
	CleanupCompleted(ctx context.Context, olderThan time.Time) (int, error)
}

// ResetRunningSteps flips steps recorded as running back to pending so a
// recovered execution re-runs them rather than considering them in flight.
// A running workflow status becomes paused, ready for resume.
func ResetRunningSteps(s *State) {
	for _, ss := range s.Steps {
		if ss.Status == StepRunning {
			ss.Status = StepPending
			ss.StartedAt = nil
		}
	}
	if s.Status == StatusRunning {
		s.Status = StatusPaused
	}
}
