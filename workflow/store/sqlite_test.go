package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/floworc/floworc/workflow"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "floworc.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testState(executionID string) *workflow.State {
	return workflow.NewState(executionID, "wf-orders", map[string]any{
		"region": "eu-west",
		"count":  float64(3),
	})
}

func TestSQLiteStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	state := testState("exec-1")
	if err := s.CreateState(ctx, state); err != nil {
		t.Fatalf("CreateState: %v", err)
	}

	got, err := s.GetState(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got.WorkflowID != "wf-orders" {
		t.Errorf("WorkflowID = %q, want wf-orders", got.WorkflowID)
	}
	if got.Variables["region"] != "eu-west" {
		t.Errorf("region = %v, want eu-west", got.Variables["region"])
	}

	got.Status = workflow.StatusRunning
	got.Variables["count"] = float64(4)
	if err := s.UpdateState(ctx, got); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	again, err := s.GetState(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetState after update: %v", err)
	}
	if again.Status != workflow.StatusRunning {
		t.Errorf("Status = %q, want running", again.Status)
	}
	if again.Variables["count"] != float64(4) {
		t.Errorf("count = %v, want 4", again.Variables["count"])
	}
}

func TestSQLiteMissingExecution(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.GetState(ctx, "nope"); !errors.Is(err, workflow.ErrExecutionNotFound) {
		t.Errorf("GetState error = %v, want ErrExecutionNotFound", err)
	}
	if err := s.UpdateState(ctx, testState("nope")); !errors.Is(err, workflow.ErrExecutionNotFound) {
		t.Errorf("UpdateState error = %v, want ErrExecutionNotFound", err)
	}
	if _, err := s.Recover(ctx, "nope"); !errors.Is(err, workflow.ErrNoValidCheckpoint) {
		t.Errorf("Recover error = %v, want ErrNoValidCheckpoint", err)
	}
}

func TestSQLiteCheckpointTrim(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.SetCheckpointLimit(3)

	state := testState("exec-trim")
	if err := s.CreateState(ctx, state); err != nil {
		t.Fatalf("CreateState: %v", err)
	}

	var ids []string
	for i := 0; i < 5; i++ {
		state.Variables["i"] = float64(i)
		cp, err := s.Checkpoint(ctx, state)
		if err != nil {
			t.Fatalf("Checkpoint %d: %v", i, err)
		}
		ids = append(ids, cp.CheckpointID)
	}

	var count int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM checkpoints WHERE execution_id = ?`, "exec-trim").Scan(&count); err != nil {
		t.Fatalf("count checkpoints: %v", err)
	}
	if count != 3 {
		t.Errorf("retained %d checkpoints, want 3", count)
	}

	latest, err := s.LatestValidCheckpoint(ctx, "exec-trim")
	if err != nil {
		t.Fatalf("LatestValidCheckpoint: %v", err)
	}
	if latest.CheckpointID != ids[4] {
		t.Errorf("latest = %s, want %s", latest.CheckpointID, ids[4])
	}
	if latest.State.Variables["i"] != float64(4) {
		t.Errorf("latest i = %v, want 4", latest.State.Variables["i"])
	}
}

func TestSQLiteRecoverySkipsCorruptedCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	state := testState("exec-corrupt")
	if err := s.CreateState(ctx, state); err != nil {
		t.Fatalf("CreateState: %v", err)
	}

	state.Variables["phase"] = "one"
	if _, err := s.Checkpoint(ctx, state); err != nil {
		t.Fatalf("checkpoint one: %v", err)
	}
	state.Variables["phase"] = "two"
	cp2, err := s.Checkpoint(ctx, state)
	if err != nil {
		t.Fatalf("checkpoint two: %v", err)
	}

	// Tamper with the newest checkpoint's stored state so its digest no
	// longer matches.
	if _, err := s.db.Exec(
		`UPDATE checkpoints SET state = REPLACE(state, '"two"', '"evil"') WHERE checkpoint_id = ?`,
		cp2.CheckpointID); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	latest, err := s.LatestValidCheckpoint(ctx, "exec-corrupt")
	if err != nil {
		t.Fatalf("LatestValidCheckpoint: %v", err)
	}
	if latest.State.Variables["phase"] != "one" {
		t.Errorf("recovered phase = %v, want one (corrupted newest skipped)", latest.State.Variables["phase"])
	}
}

func TestSQLiteRecoverResetsRunningSteps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	state := testState("exec-recover")
	state.Status = workflow.StatusRunning
	state.Steps["fetch"] = &workflow.StepState{Status: workflow.StepCompleted}
	now := time.Now().UTC()
	state.Steps["process"] = &workflow.StepState{Status: workflow.StepRunning, StartedAt: &now}
	if err := s.CreateState(ctx, state); err != nil {
		t.Fatalf("CreateState: %v", err)
	}
	if _, err := s.Checkpoint(ctx, state); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	restored, err := s.Recover(ctx, "exec-recover")
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if restored.Status != workflow.StatusPaused {
		t.Errorf("Status = %q, want paused", restored.Status)
	}
	if restored.Steps["process"].Status != workflow.StepPending {
		t.Errorf("process status = %q, want pending", restored.Steps["process"].Status)
	}
	if restored.Steps["fetch"].Status != workflow.StepCompleted {
		t.Errorf("fetch status = %q, want completed", restored.Steps["fetch"].Status)
	}

	// Recover persists the reset state.
	persisted, err := s.GetState(ctx, "exec-recover")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if persisted.Status != workflow.StatusPaused {
		t.Errorf("persisted status = %q, want paused", persisted.Status)
	}
}

func TestSQLiteListAndCleanup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	past := time.Now().Add(-2 * time.Hour).UTC()

	done := testState("exec-done")
	done.Status = workflow.StatusCompleted
	done.CompletedAt = &past
	live := testState("exec-live")
	live.Status = workflow.StatusRunning
	other := workflow.NewState("exec-other", "wf-billing", nil)

	for _, st := range []*workflow.State{done, live, other} {
		if err := s.CreateState(ctx, st); err != nil {
			t.Fatalf("CreateState %s: %v", st.ExecutionID, err)
		}
	}
	if _, err := s.Checkpoint(ctx, done); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	ids, err := s.ListExecutions(ctx, "wf-orders", "")
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("wf-orders executions = %v, want 2", ids)
	}
	ids, err = s.ListExecutions(ctx, "", workflow.StatusRunning)
	if err != nil {
		t.Fatalf("ListExecutions by status: %v", err)
	}
	if len(ids) != 1 || ids[0] != "exec-live" {
		t.Errorf("running executions = %v, want [exec-live]", ids)
	}

	removed, err := s.CleanupCompleted(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CleanupCompleted: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := s.GetState(ctx, "exec-done"); !errors.Is(err, workflow.ErrExecutionNotFound) {
		t.Errorf("exec-done still present after cleanup: %v", err)
	}
	var orphans int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM checkpoints WHERE execution_id = ?`, "exec-done").Scan(&orphans); err != nil {
		t.Fatalf("count orphans: %v", err)
	}
	if orphans != 0 {
		t.Errorf("orphan checkpoints = %d, want 0", orphans)
	}
}
