package workflow

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_StateRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := NewState("exec-1", "wf-1", map[string]any{"k": "v"})
	if err := store.CreateState(ctx, state); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetState(ctx, "exec-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.WorkflowID != "wf-1" || got.Variables["k"] != "v" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// Stored state is isolated from the caller's copy.
	state.Variables["k"] = "mutated"
	got2, _ := store.GetState(ctx, "exec-1")
	if got2.Variables["k"] != "v" {
		t.Error("store shares structure with caller state")
	}
}

func TestMemoryStore_GetStateMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.GetState(context.Background(), "nope"); err != ErrExecutionNotFound {
		t.Errorf("err = %v, want ErrExecutionNotFound", err)
	}
}

func TestCheckpoint_DigestStableUnderMutation(t *testing.T) {
	state := NewState("exec-1", "wf-1", map[string]any{"counter": float64(1)})

	cp, err := NewCheckpoint("cp-1", state)
	if err != nil {
		t.Fatal(err)
	}
	if !cp.Valid() {
		t.Fatal("fresh checkpoint should validate")
	}

	// Mutating the source state after checkpointing must not invalidate
	// the snapshot.
	state.Variables["counter"] = float64(99)
	state.SetStatus(StatusFailed)
	if !cp.Valid() {
		t.Error("checkpoint digest broken by source mutation")
	}

	// Digest is deterministic over deep copies.
	clone, err := cp.State.Clone()
	if err != nil {
		t.Fatal(err)
	}
	d1, _ := StateDigest(cp.State)
	d2, _ := StateDigest(clone)
	if d1 != d2 {
		t.Errorf("digest differs across deep copies: %s vs %s", d1, d2)
	}
	if len(d1) != 16 {
		t.Errorf("digest length = %d, want 16", len(d1))
	}
}

func TestCheckpoint_TamperDetected(t *testing.T) {
	state := NewState("exec-1", "wf-1", nil)
	cp, err := NewCheckpoint("cp-1", state)
	if err != nil {
		t.Fatal(err)
	}

	cp.State.Variables["injected"] = true
	if cp.Valid() {
		t.Error("tampered checkpoint passed validation")
	}
}

func TestMemoryStore_RecoverySkipsCorrupted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := NewState("exec-1", "wf-1", map[string]any{"step": float64(0)})
	if err := store.CreateState(ctx, state); err != nil {
		t.Fatal(err)
	}

	state.Variables["step"] = float64(1)
	if _, err := store.Checkpoint(ctx, state); err != nil {
		t.Fatal(err)
	}
	state.Variables["step"] = float64(2)
	cp2, err := store.Checkpoint(ctx, state)
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt the newest checkpoint in place.
	cp2.State.Variables["step"] = float64(999)

	recovered, err := store.Recover(ctx, "exec-1")
	if err != nil {
		t.Fatal(err)
	}
	if recovered.Variables["step"] != float64(1) {
		t.Errorf("recovered step = %v, want 1 (next-older checkpoint)", recovered.Variables["step"])
	}
}

func TestMemoryStore_RecoverNoValidCheckpoint(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := NewState("exec-1", "wf-1", nil)
	if err := store.CreateState(ctx, state); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Recover(ctx, "exec-1"); err != ErrNoValidCheckpoint {
		t.Errorf("err = %v, want ErrNoValidCheckpoint", err)
	}
}

func TestMemoryStore_RecoveryResetsRunningSteps(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := NewState("exec-1", "wf-1", nil)
	if err := store.CreateState(ctx, state); err != nil {
		t.Fatal(err)
	}
	state.SetStatus(StatusRunning)
	state.MarkStepStarted("s1", nil)
	state.MarkStepCompleted("s1", "done")
	state.MarkStepStarted("s2", nil)
	if _, err := store.Checkpoint(ctx, state); err != nil {
		t.Fatal(err)
	}

	recovered, err := store.Recover(ctx, "exec-1")
	if err != nil {
		t.Fatal(err)
	}
	if recovered.Steps["s1"].Status != StepCompleted {
		t.Error("completed step should stay completed")
	}
	if recovered.Steps["s2"].Status != StepPending {
		t.Errorf("in-flight step = %s, want pending", recovered.Steps["s2"].Status)
	}
}

func TestMemoryStore_CheckpointLimit(t *testing.T) {
	store := NewMemoryStore()
	store.SetCheckpointLimit(3)
	ctx := context.Background()

	state := NewState("exec-1", "wf-1", map[string]any{"n": float64(0)})
	if err := store.CreateState(ctx, state); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 5; i++ {
		state.Variables["n"] = float64(i)
		if _, err := store.Checkpoint(ctx, state); err != nil {
			t.Fatal(err)
		}
	}

	cp, err := store.LatestValidCheckpoint(ctx, "exec-1")
	if err != nil {
		t.Fatal(err)
	}
	if cp.State.Variables["n"] != float64(5) {
		t.Errorf("latest checkpoint n = %v, want 5", cp.State.Variables["n"])
	}

	store.mu.Lock()
	count := len(store.checkpoints["exec-1"])
	store.mu.Unlock()
	if count != 3 {
		t.Errorf("retained checkpoints = %d, want 3", count)
	}
}

func TestMemoryStore_ListAndCleanup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	done := NewState("done-1", "wf-a", nil)
	done.SetStatus(StatusCompleted)
	past := time.Now().Add(-2 * time.Hour).UTC()
	done.CompletedAt = &past

	live := NewState("live-1", "wf-a", nil)
	live.SetStatus(StatusRunning)

	other := NewState("other-1", "wf-b", nil)

	for _, s := range []*State{done, live, other} {
		if err := store.CreateState(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := store.ListExecutions(ctx, "wf-a", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Errorf("wf-a executions = %v, want 2", ids)
	}

	running, err := store.ListExecutions(ctx, "", StatusRunning)
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 1 || running[0] != "live-1" {
		t.Errorf("running = %v, want [live-1]", running)
	}

	removed, err := store.CleanupCompleted(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := store.GetState(ctx, "done-1"); err != ErrExecutionNotFound {
		t.Error("cleaned execution still present")
	}
}
