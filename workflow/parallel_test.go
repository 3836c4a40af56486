package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParallelExecutor_JoinAll(t *testing.T) {
	p := NewParallelExecutor(0)

	tasks := []BranchTask{
		{ID: "b1", Run: func(ctx context.Context) (any, error) { return 1, nil }},
		{ID: "b2", Run: func(ctx context.Context) (any, error) { return 2, nil }},
		{ID: "b3", Run: func(ctx context.Context) (any, error) { return 3, nil }},
	}

	results, err := p.Execute(context.Background(), tasks, JoinAll)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	ids := map[string]bool{}
	for _, r := range results {
		ids[r.ID] = true
		if !r.Succeeded() {
			t.Errorf("branch %s failed: %s", r.ID, r.Error)
		}
	}
	for _, want := range []string{"b1", "b2", "b3"} {
		if !ids[want] {
			t.Errorf("missing branch %s", want)
		}
	}
}

func TestParallelExecutor_JoinAllWithFailure(t *testing.T) {
	p := NewParallelExecutor(0)

	tasks := []BranchTask{
		{ID: "b1", Run: func(ctx context.Context) (any, error) { return "ok", nil }},
		{ID: "b2", Run: func(ctx context.Context) (any, error) { return nil, errors.New("exploded") }},
		{ID: "b3", Run: func(ctx context.Context) (any, error) { return "ok", nil }},
	}

	results, err := p.Execute(context.Background(), tasks, JoinAll)
	if err == nil {
		t.Fatal("expected join error")
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3 (all branches settle under join-all)", len(results))
	}

	var failed, succeeded []string
	for _, r := range results {
		if r.Succeeded() {
			succeeded = append(succeeded, r.ID)
		} else {
			failed = append(failed, r.ID)
		}
	}
	if len(failed) != 1 || failed[0] != "b2" {
		t.Errorf("failed = %v, want [b2]", failed)
	}
	if len(succeeded) != 2 {
		t.Errorf("succeeded = %v, want 2 branches", succeeded)
	}
}

func TestParallelExecutor_JoinAny(t *testing.T) {
	p := NewParallelExecutor(0)

	tasks := []BranchTask{
		{ID: "slow", Run: func(ctx context.Context) (any, error) {
			select {
			case <-time.After(time.Second):
				return "slow", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}},
		{ID: "fast", Run: func(ctx context.Context) (any, error) { return "fast", nil }},
	}

	start := time.Now()
	results, err := p.Execute(context.Background(), tasks, JoinAny)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("join-any did not cancel the straggler promptly")
	}

	found := false
	for _, r := range results {
		if r.ID == "fast" && r.Succeeded() {
			found = true
		}
	}
	if !found {
		t.Errorf("fast branch missing from results: %+v", results)
	}
}

func TestParallelExecutor_JoinAnyAllFail(t *testing.T) {
	p := NewParallelExecutor(0)

	tasks := []BranchTask{
		{ID: "b1", Run: func(ctx context.Context) (any, error) { return nil, errors.New("no") }},
		{ID: "b2", Run: func(ctx context.Context) (any, error) { return nil, errors.New("also no") }},
	}

	_, err := p.Execute(context.Background(), tasks, JoinAny)
	if err == nil {
		t.Fatal("expected error when every branch fails under join-any")
	}
}

func TestParallelExecutor_JoinFirst(t *testing.T) {
	p := NewParallelExecutor(0)

	tasks := []BranchTask{
		{ID: "quick", Run: func(ctx context.Context) (any, error) { return "first", nil }},
		{ID: "slow", Run: func(ctx context.Context) (any, error) {
			select {
			case <-time.After(time.Second):
				return "late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}},
	}

	results, err := p.Execute(context.Background(), tasks, JoinFirst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].ID != "quick" {
		t.Errorf("first settled = %s, want quick", results[0].ID)
	}
}

func TestParallelExecutor_ConcurrencyCap(t *testing.T) {
	p := NewParallelExecutor(2)

	var inFlight, peak atomic.Int32
	task := func(ctx context.Context) (any, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	}

	tasks := make([]BranchTask, 6)
	for i := range tasks {
		tasks[i] = BranchTask{ID: string(rune('a' + i)), Run: task}
	}

	if _, err := p.Execute(context.Background(), tasks, JoinAll); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestParallelExecutor_EmptyTasks(t *testing.T) {
	p := NewParallelExecutor(0)
	results, err := p.Execute(context.Background(), nil, JoinAll)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %v, want empty", results)
	}
}

func TestParallelExecutor_BranchPanic(t *testing.T) {
	p := NewParallelExecutor(0)
	tasks := []BranchTask{
		{ID: "bad", Run: func(ctx context.Context) (any, error) { panic("branch boom") }},
		{ID: "good", Run: func(ctx context.Context) (any, error) { return "fine", nil }},
	}

	results, err := p.Execute(context.Background(), tasks, JoinAll)
	if err == nil {
		t.Fatal("expected join error from panicked branch")
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.ID == "bad" && r.Succeeded() {
			t.Error("panicked branch reported success")
		}
	}
}
