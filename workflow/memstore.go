package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCheckpointLimit is how many checkpoints MemoryStore retains per
// execution before discarding the oldest.
const DefaultCheckpointLimit = 10

// MemoryStore is an in-memory StateStore for tests and single-process runs.
// All state is lost when the process exits.
type MemoryStore struct {
	mu          sync.Mutex
	states      map[string]*State
	checkpoints map[string][]*Checkpoint // newest last
	limit       int
}

// NewMemoryStore creates an empty in-memory store with the default
// checkpoint retention limit.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:      make(map[string]*State),
		checkpoints: make(map[string][]*Checkpoint),
		limit:       DefaultCheckpointLimit,
	}
}

// SetCheckpointLimit overrides the per-execution checkpoint retention limit.
// Values below 1 are ignored.
func (m *MemoryStore) SetCheckpointLimit(n int) {
	if n < 1 {
		return
	}
	m.mu.Lock()
	m.limit = n
	m.mu.Unlock()
}

func (m *MemoryStore) CreateState(ctx context.Context, state *State) error {
	clone, err := state.Clone()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.states[state.ExecutionID]; exists {
		return fmt.Errorf("execution %q already exists", state.ExecutionID)
	}
	m.states[state.ExecutionID] = clone
	return nil
}

func (m *MemoryStore) GetState(ctx context.Context, executionID string) (*State, error) {
	m.mu.Lock()
	s, ok := m.states[executionID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return s.Clone()
}

func (m *MemoryStore) UpdateState(ctx context.Context, state *State) error {
	clone, err := state.Clone()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[state.ExecutionID]; !ok {
		return ErrExecutionNotFound
	}
	m.states[state.ExecutionID] = clone
	return nil
}

func (m *MemoryStore) Checkpoint(ctx context.Context, state *State) (*Checkpoint, error) {
	cp, err := NewCheckpoint(uuid.NewString(), state)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.checkpoints[state.ExecutionID], cp)
	if len(list) > m.limit {
		list = list[len(list)-m.limit:]
	}
	m.checkpoints[state.ExecutionID] = list
	return cp, nil
}

func (m *MemoryStore) LatestValidCheckpoint(ctx context.Context, executionID string) (*Checkpoint, error) {
	m.mu.Lock()
	list := m.checkpoints[executionID]
	// Copy the slice header so the scan runs outside the lock.
	scan := make([]*Checkpoint, len(list))
	copy(scan, list)
	m.mu.Unlock()

	for i := len(scan) - 1; i >= 0; i-- {
		if scan[i].Valid() {
			return scan[i], nil
		}
	}
	return nil, ErrNoValidCheckpoint
}

func (m *MemoryStore) Recover(ctx context.Context, executionID string) (*State, error) {
	cp, err := m.LatestValidCheckpoint(ctx, executionID)
	if err != nil {
		return nil, err
	}
	restored, err := cp.State.Clone()
	if err != nil {
		return nil, err
	}
	ResetRunningSteps(restored)
	if err := m.UpdateState(ctx, restored); err != nil {
		return nil, err
	}
	return restored, nil
}

func (m *MemoryStore) ListExecutions(ctx context.Context, workflowID string, status Status) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, s := range m.states {
		if workflowID != "" && s.WorkflowID != workflowID {
			continue
		}
		if status != "" && s.Status != status {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (m *MemoryStore) CleanupCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.states {
		if !s.Status.Terminal() {
			continue
		}
		if s.CompletedAt == nil || s.CompletedAt.After(olderThan) {
			continue
		}
		delete(m.states, id)
		delete(m.checkpoints, id)
		removed++
	}
	return removed, nil
}
