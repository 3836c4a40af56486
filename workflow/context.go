package workflow

import (
	"sync"
	"sync/atomic"
)

// ExecutionContext is the live, shared context of one running execution.
// Handlers read and write variables through it; the engine and external
// callers signal cancellation and pause requests through it. All methods
// are safe for concurrent use.
type ExecutionContext struct {
	executionID string
	workflowID  string

	mu   sync.RWMutex
	vars map[string]any

	cancelled atomic.Bool
	paused    atomic.Bool
}

// NewExecutionContext creates a context seeded with the given variables.
// The seed map is copied; later mutations of the argument are not observed.
func NewExecutionContext(executionID, workflowID string, vars map[string]any) *ExecutionContext {
	copied := make(map[string]any, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	return &ExecutionContext{
		executionID: executionID,
		workflowID:  workflowID,
		vars:        copied,
	}
}

// ExecutionID returns the id of the execution this context belongs to.
func (c *ExecutionContext) ExecutionID() string { return c.executionID }

// WorkflowID returns the id of the workflow being executed.
func (c *ExecutionContext) WorkflowID() string { return c.workflowID }

// Get returns the variable value and whether it exists.
func (c *ExecutionContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[key]
	return v, ok
}

// Set stores a variable value.
func (c *ExecutionContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[key] = value
}

// SetAll stores every entry of m.
func (c *ExecutionContext) SetAll(m map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range m {
		c.vars[k] = v
	}
}

// Delete removes a variable.
func (c *ExecutionContext) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.vars, key)
}

// Snapshot returns a shallow copy of the variable scope. The returned map is
// owned by the caller; values are shared.
func (c *ExecutionContext) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// Cancel signals that the execution should stop at the next step boundary.
func (c *ExecutionContext) Cancel() { c.cancelled.Store(true) }

// Cancelled reports whether cancellation was requested.
func (c *ExecutionContext) Cancelled() bool { return c.cancelled.Load() }

// RequestPause signals that the execution should pause at the next step
// boundary.
func (c *ExecutionContext) RequestPause() { c.paused.Store(true) }

// ClearPause resets a pending pause request, typically on resume.
func (c *ExecutionContext) ClearPause() { c.paused.Store(false) }

// PauseRequested reports whether a pause was requested.
func (c *ExecutionContext) PauseRequested() bool { return c.paused.Load() }
