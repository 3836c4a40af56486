package workflow

import (
	"context"
	"sync"
)

// StepHandler executes steps of one type. Handlers receive the step's
// declaration and the live execution context; they return the step output
// or an error. Handlers must not assume single-threaded access to the
// execution context.
type StepHandler interface {
	// Type returns the step type this handler serves.
	Type() StepType

	// Execute runs the step. Routing overrides (for condition steps) are
	// communicated by setting the "_condition_next" variable on ec.
	Execute(ctx context.Context, step *Step, ec *ExecutionContext) (any, error)
}

// HandlerRegistry maps step types to handlers. Safe for concurrent use.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[StepType]StepHandler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[StepType]StepHandler)}
}

// Register adds a handler, replacing any previous handler for its type.
func (r *HandlerRegistry) Register(h StepHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// Get returns the handler for a step type, or nil.
func (r *HandlerRegistry) Get(t StepType) StepHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[t]
}

// Types returns the registered step types.
func (r *HandlerRegistry) Types() []StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StepType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
