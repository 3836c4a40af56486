// Package trigger fires workflow executions from outside stimuli: direct
// calls, incoming webhooks, cron schedules, and bus events. Every trigger
// shares one lifecycle (created, started, paused, disabled, stopped) and a
// bounded history of its firing results.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/floworc/floworc/workflow"
)

// Status is the lifecycle state of a trigger.
type Status string

const (
	StatusCreated  Status = "created"
	StatusStarted  Status = "started"
	StatusPaused   Status = "paused"
	StatusDisabled Status = "disabled"
	StatusStopped  Status = "stopped"
)

// DefaultHistoryLimit bounds each trigger's retained firing results.
const DefaultHistoryLimit = 100

// Result records one firing attempt.
type Result struct {
	TriggerID   string         `json:"trigger_id"`
	WorkflowID  string         `json:"workflow_id"`
	TriggeredAt time.Time      `json:"triggered_at"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
}

// Dispatcher starts a workflow execution on behalf of a trigger.
type Dispatcher interface {
	Dispatch(ctx context.Context, workflowID string, inputs map[string]any) (executionID string, err error)
}

// EngineDispatcher adapts a workflow engine to the Dispatcher interface.
// The execution runs synchronously on the firing goroutine.
type EngineDispatcher struct {
	Engine *workflow.Engine
}

func (d EngineDispatcher) Dispatch(ctx context.Context, workflowID string, inputs map[string]any) (string, error) {
	result, err := d.Engine.Execute(ctx, workflowID, inputs)
	if err != nil {
		return "", err
	}
	if !result.Succeeded() {
		return result.ExecutionID, fmt.Errorf("execution %s ended %s: %s", result.ExecutionID, result.Status, result.Error)
	}
	return result.ExecutionID, nil
}

// Trigger is the behavior every trigger kind shares.
type Trigger interface {
	ID() string
	WorkflowID() string
	Status() Status
	Start() error
	Stop()
	Pause()
	Resume()
	Disable()
	Enable()
	Trigger(ctx context.Context, inputs, metadata map[string]any) Result
	History(limit int) []Result
}

// base carries the shared lifecycle and history machinery. Concrete triggers
// embed it and add their stimulus source.
type base struct {
	mu           sync.Mutex
	id           string
	workflowID   string
	status       Status
	dispatcher   Dispatcher
	history      []Result
	historyLimit int
}

func newBase(id, workflowID string, d Dispatcher) base {
	return base{
		id:           id,
		workflowID:   workflowID,
		status:       StatusCreated,
		dispatcher:   d,
		historyLimit: DefaultHistoryLimit,
	}
}

func (b *base) ID() string         { return b.id }
func (b *base) WorkflowID() string { return b.workflowID }

func (b *base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *base) setStatus(s Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

// transition moves to next only when the current status is one of from,
// reporting whether the move happened.
func (b *base) transition(next Status, from ...Status) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range from {
		if b.status == f {
			b.status = next
			return true
		}
	}
	return false
}

func (b *base) Start() error {
	if !b.transition(StatusStarted, StatusCreated, StatusStopped, StatusPaused) {
		return fmt.Errorf("trigger %s cannot start from %s", b.id, b.Status())
	}
	return nil
}

func (b *base) Stop()    { b.setStatus(StatusStopped) }
func (b *base) Pause()   { b.transition(StatusPaused, StatusStarted) }
func (b *base) Resume()  { b.transition(StatusStarted, StatusPaused) }
func (b *base) Disable() { b.setStatus(StatusDisabled) }
func (b *base) Enable()  { b.transition(StatusCreated, StatusDisabled) }

// active reports whether the trigger currently accepts stimuli.
func (b *base) active() bool { return b.Status() == StatusStarted }

// Trigger fires the workflow with the given inputs, recording the result in
// history. An inactive trigger records and returns a failed result without
// dispatching.
func (b *base) Trigger(ctx context.Context, inputs, metadata map[string]any) Result {
	res := Result{
		TriggerID:   b.id,
		WorkflowID:  b.workflowID,
		TriggeredAt: time.Now().UTC(),
		Inputs:      inputs,
		Metadata:    metadata,
	}
	if !b.active() {
		res.Error = fmt.Sprintf("trigger %s is %s", b.id, b.Status())
		b.record(res)
		return res
	}
	execID, err := b.dispatcher.Dispatch(ctx, b.workflowID, inputs)
	res.ExecutionID = execID
	if err != nil {
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	b.record(res)
	return res
}

func (b *base) record(res Result) {
	b.mu.Lock()
	b.history = append(b.history, res)
	if len(b.history) > b.historyLimit {
		b.history = b.history[len(b.history)-b.historyLimit:]
	}
	b.mu.Unlock()
}

// History returns up to limit results, oldest first. A limit of zero or
// below returns everything retained.
func (b *base) History(limit int) []Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]Result(nil), b.history...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Manual is a trigger fired only by direct Trigger calls. It exists so
// on-demand dispatch shares the same lifecycle and history as the other
// trigger kinds.
type Manual struct {
	base
}

// NewManual creates a manual trigger.
func NewManual(id, workflowID string, d Dispatcher) *Manual {
	return &Manual{base: newBase(id, workflowID, d)}
}
