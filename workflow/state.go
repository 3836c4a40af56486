package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a workflow execution.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusPaused       Status = "paused"
	StatusWaiting      Status = "waiting"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
	StatusCompensating Status = "compensating"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepStatus is the lifecycle state of a single step within an execution.
//
// Transitions are monotonic: pending to running to one of completed, failed,
// or skipped (compensated only after completed).
type StepStatus string

const (
	StepPending     StepStatus = "pending"
	StepRunning     StepStatus = "running"
	StepCompleted   StepStatus = "completed"
	StepFailed      StepStatus = "failed"
	StepSkipped     StepStatus = "skipped"
	StepCompensated StepStatus = "compensated"
)

// StepState records the progress of one step within an execution.
type StepState struct {
	Status      StepStatus     `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      any            `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	RetryCount  int            `json:"retry_count"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// State is the full mutable state of one workflow execution: status, the
// variable scope, and per-step progress. It is owned by the state store;
// the engine borrows it during a run.
type State struct {
	ExecutionID string                `json:"execution_id"`
	WorkflowID  string                `json:"workflow_id"`
	Status      Status                `json:"status"`
	CurrentStep string                `json:"current_step,omitempty"`
	NextStep    string                `json:"next_step,omitempty"`
	Variables   map[string]any        `json:"variables"`
	Steps       map[string]*StepState `json:"steps"`
	Error       string                `json:"error,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// NewState creates a pending execution state with the inputs merged into the
// initial variable scope.
func NewState(executionID, workflowID string, inputs map[string]any) *State {
	vars := make(map[string]any, len(inputs))
	for k, v := range inputs {
		vars[k] = v
	}
	return &State{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Status:      StatusPending,
		Variables:   vars,
		Steps:       make(map[string]*StepState),
		StartedAt:   time.Now().UTC(),
	}
}

// stepState returns the StepState for id, creating it if needed.
func (s *State) stepState(id string) *StepState {
	if s.Steps == nil {
		s.Steps = make(map[string]*StepState)
	}
	ss, ok := s.Steps[id]
	if !ok {
		ss = &StepState{Status: StepPending}
		s.Steps[id] = ss
	}
	return ss
}

// MarkStepStarted transitions the step to running and snapshots its input.
func (s *State) MarkStepStarted(id string, input map[string]any) {
	ss := s.stepState(id)
	now := time.Now().UTC()
	ss.Status = StepRunning
	ss.StartedAt = &now
	ss.Input = input
	s.CurrentStep = id
}

// MarkStepCompleted transitions the step to completed with its output.
func (s *State) MarkStepCompleted(id string, output any) {
	ss := s.stepState(id)
	now := time.Now().UTC()
	ss.Status = StepCompleted
	ss.Output = output
	ss.CompletedAt = &now
}

// MarkStepFailed transitions the step to failed with the error message.
func (s *State) MarkStepFailed(id string, errMsg string, retries int) {
	ss := s.stepState(id)
	now := time.Now().UTC()
	ss.Status = StepFailed
	ss.Error = errMsg
	ss.RetryCount = retries
	ss.CompletedAt = &now
}

// MarkStepSkipped records that the step was bypassed by routing.
func (s *State) MarkStepSkipped(id string) {
	ss := s.stepState(id)
	ss.Status = StepSkipped
}

// SetStatus transitions the workflow status, stamping CompletedAt on
// terminal transitions.
func (s *State) SetStatus(status Status) {
	s.Status = status
	if status.Terminal() {
		now := time.Now().UTC()
		s.CompletedAt = &now
	}
}

// RunningSteps returns the ids of steps currently marked running.
func (s *State) RunningSteps() []string {
	var out []string
	for id, ss := range s.Steps {
		if ss.Status == StepRunning {
			out = append(out, id)
		}
	}
	return out
}

// Clone returns a deep copy of the state via a JSON round-trip. The copy
// shares no mutable structure with the original.
func (s *State) Clone() (*State, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &out, nil
}
