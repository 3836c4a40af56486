package workflow

import "time"

// StepOutcome classifies how a step attempt sequence ended.
type StepOutcome string

const (
	OutcomeSuccess   StepOutcome = "success"
	OutcomeFailed    StepOutcome = "failed"
	OutcomeTimeout   StepOutcome = "timeout"
	OutcomeCancelled StepOutcome = "cancelled"
	OutcomeSkipped   StepOutcome = "skipped"
)

// StepResult is the normalized result of executing one step. Handlers never
// surface raw panics or exceptions past the step executor; every outcome is
// expressed here.
type StepResult struct {
	StepID     string      `json:"step_id"`
	Status     StepOutcome `json:"status"`
	Output     any         `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	Attempts   int         `json:"attempts"`
	DurationMS int64       `json:"duration_ms"`
}

// IsSuccess reports whether the step completed successfully.
func (r StepResult) IsSuccess() bool { return r.Status == OutcomeSuccess }

// ExecutionResult is what Engine.Execute returns for every invocation:
// a deterministic status, per-step results, and timing. Callers never need
// to recover panics or catch errors out of the driver loop; engine-level
// failures are carried in Error.
type ExecutionResult struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	Status      Status         `json:"status"`
	Variables   map[string]any `json:"variables,omitempty"`
	StepResults []StepResult   `json:"step_results"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	DurationMS  int64          `json:"duration_ms"`
}

// Succeeded reports whether the execution completed without failure.
func (r *ExecutionResult) Succeeded() bool { return r.Status == StatusCompleted }
