package emit

import "time"

// Event types emitted by the workflow engine.
const (
	TypeWorkflowStarted   = "workflow.started"
	TypeWorkflowCompleted = "workflow.completed"
	TypeWorkflowFailed    = "workflow.failed"
	TypeWorkflowPaused    = "workflow.paused"
	TypeWorkflowResumed   = "workflow.resumed"
	TypeWorkflowCancelled = "workflow.cancelled"
	TypeStepStarted       = "step.started"
	TypeStepCompleted     = "step.completed"
	TypeStepFailed        = "step.failed"
	TypeCheckpointCreated = "checkpoint.created"
)

// Event is one observability record from workflow execution.
//
// Events cover workflow lifecycle transitions, per-step start/complete,
// and checkpoint operations. They carry enough identity to correlate a
// step back to its execution and workflow.
type Event struct {
	// Type classifies the event (see the Type* constants).
	Type string `json:"type"`

	// ExecutionID identifies the execution that emitted this event.
	ExecutionID string `json:"execution_id"`

	// WorkflowID identifies the workflow definition being executed.
	WorkflowID string `json:"workflow_id"`

	// StepID identifies the step for step-level events.
	// Empty for workflow-level events.
	StepID string `json:"step_id,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Meta contains additional structured data. Common keys:
	//   - "duration_ms": execution duration in milliseconds
	//   - "error": error details
	//   - "attempts": step attempt count
	//   - "checkpoint_id": checkpoint identifier
	//   - "status": terminal workflow status
	Meta map[string]any `json:"meta,omitempty"`
}

// New creates an event stamped with the current time.
func New(eventType, executionID, workflowID, stepID string, meta map[string]any) Event {
	return Event{
		Type:        eventType,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		StepID:      stepID,
		Timestamp:   time.Now().UTC(),
		Meta:        meta,
	}
}
