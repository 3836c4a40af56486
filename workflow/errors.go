package workflow

import "errors"

// ErrWorkflowNotFound is returned when the referenced workflow id is not
// registered.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrWorkflowDisabled is returned when execution of a disabled workflow is
// requested.
var ErrWorkflowDisabled = errors.New("workflow is disabled")

// ErrExecutionNotFound is returned when the referenced execution id has no
// state in the store.
var ErrExecutionNotFound = errors.New("execution not found")

// ErrNoHandler is returned when a step's type has no registered handler.
// The step fails immediately and is never retried.
var ErrNoHandler = errors.New("no handler registered for step type")

// ErrNoValidCheckpoint is returned by recovery when every stored checkpoint
// fails digest validation (or none exist).
var ErrNoValidCheckpoint = errors.New("no valid checkpoint")

// ErrInvalidDefinition is returned when registration-time validation fails.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// ErrMaxStepsExceeded is returned when the driver loop exceeds the
// configured step budget, guarding against unbounded cycles.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// EngineError is a structured error from engine operations.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// stepError carries a retry classification alongside the underlying error.
// The step executor consults Class when matching RetryPolicy.RetryOn.
type stepError struct {
	err   error
	class string
}

func (e *stepError) Error() string { return e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// NewRetryableError wraps err with an explicit retry class.
func NewRetryableError(err error, class string) error {
	return &stepError{err: err, class: class}
}

// ErrorClass returns the retry class of err: an explicit class when wrapped
// via NewRetryableError, "timeout" for deadline errors, otherwise "error".
func ErrorClass(err error) string {
	var se *stepError
	if errors.As(err, &se) {
		return se.class
	}
	if errors.Is(err, errTimeout) {
		return "timeout"
	}
	return "error"
}

// errTimeout marks a step attempt that exceeded its timeout budget.
var errTimeout = errors.New("step timed out")
