package workflow

import (
	"context"
	"fmt"
	"time"
)

// StepFunc is the unit of work the step executor runs: one attempt of one
// step. Implementations should honor ctx cancellation.
type StepFunc func(ctx context.Context) (any, error)

// Executor runs individual step attempts with timeout, retry, and
// cancellation semantics. A zero-value Executor is usable; DefaultTimeout
// bounds attempts whose step declares none.
type Executor struct {
	// DefaultTimeout bounds a single attempt when the step declares no
	// timeout. Zero means unbounded.
	DefaultTimeout time.Duration

	// Sleep is the backoff sleep function, injectable for tests.
	// Nil uses a context-aware real sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor with the given default attempt timeout.
func NewExecutor(defaultTimeout time.Duration) *Executor {
	return &Executor{DefaultTimeout: defaultTimeout}
}

// Execute runs the step function under the step's timeout and retry policy
// and returns a normalized result. It never panics out; every outcome is
// expressed in the StepResult.
//
// Attempt semantics: the initial attempt plus up to Retry.MaxRetries
// retries. Retries happen only for error classes the policy allows, with
// exponential backoff between attempts. Cancellation (via ctx) interrupts
// both running attempts and backoff sleeps and yields OutcomeCancelled.
func (e *Executor) Execute(ctx context.Context, step *Step, fn StepFunc) StepResult {
	started := time.Now()
	result := StepResult{StepID: step.ID}

	maxRetries := 0
	if step.Retry != nil {
		maxRetries = step.Retry.MaxRetries
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := step.Retry.Delay(attempt - 1)
			if err := e.sleep(ctx, delay); err != nil {
				result.Status = OutcomeCancelled
				result.Error = err.Error()
				result.Attempts = attempts
				result.DurationMS = time.Since(started).Milliseconds()
				return result
			}
		}

		output, err := e.runAttempt(ctx, step, fn)
		attempts++
		if err == nil {
			result.Status = OutcomeSuccess
			result.Output = output
			result.Attempts = attempts
			result.DurationMS = time.Since(started).Milliseconds()
			return result
		}
		lastErr = err

		if ctx.Err() != nil {
			result.Status = OutcomeCancelled
			result.Error = ctx.Err().Error()
			result.Attempts = attempts
			result.DurationMS = time.Since(started).Milliseconds()
			return result
		}

		class := ErrorClass(err)
		if attempt < maxRetries && step.Retry != nil && step.Retry.Retries(class) {
			continue
		}
		break
	}

	result.Attempts = attempts
	result.Error = lastErr.Error()
	if ErrorClass(lastErr) == "timeout" {
		result.Status = OutcomeTimeout
	} else {
		result.Status = OutcomeFailed
	}
	result.DurationMS = time.Since(started).Milliseconds()
	return result
}

// runAttempt runs one attempt of fn under the step's timeout. A timed-out
// attempt returns an error classified as "timeout"; the attempt goroutine
// is signalled to stop via context cancellation but its result, if it
// arrives later, is discarded.
func (e *Executor) runAttempt(ctx context.Context, step *Step, fn StepFunc) (any, error) {
	timeout := step.Timeout()
	if timeout <= 0 {
		timeout = e.DefaultTimeout
	}

	attemptCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type attemptResult struct {
		output any
		err    error
	}
	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("step panicked: %v", r)}
			}
		}()
		output, err := fn(attemptCtx)
		done <- attemptResult{output: output, err: err}
	}()

	select {
	case res := <-done:
		return res.output, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", errTimeout, timeout)
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
