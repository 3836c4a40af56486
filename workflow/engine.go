package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/floworc/floworc/workflow/emit"
)

// Variable keys the engine writes into the execution scope after each step.
const (
	// VarLast holds the output of the most recently completed step.
	VarLast = "_last"

	// VarLastStep holds the id of the most recently completed step.
	VarLastStep = "_last_step"

	// VarConditionNext is written by condition handlers to route the engine
	// to a chosen step. The engine consumes and clears it after routing.
	VarConditionNext = "_condition_next"
)

// Hooks are optional callbacks fired at execution lifecycle points.
// Nil fields are skipped. Hooks run synchronously on the driver goroutine;
// keep them fast.
type Hooks struct {
	OnStart        func(executionID, workflowID string)
	OnStepStart    func(executionID string, step *Step)
	OnStepComplete func(executionID string, result StepResult)
	OnError        func(executionID string, err error)
	OnComplete     func(executionID string, status Status, elapsed time.Duration)
}

// EngineOptions configure driver loop behavior.
type EngineOptions struct {
	// CheckpointEachStep takes a checkpoint before every step.
	CheckpointEachStep bool

	// FailFast stops the execution on the first failed step that has no
	// on_error route.
	FailFast bool

	// DefaultStepTimeout bounds step attempts that declare no timeout.
	DefaultStepTimeout time.Duration

	// MaxSteps caps driver loop iterations, guarding against definition
	// cycles. Zero uses DefaultMaxSteps.
	MaxSteps int
}

// DefaultMaxSteps is the driver loop iteration cap when unconfigured.
const DefaultMaxSteps = 1000

// Engine executes workflow definitions: it drives the step loop, persists
// state through the store, routes between steps, and reports lifecycle
// events to the emitter and hooks.
type Engine struct {
	registry *Registry
	store    StateStore
	handlers *HandlerRegistry
	emitter  emit.Emitter
	executor *Executor
	opts     EngineOptions
	hooks    Hooks

	mu      sync.Mutex
	running map[string]*ExecutionContext // live executions by id
}

// NewEngine creates an engine. A nil store defaults to an in-memory store;
// a nil emitter discards events.
func NewEngine(registry *Registry, store StateStore, handlers *HandlerRegistry, emitter emit.Emitter, opts EngineOptions) *Engine {
	if store == nil {
		store = NewMemoryStore()
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	return &Engine{
		registry: registry,
		store:    store,
		handlers: handlers,
		emitter:  emitter,
		executor: NewExecutor(opts.DefaultStepTimeout),
		opts:     opts,
		running:  make(map[string]*ExecutionContext),
	}
}

// SetHooks installs lifecycle hooks. Call before executing.
func (e *Engine) SetHooks(h Hooks) { e.hooks = h }

// Store returns the engine's state store.
func (e *Engine) Store() StateStore { return e.store }

// Execute runs a workflow to completion (or pause) and returns the result.
// The returned error covers setup failures only (unknown or disabled
// workflow, store errors); step failures are reported in the result.
func (e *Engine) Execute(ctx context.Context, workflowID string, inputs map[string]any) (*ExecutionResult, error) {
	def, err := e.registry.Get(workflowID)
	if err != nil {
		return nil, err
	}
	if !def.Enabled {
		return nil, ErrWorkflowDisabled
	}

	executionID := uuid.NewString()
	state := NewState(executionID, workflowID, inputs)
	if err := e.store.CreateState(ctx, state); err != nil {
		return nil, fmt.Errorf("create state: %w", err)
	}

	ec := NewExecutionContext(executionID, workflowID, state.Variables)
	return e.drive(ctx, def, state, ec, def.StartAt(), nil)
}

// Resume re-enters the driver loop for a paused execution, restoring state
// from the latest valid checkpoint when one exists.
func (e *Engine) Resume(ctx context.Context, executionID string) (*ExecutionResult, error) {
	state, err := e.store.GetState(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		return nil, &EngineError{
			Message: fmt.Sprintf("execution %s is %s and cannot resume", executionID, state.Status),
			Code:    "ALREADY_TERMINAL",
		}
	}

	if recovered, rErr := e.store.Recover(ctx, executionID); rErr == nil {
		state = recovered
	}

	def, err := e.registry.Get(state.WorkflowID)
	if err != nil {
		return nil, err
	}

	// The persisted pending step carries the routing decision made before
	// the pause. Older states without one fall back to continuing after the
	// last completed step, or from the recorded current step when it never
	// completed.
	resumeAt := state.NextStep
	if resumeAt == "" {
		resumeAt = state.CurrentStep
		if resumeAt == "" {
			resumeAt = def.StartAt()
		} else if ss, ok := state.Steps[resumeAt]; ok && ss.Status == StepCompleted {
			resumeAt = e.nextStep(def, def.Step(resumeAt), nil)
		}
	}

	ec := NewExecutionContext(executionID, state.WorkflowID, state.Variables)
	e.emitter.Emit(emit.New(emit.TypeWorkflowResumed, executionID, state.WorkflowID, "", nil))

	return e.drive(ctx, def, state, ec, resumeAt, priorResults(def, state))
}

// priorResults reconstructs step results for steps settled before a pause,
// in declaration order, so a resumed execution reports the full history.
func priorResults(def *Definition, state *State) []StepResult {
	var out []StepResult
	for i := range def.Steps {
		id := def.Steps[i].ID
		ss, ok := state.Steps[id]
		if !ok {
			continue
		}
		switch ss.Status {
		case StepCompleted:
			out = append(out, StepResult{
				StepID:   id,
				Status:   OutcomeSuccess,
				Output:   ss.Output,
				Attempts: ss.RetryCount + 1,
			})
		case StepFailed:
			out = append(out, StepResult{
				StepID:   id,
				Status:   OutcomeFailed,
				Error:    ss.Error,
				Attempts: ss.RetryCount + 1,
			})
		}
	}
	return out
}

// Pause requests that a live execution stop at its next step boundary.
func (e *Engine) Pause(executionID string) error {
	e.mu.Lock()
	ec, ok := e.running[executionID]
	e.mu.Unlock()
	if !ok {
		return ErrExecutionNotFound
	}
	ec.RequestPause()
	return nil
}

// Cancel requests that a live execution stop permanently at its next step
// boundary.
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	ec, ok := e.running[executionID]
	e.mu.Unlock()
	if !ok {
		return ErrExecutionNotFound
	}
	ec.Cancel()
	return nil
}

// drive is the driver loop: it runs steps from current until the workflow
// completes, fails, pauses, or is cancelled.
func (e *Engine) drive(ctx context.Context, def *Definition, state *State, ec *ExecutionContext, current string, results []StepResult) (*ExecutionResult, error) {
	started := time.Now()

	e.mu.Lock()
	e.running[ec.ExecutionID()] = ec
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, ec.ExecutionID())
		e.mu.Unlock()
	}()

	state.SetStatus(StatusRunning)
	e.syncState(ctx, state, ec)

	if e.hooks.OnStart != nil {
		e.hooks.OnStart(ec.ExecutionID(), def.ID)
	}
	e.emitter.Emit(emit.New(emit.TypeWorkflowStarted, ec.ExecutionID(), def.ID, "", nil))

	var execErr error
	steps := 0

	for current != "" {
		// Record the pending step before any pause or checkpoint so routing
		// decisions (condition overrides included) survive a suspension.
		state.NextStep = current

		if ec.Cancelled() || ctx.Err() != nil {
			state.SetStatus(StatusCancelled)
			e.syncState(ctx, state, ec)
			e.emitter.Emit(emit.New(emit.TypeWorkflowCancelled, ec.ExecutionID(), def.ID, "", nil))
			return e.finish(state, ec, results, started), nil
		}

		if ec.PauseRequested() {
			state.SetStatus(StatusPaused)
			e.syncState(ctx, state, ec)
			if cp, err := e.store.Checkpoint(ctx, state); err == nil {
				e.emitter.Emit(emit.New(emit.TypeCheckpointCreated, ec.ExecutionID(), def.ID, "",
					map[string]any{"checkpoint_id": cp.CheckpointID}))
			}
			e.emitter.Emit(emit.New(emit.TypeWorkflowPaused, ec.ExecutionID(), def.ID, "", nil))
			return e.finish(state, ec, results, started), nil
		}

		steps++
		if steps > e.opts.MaxSteps {
			execErr = ErrMaxStepsExceeded
			break
		}

		step := def.Step(current)
		if step == nil {
			execErr = &EngineError{
				Message: fmt.Sprintf("step %q not found in workflow %s", current, def.ID),
				Code:    "STEP_NOT_FOUND",
			}
			break
		}

		if e.opts.CheckpointEachStep {
			e.syncState(ctx, state, ec)
			if cp, err := e.store.Checkpoint(ctx, state); err == nil {
				e.emitter.Emit(emit.New(emit.TypeCheckpointCreated, ec.ExecutionID(), def.ID, step.ID,
					map[string]any{"checkpoint_id": cp.CheckpointID}))
			}
		}

		result := e.runStep(ctx, def, step, state, ec)
		results = append(results, result)

		if !result.IsSuccess() {
			if result.Status == OutcomeCancelled {
				state.SetStatus(StatusCancelled)
				e.syncState(ctx, state, ec)
				e.emitter.Emit(emit.New(emit.TypeWorkflowCancelled, ec.ExecutionID(), def.ID, step.ID, nil))
				return e.finish(state, ec, results, started), nil
			}
			if step.OnError != "" {
				current = step.OnError
				continue
			}
			if e.opts.FailFast {
				execErr = &EngineError{
					Message: fmt.Sprintf("step %q failed: %s", step.ID, result.Error),
					Code:    "STEP_FAILED",
				}
				break
			}
			// Tolerant mode: record the failure and keep going.
			current = e.nextStep(def, step, ec)
			continue
		}

		current = e.nextStep(def, step, ec)
	}

	state.NextStep = ""
	if execErr != nil {
		state.Error = execErr.Error()
		state.SetStatus(StatusFailed)
		e.syncState(ctx, state, ec)
		if e.hooks.OnError != nil {
			e.hooks.OnError(ec.ExecutionID(), execErr)
		}
		e.emitter.Emit(emit.New(emit.TypeWorkflowFailed, ec.ExecutionID(), def.ID, "",
			map[string]any{"error": execErr.Error()}))
	} else {
		state.SetStatus(StatusCompleted)
		e.syncState(ctx, state, ec)
		e.emitter.Emit(emit.New(emit.TypeWorkflowCompleted, ec.ExecutionID(), def.ID, "",
			map[string]any{"duration_ms": time.Since(started).Milliseconds()}))
	}

	return e.finish(state, ec, results, started), nil
}

// runStep executes one step through its handler under executor semantics
// and records the transition on the state.
func (e *Engine) runStep(ctx context.Context, def *Definition, step *Step, state *State, ec *ExecutionContext) StepResult {
	if e.hooks.OnStepStart != nil {
		e.hooks.OnStepStart(ec.ExecutionID(), step)
	}
	e.emitter.Emit(emit.New(emit.TypeStepStarted, ec.ExecutionID(), def.ID, step.ID, nil))

	state.MarkStepStarted(step.ID, ec.Snapshot())

	handler := e.handlers.Get(step.Type)
	var result StepResult
	if handler == nil {
		result = StepResult{
			StepID:   step.ID,
			Status:   OutcomeFailed,
			Error:    fmt.Sprintf("%v: %s", ErrNoHandler, step.Type),
			Attempts: 1,
		}
	} else {
		result = e.executor.Execute(ctx, step, func(attemptCtx context.Context) (any, error) {
			return handler.Execute(attemptCtx, step, ec)
		})
	}

	if result.IsSuccess() {
		state.MarkStepCompleted(step.ID, result.Output)
		ec.SetAll(map[string]any{
			step.ID:     result.Output,
			VarLast:     result.Output,
			VarLastStep: step.ID,
		})
		e.emitter.Emit(emit.New(emit.TypeStepCompleted, ec.ExecutionID(), def.ID, step.ID,
			map[string]any{"duration_ms": result.DurationMS, "attempts": result.Attempts}))
	} else {
		state.MarkStepFailed(step.ID, result.Error, result.Attempts-1)
		e.emitter.Emit(emit.New(emit.TypeStepFailed, ec.ExecutionID(), def.ID, step.ID,
			map[string]any{"error": result.Error, "attempts": result.Attempts}))
	}

	if e.hooks.OnStepComplete != nil {
		e.hooks.OnStepComplete(ec.ExecutionID(), result)
	}
	return result
}

// nextStep resolves the id of the step to run after step: the condition
// handler's routing override first, then the explicit next_step, then the
// declaration-order successor. Empty means the workflow is done.
func (e *Engine) nextStep(def *Definition, step *Step, ec *ExecutionContext) string {
	if ec != nil {
		if v, ok := ec.Get(VarConditionNext); ok {
			ec.Delete(VarConditionNext)
			if next, ok := v.(string); ok && next != "" {
				return next
			}
		}
	}
	if step.NextStep != "" {
		return step.NextStep
	}
	return def.Successor(step.ID)
}

// syncState copies the live variable scope into the state and persists it.
// Store failures are reported to the emitter but do not stop execution.
func (e *Engine) syncState(ctx context.Context, state *State, ec *ExecutionContext) {
	state.Variables = ec.Snapshot()
	if err := e.store.UpdateState(ctx, state); err != nil {
		e.emitter.Emit(emit.New(emit.TypeWorkflowFailed, state.ExecutionID, state.WorkflowID, "",
			map[string]any{"error": "state update failed: " + err.Error()}))
	}
}

// finish assembles the execution result and fires the completion hook.
func (e *Engine) finish(state *State, ec *ExecutionContext, results []StepResult, started time.Time) *ExecutionResult {
	elapsed := time.Since(started)
	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(ec.ExecutionID(), state.Status, elapsed)
	}
	return &ExecutionResult{
		ExecutionID: ec.ExecutionID(),
		WorkflowID:  state.WorkflowID,
		Status:      state.Status,
		Variables:   ec.Snapshot(),
		StepResults: results,
		Error:       state.Error,
		StartedAt:   state.StartedAt,
		DurationMS:  elapsed.Milliseconds(),
	}
}
