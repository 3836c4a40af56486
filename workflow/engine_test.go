package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/floworc/floworc/workflow/emit"
)

// funcHandler adapts a closure into a StepHandler for tests.
type funcHandler struct {
	stepType StepType
	fn       func(ctx context.Context, step *Step, ec *ExecutionContext) (any, error)
}

func (h *funcHandler) Type() StepType { return h.stepType }
func (h *funcHandler) Execute(ctx context.Context, step *Step, ec *ExecutionContext) (any, error) {
	return h.fn(ctx, step, ec)
}

func newTestEngine(t *testing.T, def *Definition, handlers *HandlerRegistry, opts EngineOptions) (*Engine, *emit.BufferedEmitter) {
	t.Helper()
	registry := NewRegistry()
	if err := registry.Register(def); err != nil {
		t.Fatalf("register: %v", err)
	}
	emitter := emit.NewBufferedEmitter()
	return NewEngine(registry, NewMemoryStore(), handlers, emitter, opts), emitter
}

func TestEngine_SequentialAgentChain(t *testing.T) {
	def := &Definition{
		ID:      "chain",
		Name:    "Sequential chain",
		Version: "1.0.0",
		Enabled: true,
		Steps: []Step{
			{ID: "a", Type: StepAgent},
			{ID: "b", Type: StepAgent},
			{ID: "c", Type: StepAgent},
		},
	}

	handlers := NewHandlerRegistry()
	handlers.Register(&funcHandler{stepType: StepAgent, fn: func(ctx context.Context, step *Step, ec *ExecutionContext) (any, error) {
		switch step.ID {
		case "a":
			return "hello", nil
		case "b":
			last, _ := ec.Get(VarLast)
			return last.(string) + " world", nil
		case "c":
			last, _ := ec.Get(VarLast)
			return strings.ToUpper(last.(string)), nil
		}
		return nil, errors.New("unknown step")
	}})

	engine, emitter := newTestEngine(t, def, handlers, EngineOptions{CheckpointEachStep: true, FailFast: true})

	result, err := engine.Execute(context.Background(), "chain", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, error = %s", result.Status, result.Error)
	}
	if result.Variables[VarLast] != "HELLO WORLD" {
		t.Errorf("_last = %v, want HELLO WORLD", result.Variables[VarLast])
	}
	if len(result.StepResults) != 3 {
		t.Errorf("step results = %d, want 3", len(result.StepResults))
	}

	checkpoints := emitter.HistoryWithFilter(result.ExecutionID, emit.HistoryFilter{Type: emit.TypeCheckpointCreated})
	if len(checkpoints) < 3 {
		t.Errorf("checkpoint events = %d, want >= 3", len(checkpoints))
	}
}

func TestEngine_ConditionalBranch(t *testing.T) {
	def := &Definition{
		ID:      "branching",
		Name:    "Conditional branch",
		Version: "1.0.0",
		Enabled: true,
		Steps: []Step{
			{ID: "classify", Type: StepCondition, Config: map[string]any{
				"branches": []any{
					[]any{"pos", "positive"},
					[]any{"neg", "negative"},
				},
				"default": "positive",
			}},
			{ID: "positive", Type: StepAgent},
			{ID: "negative", Type: StepAgent},
		},
	}

	handlers := NewHandlerRegistry()
	handlers.Register(&funcHandler{stepType: StepCondition, fn: func(ctx context.Context, step *Step, ec *ExecutionContext) (any, error) {
		last, _ := ec.Get(VarLast)
		target := "positive"
		if last == "neg" {
			target = "negative"
		}
		ec.Set(VarConditionNext, target)
		return target, nil
	}})
	var ran []string
	handlers.Register(&funcHandler{stepType: StepAgent, fn: func(ctx context.Context, step *Step, ec *ExecutionContext) (any, error) {
		ran = append(ran, step.ID)
		return step.ID + " done", nil
	}})

	engine, _ := newTestEngine(t, def, handlers, EngineOptions{FailFast: true})

	result, err := engine.Execute(context.Background(), "branching", map[string]any{VarLast: "neg"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, error = %s", result.Status, result.Error)
	}
	if len(ran) != 1 || ran[0] != "negative" {
		t.Errorf("ran = %v, want [negative]", ran)
	}
}

func TestEngine_OnErrorRouting(t *testing.T) {
	def := &Definition{
		ID:      "recoverable",
		Name:    "On-error route",
		Version: "1.0.0",
		Enabled: true,
		Steps: []Step{
			{ID: "risky", Type: StepAgent, OnError: "cleanup"},
			{ID: "never", Type: StepAgent},
			{ID: "cleanup", Type: StepAgent},
		},
	}

	var ran []string
	handlers := NewHandlerRegistry()
	handlers.Register(&funcHandler{stepType: StepAgent, fn: func(ctx context.Context, step *Step, ec *ExecutionContext) (any, error) {
		ran = append(ran, step.ID)
		if step.ID == "risky" {
			return nil, errors.New("deliberate")
		}
		return "ok", nil
	}})

	engine, _ := newTestEngine(t, def, handlers, EngineOptions{FailFast: true})

	result, err := engine.Execute(context.Background(), "recoverable", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, error = %s", result.Status, result.Error)
	}
	want := []string{"risky", "cleanup"}
	if len(ran) != 2 || ran[0] != want[0] || ran[1] != want[1] {
		t.Errorf("ran = %v, want %v", ran, want)
	}
}

func TestEngine_FailFast(t *testing.T) {
	def := &Definition{
		ID:      "fragile",
		Name:    "Fail fast",
		Version: "1.0.0",
		Enabled: true,
		Steps: []Step{
			{ID: "boom", Type: StepAgent},
			{ID: "after", Type: StepAgent},
		},
	}

	handlers := NewHandlerRegistry()
	handlers.Register(&funcHandler{stepType: StepAgent, fn: func(ctx context.Context, step *Step, ec *ExecutionContext) (any, error) {
		if step.ID == "boom" {
			return nil, errors.New("deliberate")
		}
		return "ok", nil
	}})

	engine, _ := newTestEngine(t, def, handlers, EngineOptions{FailFast: true})

	result, err := engine.Execute(context.Background(), "fragile", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if len(result.StepResults) != 1 {
		t.Errorf("step results = %d, want 1", len(result.StepResults))
	}
}

func TestEngine_PauseResume(t *testing.T) {
	steps := make([]Step, 5)
	ids := []string{"s1", "s2", "s3", "s4", "s5"}
	for i, id := range ids {
		steps[i] = Step{ID: id, Type: StepAgent}
	}
	def := &Definition{ID: "pausable", Name: "Pause resume", Version: "1.0.0", Enabled: true, Steps: steps}

	var ran []string
	handlers := NewHandlerRegistry()
	handlers.Register(&funcHandler{stepType: StepAgent, fn: func(ctx context.Context, step *Step, ec *ExecutionContext) (any, error) {
		ran = append(ran, step.ID)
		return step.ID, nil
	}})

	engine, _ := newTestEngine(t, def, handlers, EngineOptions{CheckpointEachStep: true, FailFast: true})
	engine.SetHooks(Hooks{
		OnStepComplete: func(executionID string, result StepResult) {
			if result.StepID == "s2" {
				_ = engine.Pause(executionID)
			}
		},
	})

	result, err := engine.Execute(context.Background(), "pausable", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusPaused {
		t.Fatalf("status = %s, want paused", result.Status)
	}
	if len(ran) != 2 {
		t.Fatalf("ran %v before pause, want 2 steps", ran)
	}

	stored, err := engine.Store().GetState(context.Background(), result.ExecutionID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != StatusPaused {
		t.Errorf("persisted status = %s, want paused", stored.Status)
	}

	engine.SetHooks(Hooks{})
	resumed, err := engine.Resume(context.Background(), result.ExecutionID)
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Status != StatusCompleted {
		t.Fatalf("resumed status = %s, error = %s", resumed.Status, resumed.Error)
	}
	if len(resumed.StepResults) != 5 {
		t.Errorf("resumed step results = %d, want 5", len(resumed.StepResults))
	}
	wantRan := []string{"s1", "s2", "s3", "s4", "s5"}
	if len(ran) != 5 {
		t.Fatalf("total steps ran = %v, want %v", ran, wantRan)
	}
	for i := range wantRan {
		if ran[i] != wantRan[i] {
			t.Errorf("ran[%d] = %s, want %s", i, ran[i], wantRan[i])
		}
	}
}

func TestEngine_PauseAfterConditionKeepsRoute(t *testing.T) {
	def := &Definition{
		ID:      "routed-pause",
		Name:    "Pause after condition",
		Version: "1.0.0",
		Enabled: true,
		Steps: []Step{
			{ID: "classify", Type: StepCondition},
			{ID: "positive", Type: StepAgent},
			{ID: "negative", Type: StepAgent},
		},
	}

	var ran []string
	handlers := NewHandlerRegistry()
	handlers.Register(&funcHandler{stepType: StepCondition, fn: func(ctx context.Context, step *Step, ec *ExecutionContext) (any, error) {
		// Route past the declaration-order successor.
		ec.Set(VarConditionNext, "negative")
		return "negative", nil
	}})
	handlers.Register(&funcHandler{stepType: StepAgent, fn: func(ctx context.Context, step *Step, ec *ExecutionContext) (any, error) {
		ran = append(ran, step.ID)
		return step.ID, nil
	}})

	engine, _ := newTestEngine(t, def, handlers, EngineOptions{FailFast: true})
	engine.SetHooks(Hooks{
		OnStepComplete: func(executionID string, result StepResult) {
			if result.StepID == "classify" {
				_ = engine.Pause(executionID)
			}
		},
	})

	result, err := engine.Execute(context.Background(), "routed-pause", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusPaused {
		t.Fatalf("status = %s, want paused", result.Status)
	}

	// The selected branch must survive the pause; resuming must not fall
	// back to the declaration-order successor.
	engine.SetHooks(Hooks{})
	resumed, err := engine.Resume(context.Background(), result.ExecutionID)
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Status != StatusCompleted {
		t.Fatalf("resumed status = %s, error = %s", resumed.Status, resumed.Error)
	}
	if len(ran) != 1 || ran[0] != "negative" {
		t.Errorf("ran = %v, want [negative]", ran)
	}
}

func TestEngine_Cancel(t *testing.T) {
	def := &Definition{
		ID:      "cancellable",
		Name:    "Cancel",
		Version: "1.0.0",
		Enabled: true,
		Steps: []Step{
			{ID: "s1", Type: StepAgent},
			{ID: "s2", Type: StepAgent},
			{ID: "s3", Type: StepAgent},
		},
	}

	handlers := NewHandlerRegistry()
	handlers.Register(&funcHandler{stepType: StepAgent, fn: func(ctx context.Context, step *Step, ec *ExecutionContext) (any, error) {
		return step.ID, nil
	}})

	engine, _ := newTestEngine(t, def, handlers, EngineOptions{FailFast: true})
	engine.SetHooks(Hooks{
		OnStepComplete: func(executionID string, result StepResult) {
			if result.StepID == "s1" {
				_ = engine.Cancel(executionID)
			}
		},
	})

	result, err := engine.Execute(context.Background(), "cancellable", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", result.Status)
	}
	if len(result.StepResults) != 1 {
		t.Errorf("step results = %d, want 1", len(result.StepResults))
	}
}

func TestEngine_DisabledWorkflowRefused(t *testing.T) {
	def := &Definition{
		ID:      "off",
		Name:    "Disabled",
		Version: "1.0.0",
		Enabled: false,
		Steps:   []Step{{ID: "s1", Type: StepAgent}},
	}
	engine, _ := newTestEngine(t, def, NewHandlerRegistry(), EngineOptions{})

	if _, err := engine.Execute(context.Background(), "off", nil); !errors.Is(err, ErrWorkflowDisabled) {
		t.Errorf("err = %v, want ErrWorkflowDisabled", err)
	}
}

func TestEngine_UnknownWorkflow(t *testing.T) {
	engine := NewEngine(NewRegistry(), nil, nil, nil, EngineOptions{})
	if _, err := engine.Execute(context.Background(), "ghost", nil); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("err = %v, want ErrWorkflowNotFound", err)
	}
}

func TestEngine_MissingHandlerFailsStep(t *testing.T) {
	def := &Definition{
		ID:      "nohandler",
		Name:    "No handler",
		Version: "1.0.0",
		Enabled: true,
		Steps:   []Step{{ID: "s1", Type: StepAgent}},
	}
	engine, _ := newTestEngine(t, def, NewHandlerRegistry(), EngineOptions{FailFast: true})

	result, err := engine.Execute(context.Background(), "nohandler", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if len(result.StepResults) != 1 || !strings.Contains(result.StepResults[0].Error, "no handler") {
		t.Errorf("step results = %+v", result.StepResults)
	}
}

func TestEngine_MaxStepsGuard(t *testing.T) {
	def := &Definition{
		ID:      "looping",
		Name:    "Infinite loop",
		Version: "1.0.0",
		Enabled: true,
		Steps: []Step{
			{ID: "a", Type: StepAgent, NextStep: "b"},
			{ID: "b", Type: StepAgent, NextStep: "a"},
		},
	}
	handlers := NewHandlerRegistry()
	handlers.Register(&funcHandler{stepType: StepAgent, fn: func(ctx context.Context, step *Step, ec *ExecutionContext) (any, error) {
		return nil, nil
	}})

	engine, _ := newTestEngine(t, def, handlers, EngineOptions{MaxSteps: 10})

	result, err := engine.Execute(context.Background(), "looping", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if !strings.Contains(result.Error, "maximum steps") {
		t.Errorf("error = %q, want max steps message", result.Error)
	}
}

func TestEngine_HooksFire(t *testing.T) {
	def := &Definition{
		ID:      "hooked",
		Name:    "Hooks",
		Version: "1.0.0",
		Enabled: true,
		Steps:   []Step{{ID: "s1", Type: StepAgent}},
	}
	handlers := NewHandlerRegistry()
	handlers.Register(&funcHandler{stepType: StepAgent, fn: func(ctx context.Context, step *Step, ec *ExecutionContext) (any, error) {
		return "done", nil
	}})

	engine, _ := newTestEngine(t, def, handlers, EngineOptions{})

	var started, stepStarted, stepDone, completed bool
	var elapsed time.Duration
	engine.SetHooks(Hooks{
		OnStart:        func(executionID, workflowID string) { started = true },
		OnStepStart:    func(executionID string, step *Step) { stepStarted = true },
		OnStepComplete: func(executionID string, result StepResult) { stepDone = true },
		OnComplete: func(executionID string, status Status, d time.Duration) {
			completed = true
			elapsed = d
		},
	})

	if _, err := engine.Execute(context.Background(), "hooked", nil); err != nil {
		t.Fatal(err)
	}
	if !started || !stepStarted || !stepDone || !completed {
		t.Errorf("hooks fired: start=%v stepStart=%v stepDone=%v complete=%v",
			started, stepStarted, stepDone, completed)
	}
	if elapsed < 0 {
		t.Errorf("elapsed = %s", elapsed)
	}
}
