package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/floworc/floworc/workflow"
	"github.com/floworc/floworc/workflow/expr"
)

// ParallelHandler fans a step out into concurrent branches. Each branch is
// a nested step (id, type, config) dispatched through the shared handler
// registry; string config values are resolved against the scope before the
// branch runs.
//
// Config keys:
//   - branches: list of branch step maps (required; empty runs nothing)
//   - join: "all" (default), "any", or "first"
//   - max_concurrency: cap on branches in flight (default unbounded)
//   - fail_on_error: propagate a failed join as a step failure (default true)
//   - output_variable: variable to receive the aggregate output
//
// Aggregate output shape:
//
//	{"succeeded": [ids], "failed": [{"branch_id", "error"}], "results": {id: output}}
type ParallelHandler struct {
	handlers *workflow.HandlerRegistry
	resolver *expr.Resolver
}

// NewParallelHandler creates a parallel handler dispatching branches
// through reg.
func NewParallelHandler(reg *workflow.HandlerRegistry, resolver *expr.Resolver) *ParallelHandler {
	if resolver == nil {
		resolver = expr.New()
	}
	return &ParallelHandler{handlers: reg, resolver: resolver}
}

func (h *ParallelHandler) Type() workflow.StepType { return workflow.StepParallel }

func (h *ParallelHandler) Execute(ctx context.Context, step *workflow.Step, ec *workflow.ExecutionContext) (any, error) {
	branches := configSlice(step.Config, "branches")
	if len(branches) == 0 {
		return map[string]any{
			"succeeded": []any{},
			"failed":    []any{},
			"results":   map[string]any{},
		}, nil
	}

	scope := ec.Snapshot()
	tasks := make([]workflow.BranchTask, 0, len(branches))
	for i, raw := range branches {
		branchStep, err := stepFromConfig(raw)
		if err != nil {
			return nil, fmt.Errorf("parallel step %q: branch %d: %w", step.ID, i, err)
		}
		if branchStep.ID == "" {
			branchStep.ID = fmt.Sprintf("branch_%d", i)
		}
		resolvedConfig, err := h.resolver.ResolveValue(branchStep.Config, scope)
		if err != nil {
			return nil, fmt.Errorf("parallel step %q: branch %q config: %w", step.ID, branchStep.ID, err)
		}
		if m, ok := resolvedConfig.(map[string]any); ok {
			branchStep.Config = m
		}

		bs := branchStep
		tasks = append(tasks, workflow.BranchTask{
			ID: bs.ID,
			Run: func(taskCtx context.Context) (any, error) {
				sub := h.handlers.Get(bs.Type)
				if sub == nil {
					return nil, fmt.Errorf("no handler for branch type %q", bs.Type)
				}
				return sub.Execute(taskCtx, bs, ec)
			},
		})
	}

	join := workflow.JoinStrategy(configString(step.Config, "join"))
	if join == "" {
		join = workflow.JoinAll
	}

	executor := workflow.NewParallelExecutor(configInt(step.Config, "max_concurrency", 0))
	results, joinErr := executor.Execute(ctx, tasks, join)

	succeeded := []any{}
	failed := []any{}
	outputs := map[string]any{}
	for _, r := range results {
		if r.Succeeded() {
			succeeded = append(succeeded, r.ID)
			outputs[r.ID] = r.Output
		} else {
			failed = append(failed, map[string]any{
				"branch_id": r.ID,
				"error":     r.Error,
			})
		}
	}

	output := map[string]any{
		"succeeded": succeeded,
		"failed":    failed,
		"results":   outputs,
	}
	if outVar := configString(step.Config, "output_variable"); outVar != "" {
		ec.Set(outVar, output)
	}

	if joinErr != nil && configBool(step.Config, "fail_on_error", true) {
		return output, fmt.Errorf("parallel step %q: %w", step.ID, joinErr)
	}
	return output, nil
}

// stepFromConfig builds a nested step from its JSON-shaped map form.
func stepFromConfig(raw any) (*workflow.Step, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected step map, got %T", raw)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal step: %w", err)
	}
	var s workflow.Step
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal step: %w", err)
	}
	if s.Type == "" {
		return nil, fmt.Errorf("step has no type")
	}
	return &s, nil
}
