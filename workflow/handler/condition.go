package handler

import (
	"context"
	"fmt"

	"github.com/floworc/floworc/workflow"
	"github.com/floworc/floworc/workflow/expr"
)

// ConditionHandler routes execution by evaluating conditions against the
// variable scope. The selected step id is written to the reserved
// "_condition_next" variable, which the engine consumes for routing.
//
// Two modes:
//
// Branch mode, config:
//   - branches: ordered list of {condition, next_step} pairs (maps, or
//     two-element [condition, next_step] lists); the first truthy
//     condition wins
//   - default_step (or default): fallback when no branch matches
//
// Switch mode, config:
//   - switch_variable: expression resolved and matched against cases
//   - cases: map of value -> next_step
//   - default_step (or default): fallback for unmatched values
//
// In both modes output_variable, when set, receives the selected step id.
// An empty selection leaves routing to the engine's sequential fallback.
type ConditionHandler struct {
	resolver *expr.Resolver
}

// NewConditionHandler creates a condition handler.
func NewConditionHandler(resolver *expr.Resolver) *ConditionHandler {
	if resolver == nil {
		resolver = expr.New()
	}
	return &ConditionHandler{resolver: resolver}
}

func (h *ConditionHandler) Type() workflow.StepType { return workflow.StepCondition }

func (h *ConditionHandler) Execute(ctx context.Context, step *workflow.Step, ec *workflow.ExecutionContext) (any, error) {
	scope := ec.Snapshot()

	var selected string
	var err error
	if _, hasSwitch := step.Config["switch_variable"]; hasSwitch {
		selected, err = h.selectSwitch(step, scope)
	} else {
		selected, err = h.selectBranch(step, scope)
	}
	if err != nil {
		return nil, fmt.Errorf("condition step %q: %w", step.ID, err)
	}

	if selected != "" {
		ec.Set(workflow.VarConditionNext, selected)
	}
	if outVar := configString(step.Config, "output_variable"); outVar != "" {
		ec.Set(outVar, selected)
	}
	return selected, nil
}

func (h *ConditionHandler) selectBranch(step *workflow.Step, scope map[string]any) (string, error) {
	for i, raw := range configSlice(step.Config, "branches") {
		condition, next, ok := branchPair(raw)
		if !ok {
			return "", fmt.Errorf("branch %d is malformed", i)
		}
		truthy, err := h.resolver.Truthy(condition, scope)
		if err != nil {
			return "", fmt.Errorf("branch %d condition: %w", i, err)
		}
		if truthy {
			return next, nil
		}
	}
	return h.defaultStep(step), nil
}

func (h *ConditionHandler) selectSwitch(step *workflow.Step, scope map[string]any) (string, error) {
	value, err := h.resolver.Resolve(configString(step.Config, "switch_variable"), scope)
	if err != nil {
		return "", fmt.Errorf("switch variable: %w", err)
	}
	key := expr.Stringify(value)
	if next, ok := configMap(step.Config, "cases")[key].(string); ok {
		return next, nil
	}
	return h.defaultStep(step), nil
}

func (h *ConditionHandler) defaultStep(step *workflow.Step) string {
	if d := configString(step.Config, "default_step"); d != "" {
		return d
	}
	return configString(step.Config, "default")
}

// branchPair extracts (condition, next_step) from either a map or a
// two-element list.
func branchPair(raw any) (condition, next string, ok bool) {
	switch b := raw.(type) {
	case map[string]any:
		condition, _ = b["condition"].(string)
		next, _ = b["next_step"].(string)
		return condition, next, condition != "" && next != ""
	case []any:
		if len(b) != 2 {
			return "", "", false
		}
		condition, _ = b[0].(string)
		next, _ = b[1].(string)
		return condition, next, condition != "" && next != ""
	}
	return "", "", false
}
