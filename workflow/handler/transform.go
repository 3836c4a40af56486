package handler

import (
	"context"
	"fmt"

	"github.com/floworc/floworc/workflow"
	"github.com/floworc/floworc/workflow/expr"
)

// TransformHandler computes values from the variable scope without any
// external call.
//
// Config keys:
//   - expression: a single value resolved against the scope, or
//   - mappings: map of variable name -> expression; each result is written
//     into the scope and the full map is the step output
//   - output_variable: variable to receive the expression result
type TransformHandler struct {
	resolver *expr.Resolver
}

// NewTransformHandler creates a transform handler.
func NewTransformHandler(resolver *expr.Resolver) *TransformHandler {
	if resolver == nil {
		resolver = expr.New()
	}
	return &TransformHandler{resolver: resolver}
}

func (h *TransformHandler) Type() workflow.StepType { return workflow.StepTransform }

func (h *TransformHandler) Execute(ctx context.Context, step *workflow.Step, ec *workflow.ExecutionContext) (any, error) {
	scope := ec.Snapshot()

	if mappings := configMap(step.Config, "mappings"); mappings != nil {
		out := make(map[string]any, len(mappings))
		for name, raw := range mappings {
			resolved, err := h.resolver.ResolveValue(raw, scope)
			if err != nil {
				return nil, fmt.Errorf("transform step %q: mapping %q: %w", step.ID, name, err)
			}
			out[name] = resolved
			ec.Set(name, resolved)
		}
		return out, nil
	}

	result, err := h.resolver.ResolveValue(step.Config["expression"], scope)
	if err != nil {
		return nil, fmt.Errorf("transform step %q: %w", step.ID, err)
	}
	if outVar := configString(step.Config, "output_variable"); outVar != "" {
		ec.Set(outVar, result)
	}
	return result, nil
}
