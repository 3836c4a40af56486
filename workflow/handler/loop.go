package handler

import (
	"context"
	"fmt"

	"github.com/floworc/floworc/workflow"
	"github.com/floworc/floworc/workflow/expr"
)

// DefaultMaxIterations is the loop safety ceiling when unconfigured.
const DefaultMaxIterations = 1000

// LoopHandler repeats a nested body step.
//
// Modes (config key "mode"):
//   - for_each: iterate the resolved "items" collection, binding
//     item_variable (default "item") and index_variable (default "index")
//     per iteration
//   - map: for_each whose output is just the list of body outputs
//   - while: repeat while "condition" is truthy
//   - until: repeat until "condition" is truthy
//   - times: repeat "count" times, binding index_variable
//
// Other config keys:
//   - body: nested step map dispatched through the handler registry, or
//   - expression: a value resolved per iteration instead of a body step
//   - max_iterations: safety ceiling (default 1000)
//   - continue_on_error: collect body errors instead of failing fast
//   - output_variable: variable to receive the loop output
type LoopHandler struct {
	handlers *workflow.HandlerRegistry
	resolver *expr.Resolver
}

// NewLoopHandler creates a loop handler dispatching bodies through reg.
func NewLoopHandler(reg *workflow.HandlerRegistry, resolver *expr.Resolver) *LoopHandler {
	if resolver == nil {
		resolver = expr.New()
	}
	return &LoopHandler{handlers: reg, resolver: resolver}
}

func (h *LoopHandler) Type() workflow.StepType { return workflow.StepLoop }

func (h *LoopHandler) Execute(ctx context.Context, step *workflow.Step, ec *workflow.ExecutionContext) (any, error) {
	mode := configString(step.Config, "mode")
	if mode == "" {
		mode = "for_each"
	}

	maxIter := configInt(step.Config, "max_iterations", DefaultMaxIterations)
	if maxIter < 0 {
		maxIter = 0
	}

	var results []any
	var errs []any
	iterations := 0

	runBody := func() error {
		out, err := h.runIteration(ctx, step, ec)
		iterations++
		if err != nil {
			if configBool(step.Config, "continue_on_error", false) {
				errs = append(errs, map[string]any{
					"iteration": iterations - 1,
					"error":     err.Error(),
				})
				return nil
			}
			return fmt.Errorf("loop step %q: iteration %d: %w", step.ID, iterations-1, err)
		}
		results = append(results, out)
		return nil
	}

	itemVar := configString(step.Config, "item_variable")
	if itemVar == "" {
		itemVar = "item"
	}
	indexVar := configString(step.Config, "index_variable")
	if indexVar == "" {
		indexVar = "index"
	}

	switch mode {
	case "for_each", "map":
		items, err := h.resolveItems(step, ec)
		if err != nil {
			return nil, fmt.Errorf("loop step %q: %w", step.ID, err)
		}
		for i, item := range items {
			if i >= maxIter {
				break
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			ec.Set(itemVar, item)
			ec.Set(indexVar, float64(i))
			if err := runBody(); err != nil {
				return nil, err
			}
		}

	case "times":
		count := configInt(step.Config, "count", 0)
		if count > maxIter {
			count = maxIter
		}
		for i := 0; i < count; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			ec.Set(indexVar, float64(i))
			if err := runBody(); err != nil {
				return nil, err
			}
		}

	case "while", "until":
		condition := configString(step.Config, "condition")
		for iterations < maxIter {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			truthy, err := h.resolver.Truthy(condition, ec.Snapshot())
			if err != nil {
				return nil, fmt.Errorf("loop step %q: condition: %w", step.ID, err)
			}
			if mode == "while" && !truthy {
				break
			}
			if mode == "until" && truthy {
				break
			}
			if err := runBody(); err != nil {
				return nil, err
			}
		}

	default:
		return nil, fmt.Errorf("loop step %q: unknown mode %q", step.ID, mode)
	}

	if results == nil {
		results = []any{}
	}

	var output any
	if mode == "map" {
		output = results
	} else {
		m := map[string]any{
			"iterations": float64(iterations),
			"results":    results,
		}
		if len(errs) > 0 {
			m["errors"] = errs
		}
		output = m
	}

	if outVar := configString(step.Config, "output_variable"); outVar != "" {
		ec.Set(outVar, output)
	}
	return output, nil
}

// runIteration runs the loop body once: either the nested body step or the
// per-iteration expression.
func (h *LoopHandler) runIteration(ctx context.Context, step *workflow.Step, ec *workflow.ExecutionContext) (any, error) {
	if body := configMap(step.Config, "body"); body != nil {
		bodyStep, err := stepFromConfig(body)
		if err != nil {
			return nil, fmt.Errorf("body: %w", err)
		}
		if bodyStep.ID == "" {
			bodyStep.ID = step.ID + "_body"
		}
		sub := h.handlers.Get(bodyStep.Type)
		if sub == nil {
			return nil, fmt.Errorf("no handler for body type %q", bodyStep.Type)
		}
		return sub.Execute(ctx, bodyStep, ec)
	}
	return h.resolver.ResolveValue(step.Config["expression"], ec.Snapshot())
}

// resolveItems resolves the for_each collection from the "items" config:
// an inline list, or an expression yielding a list.
func (h *LoopHandler) resolveItems(step *workflow.Step, ec *workflow.ExecutionContext) ([]any, error) {
	raw := step.Config["items"]
	resolved, err := h.resolver.ResolveValue(raw, ec.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("items: %w", err)
	}
	switch v := resolved.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	default:
		return nil, fmt.Errorf("items resolved to %T, want a list", resolved)
	}
}
