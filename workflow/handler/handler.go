// Package handler provides the built-in step handlers: agent invocation,
// condition routing, parallel fan-out, loops, multi-agent orchestration,
// and transforms. Handlers resolve their configs through the expression
// resolver and are registered on a workflow.HandlerRegistry.
package handler

import (
	"github.com/floworc/floworc/agent"
	"github.com/floworc/floworc/workflow"
	"github.com/floworc/floworc/workflow/expr"
)

// RegisterAll registers every built-in handler on the registry, wiring the
// agent-backed handlers to the given invoker.
func RegisterAll(reg *workflow.HandlerRegistry, invoker agent.Invoker) {
	resolver := expr.New()
	reg.Register(NewAgentHandler(invoker, resolver))
	reg.Register(NewConditionHandler(resolver))
	reg.Register(NewParallelHandler(reg, resolver))
	reg.Register(NewLoopHandler(reg, resolver))
	reg.Register(NewMultiAgentHandler(invoker, resolver))
	reg.Register(NewTransformHandler(resolver))
}

// Config accessors. Step configs are JSON-shaped maps; these helpers
// normalize the loose typing.

func configString(config map[string]any, key string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return ""
}

func configInt(config map[string]any, key string, fallback int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func configBool(config map[string]any, key string, fallback bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return fallback
}

func configFloat(config map[string]any, key string) (float64, bool) {
	switch v := config[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func configSlice(config map[string]any, key string) []any {
	if v, ok := config[key].([]any); ok {
		return v
	}
	return nil
}

func configMap(config map[string]any, key string) map[string]any {
	if v, ok := config[key].(map[string]any); ok {
		return v
	}
	return nil
}

func configStrings(config map[string]any, key string) []string {
	var out []string
	for _, v := range configSlice(config, key) {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
