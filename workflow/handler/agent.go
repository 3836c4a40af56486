package handler

import (
	"context"
	"fmt"

	"github.com/floworc/floworc/agent"
	"github.com/floworc/floworc/workflow"
	"github.com/floworc/floworc/workflow/expr"
)

// AgentHandler executes agent steps: it resolves the prompt template
// against the execution scope, invokes the agent backend, and writes the
// response text to the configured output variable.
//
// Config keys:
//   - agent_id: logical agent identity (required)
//   - prompt: prompt template, resolved against the variable scope
//   - model, max_tokens, temperature: provider overrides
//   - tools: allow-listed tool names
//   - output_variable: variable name to receive the response text
type AgentHandler struct {
	invoker  agent.Invoker
	resolver *expr.Resolver
}

// NewAgentHandler creates an agent handler backed by the given invoker.
func NewAgentHandler(invoker agent.Invoker, resolver *expr.Resolver) *AgentHandler {
	if resolver == nil {
		resolver = expr.New()
	}
	return &AgentHandler{invoker: invoker, resolver: resolver}
}

func (h *AgentHandler) Type() workflow.StepType { return workflow.StepAgent }

func (h *AgentHandler) Execute(ctx context.Context, step *workflow.Step, ec *workflow.ExecutionContext) (any, error) {
	if h.invoker == nil {
		return nil, fmt.Errorf("agent step %q: no invoker configured", step.ID)
	}

	scope := ec.Snapshot()
	prompt, err := h.resolver.ResolveString(configString(step.Config, "prompt"), scope)
	if err != nil {
		return nil, fmt.Errorf("agent step %q: resolve prompt: %w", step.ID, err)
	}

	req := agent.Request{
		AgentID:   configString(step.Config, "agent_id"),
		Prompt:    prompt,
		Model:     configString(step.Config, "model"),
		MaxTokens: configInt(step.Config, "max_tokens", 0),
		Tools:     configStrings(step.Config, "tools"),
		Metadata:  configMap(step.Config, "retrieval"),
	}
	if temp, ok := configFloat(step.Config, "temperature"); ok {
		req.Temperature = &temp
	}

	resp, err := h.invoker.Invoke(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent step %q: %w", step.ID, err)
	}

	if outVar := configString(step.Config, "output_variable"); outVar != "" {
		ec.Set(outVar, resp.Text)
	}
	return resp.Text, nil
}
