// Package agent defines the contract between workflow steps and external
// LLM agents: a provider-neutral Invoker interface, request/response types
// with token and cost accounting, and a mock for tests. Provider
// implementations live in the anthropic, openai, and gemini subpackages.
package agent

import "context"

// Request describes one agent invocation.
type Request struct {
	// AgentID names the logical agent being addressed. Providers may map
	// it to a system prompt or persona; the mock records it for asserts.
	AgentID string `json:"agent_id"`

	// Prompt is the fully resolved prompt text.
	Prompt string `json:"prompt"`

	// Model overrides the provider's default model when non-empty.
	Model string `json:"model,omitempty"`

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature overrides sampling temperature when non-nil.
	Temperature *float64 `json:"temperature,omitempty"`

	// Tools is the allow-list of tool names the agent may use.
	Tools []string `json:"tools,omitempty"`

	// Metadata carries optional retrieval parameters and other
	// provider-specific hints.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Response is the normalized result of an agent invocation.
type Response struct {
	// Text is the agent's response text.
	Text string `json:"text"`

	// Model is the model that actually served the request.
	Model string `json:"model,omitempty"`

	// InputTokens and OutputTokens report token usage when the provider
	// surfaces it; zero otherwise.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// CostUSD is the estimated cost of this invocation, derived from the
	// pricing table when the provider reports usage.
	CostUSD float64 `json:"cost_usd,omitempty"`
}

// Invoker sends requests to an agent backend.
//
// Implementations must be safe for concurrent use; the parallel and
// multi-agent handlers invoke them from multiple goroutines.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}
