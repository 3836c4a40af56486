// Package anthropic implements the agent.Invoker interface over the
// official anthropic-sdk-go client.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/floworc/floworc/agent"
)

// DefaultModel is used when a request does not override the model.
const DefaultModel = "claude-3-5-sonnet-20241022"

// DefaultMaxTokens caps responses when a request does not set a limit.
const DefaultMaxTokens = 4096

// Invoker calls the Anthropic Messages API. Safe for concurrent use after
// creation.
type Invoker struct {
	client *anthropic.Client
	model  string
}

// New creates an Invoker with the given API key and default model.
// An empty model falls back to DefaultModel.
func New(apiKey, model string) (*Invoker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: API key cannot be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Invoker{client: &client, model: model}, nil
}

// Invoke implements agent.Invoker.
func (a *Invoker) Invoke(ctx context.Context, req agent.Request) (*agent.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.AgentID != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: "You are acting as agent " + req.AgentID + "."},
		}
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	inTokens := int(message.Usage.InputTokens)
	outTokens := int(message.Usage.OutputTokens)
	return &agent.Response{
		Text:         text.String(),
		Model:        model,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		CostUSD:      agent.EstimateCost(model, inTokens, outTokens),
	}, nil
}
