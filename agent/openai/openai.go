// Package openai implements the agent.Invoker interface over the official
// openai-go client.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/floworc/floworc/agent"
)

// DefaultModel is used when a request does not override the model.
const DefaultModel = "gpt-4o-mini"

// Invoker calls the OpenAI Chat Completions API. Safe for concurrent use
// after creation.
type Invoker struct {
	client *openai.Client
	model  string
}

// New creates an Invoker with the given API key and default model.
// An empty model falls back to DefaultModel.
func New(apiKey, model string) (*Invoker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key cannot be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Invoker{client: &client, model: model}, nil
}

// Invoke implements agent.Invoker.
func (o *Invoker) Invoke(ctx context.Context, req agent.Request) (*agent.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = o.model
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.AgentID != "" {
		messages = append(messages, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String("You are acting as agent " + req.AgentID + "."),
				},
			},
		})
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfString: openai.String(req.Prompt),
			},
		},
	})

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty response")
	}

	inTokens := int(completion.Usage.PromptTokens)
	outTokens := int(completion.Usage.CompletionTokens)
	return &agent.Response{
		Text:         completion.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		CostUSD:      agent.EstimateCost(model, inTokens, outTokens),
	}, nil
}
