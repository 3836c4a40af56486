// Package gemini implements the agent.Invoker interface over the official
// generative-ai-go client.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/floworc/floworc/agent"
)

// DefaultModel is used when a request does not override the model.
const DefaultModel = "gemini-1.5-flash"

// Invoker calls the Gemini API. Safe for concurrent use after creation;
// call Close when done to release the underlying client.
type Invoker struct {
	client *genai.Client
	model  string
}

// New creates an Invoker with the given API key and default model.
// An empty model falls back to DefaultModel.
func New(ctx context.Context, apiKey, model string) (*Invoker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key cannot be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Invoker{client: client, model: model}, nil
}

// Close releases the underlying client.
func (g *Invoker) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Invoke implements agent.Invoker.
func (g *Invoker) Invoke(ctx context.Context, req agent.Request) (*agent.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	modelName := req.Model
	if modelName == "" {
		modelName = g.model
	}

	model := g.client.GenerativeModel(modelName)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature != nil {
		model.SetTemperature(float32(*req.Temperature))
	}
	if req.AgentID != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text("You are acting as agent " + req.AgentID + ".")},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini: empty response")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	inTokens, outTokens := 0, 0
	if resp.UsageMetadata != nil {
		inTokens = int(resp.UsageMetadata.PromptTokenCount)
		outTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return &agent.Response{
		Text:         text.String(),
		Model:        modelName,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		CostUSD:      agent.EstimateCost(modelName, inTokens, outTokens),
	}, nil
}
