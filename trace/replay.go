package trace

import (
	"fmt"
	"time"
)

// ReplayStepType classifies a derived playback step.
type ReplayStepType string

const (
	ReplayLLMRequest  ReplayStepType = "llm_request"
	ReplayLLMResponse ReplayStepType = "llm_response"
	ReplayToolCall    ReplayStepType = "tool_call"
	ReplayToolResult  ReplayStepType = "tool_result"
	ReplayAgent       ReplayStepType = "agent"
	ReplayChain       ReplayStepType = "chain"
	ReplayRetrieval   ReplayStepType = "retrieval"
)

// ReplayStep is one frame of a trace played back in time order.
type ReplayStep struct {
	Index      int            `json:"index"`
	SpanID     string         `json:"span_id"`
	Type       ReplayStepType `json:"type"`
	Name       string         `json:"name"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMS int64          `json:"duration_ms"`
	Payload    any            `json:"payload,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Replay derives a linear playback sequence from a trace's spans. An LLM
// span becomes a request step followed by a response step, each taking half
// the span's duration; a tool span becomes a call followed by a result;
// every other span becomes a single step. Steps are ordered by timestamp.
func (c *Collector) Replay(traceID string) ([]ReplayStep, error) {
	tr, err := c.GetTrace(traceID)
	if err != nil {
		return nil, err
	}
	if tr.Status == StatusRunning {
		return nil, fmt.Errorf("trace %s still running", traceID)
	}
	spans, err := c.Spans(traceID)
	if err != nil {
		return nil, err
	}

	var steps []ReplayStep
	for _, s := range spans {
		steps = append(steps, deriveSteps(s)...)
	}
	for i := range steps {
		steps[i].Index = i
	}
	return steps, nil
}

func deriveSteps(s *Span) []ReplayStep {
	switch s.Type {
	case SpanLLM:
		half := s.DurationMS / 2
		return []ReplayStep{
			{
				SpanID:     s.SpanID,
				Type:       ReplayLLMRequest,
				Name:       s.Name,
				Timestamp:  s.StartedAt,
				DurationMS: half,
				Payload:    s.Input,
			},
			{
				SpanID:     s.SpanID,
				Type:       ReplayLLMResponse,
				Name:       s.Name,
				Timestamp:  s.StartedAt.Add(time.Duration(half) * time.Millisecond),
				DurationMS: s.DurationMS - half,
				Payload:    s.Output,
				Error:      s.Error,
			},
		}
	case SpanTool:
		half := s.DurationMS / 2
		return []ReplayStep{
			{
				SpanID:     s.SpanID,
				Type:       ReplayToolCall,
				Name:       s.Name,
				Timestamp:  s.StartedAt,
				DurationMS: half,
				Payload:    s.Input,
			},
			{
				SpanID:     s.SpanID,
				Type:       ReplayToolResult,
				Name:       s.Name,
				Timestamp:  s.StartedAt.Add(time.Duration(half) * time.Millisecond),
				DurationMS: s.DurationMS - half,
				Payload:    s.Output,
				Error:      s.Error,
			},
		}
	default:
		return []ReplayStep{{
			SpanID:     s.SpanID,
			Type:       replayTypeFor(s.Type),
			Name:       s.Name,
			Timestamp:  s.StartedAt,
			DurationMS: s.DurationMS,
			Payload:    s.Output,
			Error:      s.Error,
		}}
	}
}

func replayTypeFor(t SpanType) ReplayStepType {
	switch t {
	case SpanChain:
		return ReplayChain
	case SpanRetrieval:
		return ReplayRetrieval
	default:
		return ReplayAgent
	}
}
