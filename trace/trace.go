// Package trace records LLM and agent execution traces: span trees with
// token and cost accounting, plus a replay derivation that turns a finished
// trace into a linear step sequence for dashboard playback.
package trace

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SpanType classifies what a span measured.
type SpanType string

const (
	SpanLLM       SpanType = "llm"
	SpanTool      SpanType = "tool"
	SpanAgent     SpanType = "agent"
	SpanChain     SpanType = "chain"
	SpanRetrieval SpanType = "retrieval"
)

// Status is a span or trace outcome.
type Status string

const (
	StatusRunning Status = "running"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
)

// Span is one timed operation inside a trace.
type Span struct {
	SpanID   string   `json:"span_id"`
	TraceID  string   `json:"trace_id"`
	ParentID string   `json:"parent_id,omitempty"`
	Name     string   `json:"name"`
	Type     SpanType `json:"type"`

	Input  any `json:"input,omitempty"`
	Output any `json:"output,omitempty"`

	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMS int64      `json:"duration_ms"`

	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`

	// Children is populated by Tree; the collector stores spans flat.
	Children []*Span `json:"children,omitempty"`
}

// Trace is one end-to-end recorded run with incrementally maintained
// aggregates.
type Trace struct {
	TraceID string `json:"trace_id"`
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Output  any    `json:"output,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMS int64      `json:"duration_ms"`

	SpanCount         int     `json:"span_count"`
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
	TotalLatencyMS    int64   `json:"total_latency_ms"`
}

type traceRecord struct {
	trace *Trace
	spans []*Span
}

// Collector records traces and spans. Safe for concurrent use. Spans are
// stored flat; the tree is linked on demand.
type Collector struct {
	mu     sync.Mutex
	active map[string]*traceRecord

	// onFinish, when set, receives each finished trace with its spans.
	onFinish func(*Trace, []*Span)
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{active: make(map[string]*traceRecord)}
}

// OnFinish registers a hook invoked with every finished trace, e.g. an OTel
// exporter.
func (c *Collector) OnFinish(fn func(*Trace, []*Span)) {
	c.mu.Lock()
	c.onFinish = fn
	c.mu.Unlock()
}

// StartTrace opens a trace.
func (c *Collector) StartTrace(name string) *Trace {
	t := &Trace{
		TraceID:   uuid.NewString(),
		Name:      name,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	c.mu.Lock()
	c.active[t.TraceID] = &traceRecord{trace: t}
	c.mu.Unlock()
	return t
}

// StartSpan opens a span inside a trace. parentID may be empty for roots.
func (c *Collector) StartSpan(traceID, name string, typ SpanType, parentID string) (*Span, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.active[traceID]
	if !ok {
		return nil, fmt.Errorf("trace %s not found", traceID)
	}
	span := &Span{
		SpanID:    uuid.NewString(),
		TraceID:   traceID,
		ParentID:  parentID,
		Name:      name,
		Type:      typ,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	rec.spans = append(rec.spans, span)
	rec.trace.SpanCount++
	return span, nil
}

// SetSpanInput records the span's input payload.
func (c *Collector) SetSpanInput(traceID, spanID string, input any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	span, err := c.findSpan(traceID, spanID)
	if err != nil {
		return err
	}
	span.Input = input
	return nil
}

// FinishSpan closes a span and folds its tokens, cost, and latency into the
// trace aggregates.
func (c *Collector) FinishSpan(traceID, spanID string, output any, status Status, errMsg string, inputTokens, outputTokens int, costUSD float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.active[traceID]
	if !ok {
		return fmt.Errorf("trace %s not found", traceID)
	}
	span, err := c.findSpan(traceID, spanID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	span.Output = output
	span.Status = status
	span.Error = errMsg
	span.EndedAt = &now
	span.DurationMS = now.Sub(span.StartedAt).Milliseconds()
	span.InputTokens = inputTokens
	span.OutputTokens = outputTokens
	span.CostUSD = costUSD

	rec.trace.TotalInputTokens += inputTokens
	rec.trace.TotalOutputTokens += outputTokens
	rec.trace.TotalCostUSD += costUSD
	rec.trace.TotalLatencyMS += span.DurationMS
	return nil
}

// FinishTrace closes a trace. The finish hook, when registered, runs
// synchronously with the final trace and spans.
func (c *Collector) FinishTrace(traceID string, output any, status Status) error {
	c.mu.Lock()
	rec, ok := c.active[traceID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("trace %s not found", traceID)
	}
	now := time.Now().UTC()
	rec.trace.Output = output
	rec.trace.Status = status
	rec.trace.EndedAt = &now
	rec.trace.DurationMS = now.Sub(rec.trace.StartedAt).Milliseconds()
	hook := c.onFinish
	spans := append([]*Span(nil), rec.spans...)
	tr := rec.trace
	c.mu.Unlock()

	if hook != nil {
		hook(tr, spans)
	}
	return nil
}

// GetTrace returns a trace by id.
func (c *Collector) GetTrace(traceID string) (*Trace, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.active[traceID]
	if !ok {
		return nil, fmt.Errorf("trace %s not found", traceID)
	}
	return rec.trace, nil
}

// Spans returns a trace's spans in start order.
func (c *Collector) Spans(traceID string) ([]*Span, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.active[traceID]
	if !ok {
		return nil, fmt.Errorf("trace %s not found", traceID)
	}
	out := append([]*Span(nil), rec.spans...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Tree links spans into their parent/child structure and returns the roots.
// The Children slices are rebuilt on every call.
func (c *Collector) Tree(traceID string) ([]*Span, error) {
	spans, err := c.Spans(traceID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Span, len(spans))
	for _, s := range spans {
		s.Children = nil
		byID[s.SpanID] = s
	}
	var roots []*Span
	for _, s := range spans {
		if parent, ok := byID[s.ParentID]; ok {
			parent.Children = append(parent.Children, s)
		} else {
			roots = append(roots, s)
		}
	}
	return roots, nil
}

func (c *Collector) findSpan(traceID, spanID string) (*Span, error) {
	rec, ok := c.active[traceID]
	if !ok {
		return nil, fmt.Errorf("trace %s not found", traceID)
	}
	for _, s := range rec.spans {
		if s.SpanID == spanID {
			return s, nil
		}
	}
	return nil, fmt.Errorf("span %s not found in trace %s", spanID, traceID)
}
