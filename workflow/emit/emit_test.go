package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestBufferedEmitterHistory(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(New(TypeWorkflowStarted, "exec-1", "wf", "", nil))
	b.Emit(New(TypeStepStarted, "exec-1", "wf", "fetch", nil))
	b.Emit(New(TypeStepFailed, "exec-1", "wf", "fetch", map[string]any{"error": "boom"}))
	b.Emit(New(TypeStepStarted, "exec-2", "wf", "fetch", nil))

	if got := b.History("exec-1"); len(got) != 3 {
		t.Fatalf("history = %d events, want 3", len(got))
	}

	failed := b.HistoryWithFilter("exec-1", HistoryFilter{Type: TypeStepFailed})
	if len(failed) != 1 || failed[0].Meta["error"] != "boom" {
		t.Errorf("filtered = %+v", failed)
	}
	byStep := b.HistoryWithFilter("exec-1", HistoryFilter{StepID: "fetch"})
	if len(byStep) != 2 {
		t.Errorf("step filter = %d events, want 2", len(byStep))
	}

	b.Clear("exec-1")
	if len(b.History("exec-1")) != 0 {
		t.Error("history survived Clear")
	}
	if len(b.History("exec-2")) != 1 {
		t.Error("Clear removed another execution's history")
	}
}

func TestLogEmitterFormats(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		e := NewLogEmitter(&buf, false)
		e.Emit(New(TypeStepCompleted, "exec-1", "wf", "fetch", nil))
		line := buf.String()
		if !strings.Contains(line, TypeStepCompleted) || !strings.Contains(line, "fetch") {
			t.Errorf("text line = %q", line)
		}
	})
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		e := NewLogEmitter(&buf, true)
		e.Emit(New(TypeStepCompleted, "exec-1", "wf", "fetch", map[string]any{"duration_ms": 12}))
		var decoded map[string]any
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("jsonl line did not parse: %v (%q)", err, buf.String())
		}
		if decoded["type"] != TypeStepCompleted {
			t.Errorf("decoded type = %v", decoded["type"])
		}
	})
}

func TestMultiFansOut(t *testing.T) {
	a, b := NewBufferedEmitter(), NewBufferedEmitter()
	m := Multi{a, b}
	m.Emit(New(TypeWorkflowCompleted, "exec-1", "wf", "", nil))
	if len(a.History("exec-1")) != 1 || len(b.History("exec-1")) != 1 {
		t.Error("event not delivered to every emitter")
	}
}

func TestOTelEmitterSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	emitter := NewOTelEmitter(otel.Tracer("test"))
	emitter.Emit(New(TypeStepFailed, "exec-1", "wf-9", "fetch", map[string]any{
		"error":    "timeout waiting for agent",
		"attempts": 3,
	}))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != TypeStepFailed {
		t.Errorf("span name = %q", span.Name)
	}

	attrs := make(map[attribute.Key]attribute.Value, len(span.Attributes))
	for _, kv := range span.Attributes {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["floworc.execution_id"].AsString(); got != "exec-1" {
		t.Errorf("execution_id attr = %q", got)
	}
	if got := attrs["floworc.step_id"].AsString(); got != "fetch" {
		t.Errorf("step_id attr = %q", got)
	}
	if got := attrs["floworc.attempts"].AsInt64(); got != 3 {
		t.Errorf("attempts attr = %d", got)
	}
	if span.Status.Code != codes.Error {
		t.Errorf("status = %v, want error", span.Status.Code)
	}

	if err := emitter.Flush(context.Background()); err != nil {
		t.Errorf("Flush: %v", err)
	}
}
