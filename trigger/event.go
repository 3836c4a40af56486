package trigger

import (
	"context"

	"github.com/floworc/floworc/event"
)

// EventFilter narrows which bus events fire the trigger beyond the
// subscription patterns. Empty fields match everything.
type EventFilter struct {
	// Types is a list of event-type globs; the event must match at least one
	// when the list is non-empty.
	Types []string `json:"event_types,omitempty"`

	// SourcePattern is a glob the event source must match.
	SourcePattern string `json:"source_pattern,omitempty"`

	// DataEquals requires each key to be present in the event data with an
	// equal value.
	DataEquals map[string]any `json:"data_equals,omitempty"`
}

// Matches reports whether the event passes the filter.
func (f EventFilter) Matches(ev event.Event) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, pattern := range f.Types {
			if event.MatchPattern(pattern, ev.Type) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.SourcePattern != "" && !event.MatchPattern(f.SourcePattern, ev.Source) {
		return false
	}
	for key, want := range f.DataEquals {
		got, ok := ev.Data[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// EventConfig configures an event trigger.
type EventConfig struct {
	// Patterns are the bus subscription patterns.
	Patterns []string `json:"patterns"`

	// Filter further narrows matching events.
	Filter EventFilter `json:"filter,omitempty"`
}

// EventTrigger fires a workflow from matching bus events. The event data
// becomes the workflow inputs; the envelope fields travel in metadata.
type EventTrigger struct {
	base
	cfg  EventConfig
	bus  *event.Bus
	subs []string
}

// NewEventTrigger creates an event trigger bound to the given bus. A nil bus
// means the process-wide default.
func NewEventTrigger(id, workflowID string, d Dispatcher, bus *event.Bus, cfg EventConfig) *EventTrigger {
	if bus == nil {
		bus = event.Default()
	}
	return &EventTrigger{
		base: newBase(id, workflowID, d),
		cfg:  cfg,
		bus:  bus,
	}
}

// Start subscribes to each configured pattern.
func (t *EventTrigger) Start() error {
	if err := t.base.Start(); err != nil {
		return err
	}
	for _, pattern := range t.cfg.Patterns {
		t.subs = append(t.subs, t.bus.Subscribe(pattern, t.onEvent))
	}
	return nil
}

// Stop unsubscribes from the bus.
func (t *EventTrigger) Stop() {
	t.base.Stop()
	for _, id := range t.subs {
		t.bus.Unsubscribe(id)
	}
	t.subs = nil
}

func (t *EventTrigger) onEvent(ev event.Event) {
	if !t.cfg.Filter.Matches(ev) {
		return
	}
	inputs := make(map[string]any, len(ev.Data))
	for k, v := range ev.Data {
		inputs[k] = v
	}
	t.Trigger(context.Background(), inputs, map[string]any{
		"source":     "event",
		"event_id":   ev.ID,
		"event_type": ev.Type,
		"event_src":  ev.Source,
	})
}
