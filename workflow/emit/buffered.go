package emit

import "sync"

// BufferedEmitter stores events in memory, organized by execution id, and
// provides query access for history analysis.
//
// All events are kept until cleared. For long-running deployments prefer a
// persistent backend or periodic Clear calls.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // execution id -> events in emit order
}

// HistoryFilter selects events from an execution's history. Empty fields
// match everything; set fields combine with AND.
type HistoryFilter struct {
	// StepID filters by step.
	StepID string

	// Type filters by event type (e.g. TypeStepFailed).
	Type string
}

// NewBufferedEmitter creates an empty buffered emitter. Safe for concurrent
// use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit stores the event under its execution id.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.ExecutionID] = append(b.events[event.ExecutionID], event)
}

// History returns a copy of all events for an execution, in emit order.
func (b *BufferedEmitter) History(executionID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.events[executionID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryWithFilter returns the execution's events matching the filter.
func (b *BufferedEmitter) HistoryWithFilter(executionID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, event := range b.events[executionID] {
		if filter.StepID != "" && event.StepID != filter.StepID {
			continue
		}
		if filter.Type != "" && event.Type != filter.Type {
			continue
		}
		out = append(out, event)
	}
	if out == nil {
		out = []Event{}
	}
	return out
}

// Clear removes stored events for one execution, or every execution when
// executionID is empty.
func (b *BufferedEmitter) Clear(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if executionID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, executionID)
}
