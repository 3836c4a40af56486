// Package emit provides pluggable observability emitters for workflow
// execution. The engine reports every lifecycle transition as an Event;
// emitters route those events to logs, memory buffers, or OpenTelemetry.
package emit

// Emitter receives observability events from workflow execution.
//
// Implementations should be:
//   - Non-blocking: avoid slowing down workflow execution
//   - Thread-safe: may be called concurrently from multiple steps
//   - Resilient: handle backend failures without crashing the workflow
//
// Common patterns include buffering events for later query, filtering to
// errors only, and fanning out to multiple backends.
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	// Emit must not panic; errors are handled internally.
	Emit(event Event)
}

// Multi fans out events to several emitters in order.
type Multi []Emitter

// Emit delivers the event to every wrapped emitter.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
