package emit

// NullEmitter discards all events.
//
// Use it to disable event emission without changing wiring, or in tests
// that don't inspect events.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter. Safe for concurrent use with zero
// overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {}
