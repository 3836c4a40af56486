// Package event provides an in-process publish/subscribe bus with glob
// pattern subscriptions, a bounded event history, and blocking waits.
//
// The bus is a process-wide coordination point: triggers fire workflows from
// it, the engine announces lifecycle changes onto it, and dashboards tail it
// through WaitFor or History.
package event

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/floworc/floworc/workflow/emit"
)

// DefaultHistoryLimit bounds the bus history ring.
const DefaultHistoryLimit = 1000

// Event is the envelope delivered to subscribers.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"event_type"`
	Source    string         `json:"source,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler receives events matching a subscription's pattern.
type Handler func(Event)

// Filter optionally narrows a subscription beyond its pattern. A nil filter
// accepts everything.
type Filter func(Event) bool

type subscription struct {
	id      string
	pattern string
	match   func(string) bool
	handler Handler
	filter  Filter
}

// Bus routes events to pattern subscribers and retains a bounded history.
// All methods are safe for concurrent use. Handlers run synchronously on the
// emitting goroutine, in subscription order; a panicking handler is isolated
// and reported through the bus emitter without affecting later handlers.
type Bus struct {
	mu      sync.Mutex
	subs    []*subscription
	history []Event
	limit   int
	emitter emit.Emitter
}

// NewBus creates a bus with the default history limit.
func NewBus() *Bus {
	return &Bus{limit: DefaultHistoryLimit, emitter: emit.NewNullEmitter()}
}

var (
	defaultBus  *Bus
	defaultOnce sync.Once
)

// Default returns the process-wide bus, created on first use.
func Default() *Bus {
	defaultOnce.Do(func() { defaultBus = NewBus() })
	return defaultBus
}

// SetEmitter routes handler panic reports to e. A nil emitter restores the
// no-op default.
func (b *Bus) SetEmitter(e emit.Emitter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e == nil {
		e = emit.NewNullEmitter()
	}
	b.emitter = e
}

// SetHistoryLimit changes the history bound. Values below 1 are ignored;
// excess retained events are discarded oldest-first.
func (b *Bus) SetHistoryLimit(n int) {
	if n < 1 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limit = n
	if len(b.history) > n {
		b.history = append([]Event(nil), b.history[len(b.history)-n:]...)
	}
}

// Subscribe registers a handler for events whose type matches pattern and
// returns the subscription id. An optional filter further narrows delivery.
func (b *Bus) Subscribe(pattern string, handler Handler, filter ...Filter) string {
	sub := &subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		match:   compilePattern(pattern),
		handler: handler,
	}
	if len(filter) > 0 {
		sub.filter = filter[0]
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub.id
}

// Unsubscribe removes the subscription with the given id and reports whether
// it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Emit delivers the event to every matching subscriber in subscription order
// and returns the number of handlers notified. Missing id and timestamp
// fields are stamped.
func (b *Bus) Emit(ev Event) int {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.limit {
		b.history = b.history[len(b.history)-b.limit:]
	}
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.match(ev.Type) {
			matched = append(matched, sub)
		}
	}
	emitter := b.emitter
	b.mu.Unlock()

	notified := 0
	for _, sub := range matched {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		b.deliver(sub, ev, emitter)
		notified++
	}
	return notified
}

func (b *Bus) deliver(sub *subscription, ev Event, emitter emit.Emitter) {
	defer func() {
		if r := recover(); r != nil {
			emitter.Emit(emit.New("bus.handler_panic", "", "", "", map[string]any{
				"pattern":  sub.pattern,
				"event_id": ev.ID,
				"panic":    r,
			}))
		}
	}()
	sub.handler(ev)
}

// WaitFor blocks until an event whose type matches eventType (and satisfies
// the optional predicate) arrives, or the timeout elapses. It returns nil on
// timeout. A timeout of zero or below waits indefinitely.
func (b *Bus) WaitFor(eventType string, timeout time.Duration, pred ...Filter) *Event {
	var p Filter
	if len(pred) > 0 {
		p = pred[0]
	}

	ch := make(chan Event, 1)
	id := b.Subscribe(eventType, func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	}, func(ev Event) bool { return p == nil || p(ev) })
	defer b.Unsubscribe(id)

	if timeout <= 0 {
		ev := <-ch
		return &ev
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-ch:
		return &ev
	case <-timer.C:
		return nil
	}
}

// History returns up to limit retained events, oldest first, optionally
// filtered by an event-type pattern. A limit of zero or below returns all
// retained events.
func (b *Bus) History(eventType string, limit int) []Event {
	b.mu.Lock()
	snapshot := append([]Event(nil), b.history...)
	b.mu.Unlock()

	if eventType != "" {
		match := compilePattern(eventType)
		filtered := snapshot[:0]
		for _, ev := range snapshot {
			if match(ev.Type) {
				filtered = append(filtered, ev)
			}
		}
		snapshot = filtered
	}
	if limit > 0 && len(snapshot) > limit {
		snapshot = snapshot[len(snapshot)-limit:]
	}
	return snapshot
}

// Clear discards the retained history.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// MatchPattern reports whether the event type matches the pattern, using the
// same grammar as subscriptions.
func MatchPattern(pattern, eventType string) bool {
	return compilePattern(pattern)(eventType)
}

// compilePattern turns a subscription pattern into a matcher. "*" matches
// everything; "prefix.*" matches any type beginning with "prefix."; any other
// pattern is matched as a glob where "." is literal and "*" spans segments.
func compilePattern(pattern string) func(string) bool {
	switch {
	case pattern == "*" || pattern == "":
		return func(string) bool { return true }
	case strings.HasSuffix(pattern, ".*") && strings.Count(pattern, "*") == 1:
		prefix := pattern[:len(pattern)-1]
		return func(s string) bool { return strings.HasPrefix(s, prefix) }
	case !strings.Contains(pattern, "*"):
		return func(s string) bool { return s == pattern }
	}
	re := regexp.MustCompile("^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$")
	return re.MatchString
}
