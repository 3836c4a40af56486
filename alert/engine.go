package alert

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/floworc/floworc/metric"
)

// MetricReader answers alert condition queries. *metric.QueryEngine
// satisfies it.
type MetricReader interface {
	Query(q string) metric.QueryResult
}

// Handler receives every alert state transition, synchronously on the
// evaluation goroutine.
type Handler func(Event)

// Engine evaluates registered rules on a fixed interval and dispatches
// transition events.
type Engine struct {
	mu       sync.Mutex
	rules    map[string]*Rule
	machines map[string]*machine
	handlers []Handler
	reader   MetricReader
	interval time.Duration

	stopped atomic.Bool
	done    chan struct{}

	// now is swappable for silencing tests.
	now func() time.Time
}

// DefaultInterval is the evaluation cadence when none is configured.
const DefaultInterval = 30 * time.Second

// NewEngine creates an alert engine reading metrics through reader.
func NewEngine(reader MetricReader, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{
		rules:    make(map[string]*Rule),
		machines: make(map[string]*machine),
		reader:   reader,
		interval: interval,
		now:      time.Now,
	}
}

// AddRule registers or replaces a rule. A replaced rule keeps its machine
// state.
func (e *Engine) AddRule(r *Rule) error {
	if r.ID == "" {
		return fmt.Errorf("rule id required")
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule %s: at least one condition required", r.ID)
	}
	if r.Severity != "" && !r.Severity.Valid() {
		return fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity)
	}
	if r.Logic == "" {
		r.Logic = LogicAnd
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[r.ID] = r
	if _, ok := e.machines[r.ID]; !ok {
		e.machines[r.ID] = &machine{state: StateOK}
	}
	return nil
}

// RemoveRule drops a rule and its state.
func (e *Engine) RemoveRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rules, id)
	delete(e.machines, id)
}

// RuleState returns the current state of a rule, or "" when unknown.
func (e *Engine) RuleState(id string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.machines[id]; ok {
		return m.state
	}
	return ""
}

// Silence mutes a rule until the given instant.
func (e *Engine) Silence(id string, until time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[id]
	if !ok {
		return fmt.Errorf("rule %s not found", id)
	}
	r.SilencedUntil = &until
	return nil
}

// OnEvent registers a transition handler.
func (e *Engine) OnEvent(h Handler) {
	e.mu.Lock()
	e.handlers = append(e.handlers, h)
	e.mu.Unlock()
}

// AddChannel routes transition events to a notification channel.
func (e *Engine) AddChannel(c Channel) {
	e.OnEvent(func(ev Event) { c.Send(ev) })
}

// EvaluateOnce runs one evaluation tick over every enabled, unsilenced rule
// and returns the transition events dispatched.
func (e *Engine) EvaluateOnce() []Event {
	e.mu.Lock()
	ids := make([]string, 0, len(e.rules))
	for id := range e.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	handlers := append([]Handler(nil), e.handlers...)
	e.mu.Unlock()

	var events []Event
	for _, id := range ids {
		e.mu.Lock()
		r := e.rules[id]
		m := e.machines[id]
		e.mu.Unlock()
		if r == nil || m == nil || !r.Enabled || r.Silenced(e.now()) {
			continue
		}

		firing, values := e.evaluateRule(r)
		needed := ticksToFire(r.MinDuration, e.interval)
		transitioned, prev := m.tick(firing, needed)
		if !transitioned {
			continue
		}
		ev := Event{
			RuleID:    r.ID,
			RuleName:  r.Name,
			State:     m.state,
			PrevState: prev,
			Severity:  r.Severity,
			Timestamp: e.now().UTC(),
			Message:   r.Message,
			Values:    values,
			Labels:    r.Labels,
		}
		events = append(events, ev)
		for _, h := range handlers {
			h(ev)
		}
	}
	return events
}

// evaluateRule reads every condition's metric and combines the outcomes
// under the rule's logic. A condition whose query errors counts as false.
func (e *Engine) evaluateRule(r *Rule) (bool, map[string]float64) {
	values := make(map[string]float64, len(r.Conditions))
	outcomes := make([]bool, 0, len(r.Conditions))
	for _, cond := range r.Conditions {
		value, ok := e.readValue(cond.Query)
		if ok {
			values[cond.Query] = value
		}
		truthy := false
		if ok {
			truthy, _ = cond.Evaluate(value)
		}
		outcomes = append(outcomes, truthy)
	}
	if r.Logic == LogicOr {
		for _, o := range outcomes {
			if o {
				return true, values
			}
		}
		return false, values
	}
	for _, o := range outcomes {
		if !o {
			return false, values
		}
	}
	return true, values
}

// readValue extracts a single number from a query result: the scalar when
// present, otherwise the newest point.
func (e *Engine) readValue(q string) (float64, bool) {
	res := e.reader.Query(q)
	if res.Err != "" {
		return 0, false
	}
	if res.Scalar != nil {
		return *res.Scalar, true
	}
	if len(res.Points) > 0 {
		return res.Points[len(res.Points)-1].Value, true
	}
	return 0, false
}

// Start launches the evaluation loop. Stop terminates it.
func (e *Engine) Start() {
	e.stopped.Store(false)
	e.done = make(chan struct{})
	go func(done chan struct{}) {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if e.stopped.Load() {
					return
				}
				e.EvaluateOnce()
			}
		}
	}(e.done)
}

// Stop halts the evaluation loop.
func (e *Engine) Stop() {
	e.stopped.Store(true)
	if e.done != nil {
		close(e.done)
		e.done = nil
	}
}
