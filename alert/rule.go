// Package alert evaluates metric-backed alert rules through a four-state
// machine (OK, PENDING, FIRING, RESOLVED) and delivers transition events to
// notification channels with per-channel rate caps.
package alert

import (
	"fmt"
	"math"
	"time"
)

// State is an alert rule's position in its lifecycle.
type State string

const (
	StateOK       State = "ok"
	StatePending  State = "pending"
	StateFiring   State = "firing"
	StateResolved State = "resolved"
)

// Severity ranks an alert's urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s names a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Operator compares an observed value to a threshold.
type Operator string

const (
	OpGreaterThan  Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLessThan     Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "neq"
)

// Condition compares one freshly queried metric value to a threshold.
type Condition struct {
	// Query is evaluated through the metric query engine on every tick.
	Query string `json:"query"`

	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold"`
}

// Evaluate applies the operator to an observed value.
func (c Condition) Evaluate(value float64) (bool, error) {
	switch c.Operator {
	case OpGreaterThan:
		return value > c.Threshold, nil
	case OpGreaterEqual:
		return value >= c.Threshold, nil
	case OpLessThan:
		return value < c.Threshold, nil
	case OpLessEqual:
		return value <= c.Threshold, nil
	case OpEqual:
		return value == c.Threshold, nil
	case OpNotEqual:
		return value != c.Threshold, nil
	}
	return false, fmt.Errorf("unknown operator %q", c.Operator)
}

// Logic combines a rule's condition outcomes.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Rule declares when an alert fires and how it is announced.
type Rule struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Conditions []Condition `json:"conditions"`

	// Logic combines condition outcomes; defaults to and.
	Logic Logic `json:"logic,omitempty"`

	Severity Severity `json:"severity,omitempty"`
	Message  string   `json:"message,omitempty"`

	// MinDuration is how long conditions must hold before PENDING becomes
	// FIRING. Zero fires on the first truthy tick after PENDING.
	MinDuration time.Duration `json:"-"`

	Enabled bool `json:"enabled"`

	// SilencedUntil suppresses evaluation while in the future.
	SilencedUntil *time.Time `json:"silenced_until,omitempty"`

	Labels map[string]string `json:"labels,omitempty"`
}

// Silenced reports whether the rule is muted at the given instant.
func (r *Rule) Silenced(now time.Time) bool {
	return r.SilencedUntil != nil && r.SilencedUntil.After(now)
}

// Event announces a state transition.
type Event struct {
	RuleID    string             `json:"rule_id"`
	RuleName  string             `json:"rule_name"`
	State     State              `json:"state"`
	PrevState State              `json:"prev_state"`
	Severity  Severity           `json:"severity"`
	Timestamp time.Time          `json:"timestamp"`
	Message   string             `json:"message"`
	Values    map[string]float64 `json:"values,omitempty"`
	Labels    map[string]string  `json:"labels,omitempty"`
}

// machine tracks one rule's state between ticks.
type machine struct {
	state           State
	consecutiveTrue int
}

// ticksToFire converts a rule's minimum duration into evaluation ticks.
func ticksToFire(minDuration, interval time.Duration) int {
	if minDuration <= 0 || interval <= 0 {
		return 1
	}
	n := int(math.Round(float64(minDuration) / float64(interval)))
	if n < 1 {
		return 1
	}
	return n
}

// tick advances the machine one evaluation and reports whether the state
// changed. A RESOLVED machine first resets to OK, then applies the outcome.
func (m *machine) tick(firing bool, needed int) (transitioned bool, prev State) {
	prev = m.state
	if m.state == "" {
		m.state = StateOK
		prev = StateOK
	}
	if m.state == StateResolved {
		m.state = StateOK
		prev = StateResolved
		transitioned = true
	}

	switch m.state {
	case StateOK:
		if firing {
			m.consecutiveTrue = 1
			if m.consecutiveTrue >= needed {
				m.state = StateFiring
			} else {
				m.state = StatePending
			}
			return true, prev
		}
		m.consecutiveTrue = 0
	case StatePending:
		if !firing {
			m.state = StateResolved
			m.consecutiveTrue = 0
			return true, prev
		}
		m.consecutiveTrue++
		if m.consecutiveTrue >= needed {
			m.state = StateFiring
			return true, prev
		}
	case StateFiring:
		if !firing {
			m.state = StateResolved
			m.consecutiveTrue = 0
			return true, prev
		}
	}
	return transitioned, prev
}
