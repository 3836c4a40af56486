package insight

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority orders recommendations by urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Recommendation is an actionable finding derived from metrics.
type Recommendation struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Message     string    `json:"message"`
	Priority    Priority  `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
	Dismissed   bool      `json:"dismissed"`
	Implemented bool      `json:"implemented"`
}

// Rule pairs a predicate over a metric snapshot with the recommendation it
// emits. Priority receives the snapshot so magnitude can raise urgency; a
// nil Priority func means medium.
type Rule struct {
	Name      string
	Predicate func(metrics map[string]float64) bool
	Type      string
	Message   func(metrics map[string]float64) string
	Priority  func(metrics map[string]float64) Priority
}

// Recommender evaluates rules against metric snapshots and tracks
// per-recommendation dismissal and implementation state.
type Recommender struct {
	mu      sync.Mutex
	rules   []Rule
	history []*Recommendation
}

// NewRecommender creates a recommender with the default rule set.
func NewRecommender() *Recommender {
	return &Recommender{rules: defaultRules()}
}

// AddRule appends a custom rule.
func (r *Recommender) AddRule(rule Rule) {
	r.mu.Lock()
	r.rules = append(r.rules, rule)
	r.mu.Unlock()
}

// Evaluate runs every rule against the snapshot and records matches.
func (r *Recommender) Evaluate(metrics map[string]float64) []*Recommendation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Recommendation
	for _, rule := range r.rules {
		if rule.Predicate == nil || !rule.Predicate(metrics) {
			continue
		}
		rec := &Recommendation{
			ID:        uuid.NewString(),
			Type:      rule.Type,
			Message:   rule.Message(metrics),
			Priority:  PriorityMedium,
			CreatedAt: time.Now().UTC(),
		}
		if rule.Priority != nil {
			rec.Priority = rule.Priority(metrics)
		}
		r.history = append(r.history, rec)
		out = append(out, rec)
	}
	return out
}

// Dismiss marks a recommendation dismissed.
func (r *Recommender) Dismiss(id string) bool {
	return r.setFlag(id, func(rec *Recommendation) { rec.Dismissed = true })
}

// MarkImplemented marks a recommendation implemented.
func (r *Recommender) MarkImplemented(id string) bool {
	return r.setFlag(id, func(rec *Recommendation) { rec.Implemented = true })
}

// Active returns recommendations neither dismissed nor implemented.
func (r *Recommender) Active() []*Recommendation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Recommendation
	for _, rec := range r.history {
		if !rec.Dismissed && !rec.Implemented {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Recommender) setFlag(id string, set func(*Recommendation)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.history {
		if rec.ID == id {
			set(rec)
			return true
		}
	}
	return false
}

func magnitudePriority(v, medium, high float64) Priority {
	switch {
	case v >= high:
		return PriorityHigh
	case v >= medium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func defaultRules() []Rule {
	return []Rule{
		{
			Name:      "high-error-rate",
			Predicate: func(m map[string]float64) bool { return m["error_rate"] > 0.05 },
			Type:      "reliability",
			Message: func(m map[string]float64) string {
				return "error rate above 5%; inspect failing steps and add retry policies"
			},
			Priority: func(m map[string]float64) Priority {
				return magnitudePriority(m["error_rate"], 0.05, 0.20)
			},
		},
		{
			Name:      "slow-executions",
			Predicate: func(m map[string]float64) bool { return m["avg_duration_ms"] > 30000 },
			Type:      "performance",
			Message: func(m map[string]float64) string {
				return "average execution exceeds 30s; consider parallelizing independent steps"
			},
			Priority: func(m map[string]float64) Priority {
				return magnitudePriority(m["avg_duration_ms"], 30000, 120000)
			},
		},
		{
			Name:      "token-spend",
			Predicate: func(m map[string]float64) bool { return m["daily_cost_usd"] > 10 },
			Type:      "cost",
			Message: func(m map[string]float64) string {
				return "daily LLM spend above $10; cap max_tokens or switch cheaper models for simple steps"
			},
			Priority: func(m map[string]float64) Priority {
				return magnitudePriority(m["daily_cost_usd"], 10, 100)
			},
		},
		{
			Name:      "queue-backlog",
			Predicate: func(m map[string]float64) bool { return m["pending_executions"] > 50 },
			Type:      "capacity",
			Message: func(m map[string]float64) string {
				return "execution backlog above 50; raise worker concurrency or shed triggers"
			},
			Priority: func(m map[string]float64) Priority {
				return magnitudePriority(m["pending_executions"], 50, 500)
			},
		},
	}
}
