package assist

import (
	"fmt"
	"math"

	"github.com/floworc/floworc/workflow"
)

// OptimizationKind categorizes an optimizer finding.
type OptimizationKind string

const (
	OptPerformance OptimizationKind = "performance"
	OptReliability OptimizationKind = "reliability"
	OptCost        OptimizationKind = "cost"
)

// Optimization is one finding with the steps it concerns.
type Optimization struct {
	Kind    OptimizationKind `json:"kind"`
	StepIDs []string         `json:"step_ids,omitempty"`
	Message string           `json:"message"`
}

// StepStats is observed execution history for one step.
type StepStats struct {
	Samples     int     `json:"samples"`
	AvgDuration float64 `json:"avg_duration_seconds"`
	Variance    float64 `json:"variance"`
}

// Optimizer inspects definitions and execution history for structural and
// runtime improvements.
type Optimizer struct{}

// NewOptimizer creates an optimizer.
func NewOptimizer() *Optimizer { return &Optimizer{} }

// Analyze runs every structural check plus the history checks when stats
// are provided (keyed by step id).
func (o *Optimizer) Analyze(def *workflow.Definition, stats map[string]StepStats) []Optimization {
	var out []Optimization
	out = append(out, o.consecutiveAgents(def)...)
	out = append(out, o.independentGroups(def)...)
	out = append(out, o.missingSafeguards(def)...)
	out = append(out, o.historyFindings(def, stats)...)
	return out
}

// consecutiveAgents flags runs of 3 or more agent steps in declaration
// order with no routing between them.
func (o *Optimizer) consecutiveAgents(def *workflow.Definition) []Optimization {
	var out []Optimization
	var run []string
	flush := func() {
		if len(run) >= 3 {
			ids := append([]string(nil), run...)
			out = append(out, Optimization{
				Kind:    OptPerformance,
				StepIDs: ids,
				Message: fmt.Sprintf("%d consecutive agent steps could run inside one parallel step", len(ids)),
			})
		}
		run = run[:0]
	}
	for _, s := range def.Steps {
		if s.Type == workflow.StepAgent && s.NextStep == "" && s.OnError == "" {
			run = append(run, s.ID)
			continue
		}
		flush()
	}
	flush()
	return out
}

// independentGroups flags steps that no other step routes to and that route
// nowhere explicitly: they share no dependency edges and could fan out.
func (o *Optimizer) independentGroups(def *workflow.Definition) []Optimization {
	if len(def.Steps) < 2 {
		return nil
	}
	referenced := make(map[string]bool)
	for _, s := range def.Steps {
		if s.NextStep != "" {
			referenced[s.NextStep] = true
		}
		if s.OnError != "" {
			referenced[s.OnError] = true
		}
	}
	var free []string
	for _, s := range def.Steps {
		if s.Type == workflow.StepParallel {
			continue
		}
		if !referenced[s.ID] && s.NextStep == "" && s.ID != def.StartAt() {
			free = append(free, s.ID)
		}
	}
	if len(free) < 2 {
		return nil
	}
	return []Optimization{{
		Kind:    OptPerformance,
		StepIDs: free,
		Message: "steps share no dependency edges and could run in parallel",
	}}
}

// missingSafeguards flags absent retry policies, timeouts, and token caps.
func (o *Optimizer) missingSafeguards(def *workflow.Definition) []Optimization {
	var out []Optimization
	for _, s := range def.Steps {
		if s.Retry == nil {
			out = append(out, Optimization{
				Kind:    OptReliability,
				StepIDs: []string{s.ID},
				Message: fmt.Sprintf("step %q has no retry_policy; transient failures fail the execution", s.ID),
			})
		}
		if s.TimeoutSeconds == 0 {
			out = append(out, Optimization{
				Kind:    OptReliability,
				StepIDs: []string{s.ID},
				Message: fmt.Sprintf("step %q has no timeout_seconds; a hang blocks the execution until the engine default", s.ID),
			})
		}
		if s.Type == workflow.StepAgent || s.Type == workflow.StepMultiAgent {
			if _, ok := s.Config["max_tokens"]; !ok {
				out = append(out, Optimization{
					Kind:    OptCost,
					StepIDs: []string{s.ID},
					Message: fmt.Sprintf("agent step %q has no max_tokens cap; responses can run long and expensive", s.ID),
				})
			}
		}
	}
	return out
}

// historyFindings flags slow and erratic steps from observed stats.
func (o *Optimizer) historyFindings(def *workflow.Definition, stats map[string]StepStats) []Optimization {
	var out []Optimization
	for _, s := range def.Steps {
		st, ok := stats[s.ID]
		if !ok {
			continue
		}
		if st.AvgDuration > 5 {
			out = append(out, Optimization{
				Kind:    OptPerformance,
				StepIDs: []string{s.ID},
				Message: fmt.Sprintf("step %q averages %.1fs per run; it is the execution bottleneck", s.ID, st.AvgDuration),
			})
		}
		if st.Samples >= 3 && st.Variance > 0.5*math.Abs(st.AvgDuration) {
			out = append(out, Optimization{
				Kind:    OptReliability,
				StepIDs: []string{s.ID},
				Message: fmt.Sprintf("step %q duration varies widely across %d runs; investigate flaky dependencies", s.ID, st.Samples),
			})
		}
	}
	return out
}
