// Package workflow provides the durable workflow orchestration core: graph
// definitions, execution state with checkpointing, the step and parallel
// executors, the driving engine, and the definition registry.
package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StepType identifies which handler executes a step.
type StepType string

const (
	StepAgent      StepType = "agent"
	StepCondition  StepType = "condition"
	StepParallel   StepType = "parallel"
	StepLoop       StepType = "loop"
	StepMultiAgent StepType = "multi_agent"
	StepTransform  StepType = "transform"
)

// RetryPolicy configures automatic retry of a failed step.
//
// Delays are stored in milliseconds on the wire and converted to
// time.Duration for scheduling. The delay before attempt n (zero-based) is
// min(InitialDelayMS × Multiplier^n, MaxDelayMS).
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int `json:"max_retries"`

	// InitialDelayMS is the base backoff delay in milliseconds.
	InitialDelayMS int64 `json:"initial_delay_ms"`

	// MaxDelayMS caps the backoff delay in milliseconds. Zero means no cap.
	MaxDelayMS int64 `json:"max_delay_ms,omitempty"`

	// Multiplier scales the delay on each retry. Values below 1 are treated
	// as 1 (constant delay). Zero defaults to 2.
	Multiplier float64 `json:"multiplier,omitempty"`

	// RetryOn lists the error classes that trigger a retry ("timeout",
	// "error"). Empty means every failure class is retryable.
	RetryOn []string `json:"retry_on,omitempty"`
}

// InitialDelay returns the base backoff delay as a duration.
func (p *RetryPolicy) InitialDelay() time.Duration {
	return time.Duration(p.InitialDelayMS) * time.Millisecond
}

// MaxDelay returns the backoff cap as a duration. Zero means uncapped.
func (p *RetryPolicy) MaxDelay() time.Duration {
	return time.Duration(p.MaxDelayMS) * time.Millisecond
}

// Delay computes the backoff before retry attempt n (zero-based).
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		if mult == 0 {
			mult = 2
		} else {
			mult = 1
		}
	}
	d := float64(p.InitialDelay())
	for i := 0; i < attempt; i++ {
		d *= mult
	}
	if max := p.MaxDelay(); max > 0 && time.Duration(d) > max {
		return max
	}
	return time.Duration(d)
}

// Retries reports whether class should be retried under this policy.
func (p *RetryPolicy) Retries(class string) bool {
	if len(p.RetryOn) == 0 {
		return true
	}
	for _, c := range p.RetryOn {
		if c == class || c == "any" {
			return true
		}
	}
	return false
}

// Step is a single node in a workflow graph.
type Step struct {
	ID   string   `json:"id"`
	Type StepType `json:"type"`
	Name string   `json:"name,omitempty"`

	// Config is the handler-specific configuration (prompt templates,
	// branches, loop settings, and so on).
	Config map[string]any `json:"config,omitempty"`

	// NextStep explicitly routes to the named step after success.
	// Empty means the engine advances to the next step in declaration order.
	NextStep string `json:"next_step,omitempty"`

	// OnError routes to the named step when this step fails.
	OnError string `json:"on_error,omitempty"`

	Retry *RetryPolicy `json:"retry_policy,omitempty"`

	// TimeoutSeconds bounds a single attempt. Zero uses the engine default.
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// Timeout returns the per-step timeout as a duration, zero when unset.
func (s *Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds * float64(time.Second))
}

// Definition is a complete workflow: an identified, versioned, ordered list
// of steps plus routing metadata.
type Definition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Version     string         `json:"version"`
	Steps       []Step         `json:"steps"`
	StartStep   string         `json:"start_step,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Enabled     bool           `json:"enabled"`
	Tags        []string       `json:"tags,omitempty"`
}

// Step returns the step with the given id, or nil.
func (d *Definition) Step(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// StartAt returns the id of the entry step: the explicit StartStep when set,
// otherwise the first declared step. Empty for a definition with no steps.
func (d *Definition) StartAt() string {
	if d.StartStep != "" {
		return d.StartStep
	}
	if len(d.Steps) > 0 {
		return d.Steps[0].ID
	}
	return ""
}

// Successor returns the id of the step declared immediately after stepID,
// or empty when stepID is last (or unknown).
func (d *Definition) Successor(stepID string) string {
	for i := range d.Steps {
		if d.Steps[i].ID == stepID && i+1 < len(d.Steps) {
			return d.Steps[i+1].ID
		}
	}
	return ""
}

// Validate checks structural invariants and returns every violation found.
// An empty slice means the definition is valid.
func (d *Definition) Validate() []string {
	var problems []string

	if d.ID == "" {
		problems = append(problems, "workflow id is required")
	}
	if d.Name == "" {
		problems = append(problems, "workflow name is required")
	}
	if len(d.Steps) == 0 {
		problems = append(problems, "workflow must declare at least one step")
	}
	if d.Version != "" {
		if _, _, _, err := parseVersion(d.Version); err != nil {
			problems = append(problems, fmt.Sprintf("invalid version %q: expected M.m.p", d.Version))
		}
	}

	ids := make(map[string]bool, len(d.Steps))
	for i := range d.Steps {
		s := &d.Steps[i]
		if s.ID == "" {
			problems = append(problems, fmt.Sprintf("step %d has no id", i))
			continue
		}
		if ids[s.ID] {
			problems = append(problems, fmt.Sprintf("duplicate step id %q", s.ID))
		}
		ids[s.ID] = true
		if s.Type == "" {
			problems = append(problems, fmt.Sprintf("step %q has no type", s.ID))
		}
	}

	for i := range d.Steps {
		s := &d.Steps[i]
		if s.NextStep != "" && !ids[s.NextStep] {
			problems = append(problems, fmt.Sprintf("step %q routes to unknown next_step %q", s.ID, s.NextStep))
		}
		if s.OnError != "" && !ids[s.OnError] {
			problems = append(problems, fmt.Sprintf("step %q routes to unknown on_error %q", s.ID, s.OnError))
		}
		if s.Type == StepMultiAgent {
			if agents, _ := s.Config["agents"].([]any); len(agents) == 0 {
				problems = append(problems, fmt.Sprintf("multi_agent step %q declares no agents", s.ID))
			}
		}
	}

	if d.StartStep != "" && !ids[d.StartStep] {
		problems = append(problems, fmt.Sprintf("start_step %q does not exist", d.StartStep))
	}

	return problems
}

// ToMap serializes the definition to a JSON-shaped map.
func (d *Definition) ToMap() (map[string]any, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return out, nil
}

// DefinitionFromMap deserializes a definition from a JSON-shaped map.
// ToMap and DefinitionFromMap round-trip by value.
func DefinitionFromMap(m map[string]any) (*Definition, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal map: %w", err)
	}
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return &d, nil
}

// parseVersion splits a semantic version "M.m.p" into its components.
func parseVersion(v string) (major, minor, patch int, err error) {
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("version %q is not M.m.p", v)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, convErr := strconv.Atoi(p)
		if convErr != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("version %q is not M.m.p", v)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}

// bumpPatch increments the patch component of a semantic version. Malformed
// versions reset to "1.0.0".
func bumpPatch(v string) string {
	major, minor, patch, err := parseVersion(v)
	if err != nil {
		return "1.0.0"
	}
	return fmt.Sprintf("%d.%d.%d", major, minor, patch+1)
}
