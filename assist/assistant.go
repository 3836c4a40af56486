// Package assist generates workflow drafts from freeform descriptions,
// suggests continuations while editing, and flags structural problems and
// optimization opportunities in existing definitions.
package assist

import (
	"fmt"
	"strings"
	"sync"

	"github.com/floworc/floworc/workflow"
)

// Suggestion is one proposed next step while editing a workflow.
type Suggestion struct {
	Type   workflow.StepType `json:"type"`
	Name   string            `json:"name"`
	Reason string            `json:"reason"`
}

// Problem is a structural defect found in a definition.
type Problem struct {
	StepID   string `json:"step_id,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// template is a built-in workflow shape matched by keyword scoring.
type template struct {
	name     string
	keywords []string
	build    func(description string) *workflow.Definition
}

// Assistant drafts workflows from natural-language descriptions.
type Assistant struct {
	templates []template
}

// NewAssistant creates an assistant with the built-in template set.
func NewAssistant() *Assistant {
	return &Assistant{templates: builtinTemplates()}
}

var (
	defaultOnce sync.Once
	defaultInst *Assistant
)

// Default returns the process-wide assistant, created once.
func Default() *Assistant {
	defaultOnce.Do(func() { defaultInst = NewAssistant() })
	return defaultInst
}

// GenerateWorkflow drafts a definition for the description. Each built-in
// template is scored by keyword-hit count; a template needs at least two
// hits to win. With no winner a generic step list is synthesized by scanning
// the description for step-type keywords.
func (a *Assistant) GenerateWorkflow(description string) *workflow.Definition {
	lower := strings.ToLower(description)

	bestScore := 0
	var best *template
	for i := range a.templates {
		score := 0
		for _, kw := range a.templates[i].keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = &a.templates[i]
		}
	}
	if best != nil && bestScore >= 2 {
		return best.build(description)
	}
	return synthesize(description, lower)
}

// synthesize builds a generic draft by scanning for step-type keywords.
func synthesize(description, lower string) *workflow.Definition {
	var steps []workflow.Step
	add := func(id string, typ workflow.StepType, cfg map[string]any) {
		steps = append(steps, workflow.Step{ID: id, Type: typ, Config: cfg})
	}

	type cue struct {
		words []string
		typ   workflow.StepType
		id    string
	}
	cues := []cue{
		{[]string{"fetch", "scrape", "collect", "gather", "extract"}, workflow.StepAgent, "gather"},
		{[]string{"analyze", "summarize", "classify", "generate", "write"}, workflow.StepAgent, "analyze"},
		{[]string{"if ", "when ", "decide", "branch", "route"}, workflow.StepCondition, "decide"},
		{[]string{"each", "every", "loop", "repeat", "batch"}, workflow.StepLoop, "iterate"},
		{[]string{"parallel", "simultaneously", "concurrent"}, workflow.StepParallel, "fan_out"},
		{[]string{"transform", "convert", "format", "clean"}, workflow.StepTransform, "transform"},
	}
	for _, c := range cues {
		for _, w := range c.words {
			if strings.Contains(lower, w) {
				cfg := map[string]any{}
				if c.typ == workflow.StepAgent {
					cfg["prompt"] = description
				}
				add(c.id, c.typ, cfg)
				break
			}
		}
	}
	if len(steps) == 0 {
		add("execute", workflow.StepAgent, map[string]any{"prompt": description})
	}

	return &workflow.Definition{
		ID:          slugify(description),
		Name:        titleFrom(description),
		Description: description,
		Version:     "1.0.0",
		Steps:       steps,
		Enabled:     true,
		Tags:        []string{"generated"},
	}
}

// SuggestNextSteps proposes continuations after the given step.
func (a *Assistant) SuggestNextSteps(current *workflow.Step) []Suggestion {
	if current == nil {
		return []Suggestion{{
			Type:   workflow.StepAgent,
			Name:   "first step",
			Reason: "start with an agent step that does the core work",
		}}
	}
	switch current.Type {
	case workflow.StepAgent, workflow.StepMultiAgent:
		return []Suggestion{
			{Type: workflow.StepCondition, Name: "validate output", Reason: "check the agent output before acting on it"},
			{Type: workflow.StepTransform, Name: "shape result", Reason: "normalize the agent output for downstream steps"},
		}
	case workflow.StepCondition:
		return []Suggestion{
			{Type: workflow.StepAgent, Name: "process branch", Reason: "handle the selected branch with an agent step"},
		}
	case workflow.StepParallel:
		return []Suggestion{
			{Type: workflow.StepTransform, Name: "aggregate results", Reason: "merge the parallel branch outputs"},
		}
	case workflow.StepLoop:
		return []Suggestion{
			{Type: workflow.StepTransform, Name: "collect items", Reason: "fold the per-iteration outputs into one value"},
		}
	default:
		return []Suggestion{
			{Type: workflow.StepAgent, Name: "next action", Reason: "continue the workflow with an agent step"},
		}
	}
}

// DetectProblems flags duplicate step ids, dangling routes, self-referential
// transitions, and missing required configs.
func (a *Assistant) DetectProblems(def *workflow.Definition) []Problem {
	var problems []Problem

	ids := make(map[string]bool, len(def.Steps))
	for _, s := range def.Steps {
		if ids[s.ID] {
			problems = append(problems, Problem{
				StepID:   s.ID,
				Severity: "error",
				Message:  fmt.Sprintf("duplicate step id %q", s.ID),
			})
		}
		ids[s.ID] = true
	}

	for _, s := range def.Steps {
		if s.NextStep != "" && !ids[s.NextStep] {
			problems = append(problems, Problem{
				StepID:   s.ID,
				Severity: "error",
				Message:  fmt.Sprintf("next_step %q does not exist", s.NextStep),
			})
		}
		if s.NextStep == s.ID {
			problems = append(problems, Problem{
				StepID:   s.ID,
				Severity: "error",
				Message:  "step routes to itself",
			})
		}
		if s.OnError != "" && !ids[s.OnError] {
			problems = append(problems, Problem{
				StepID:   s.ID,
				Severity: "error",
				Message:  fmt.Sprintf("on_error %q does not exist", s.OnError),
			})
		}
		problems = append(problems, missingConfig(s)...)
	}
	return problems
}

// missingConfig checks the per-type required config keys.
func missingConfig(s workflow.Step) []Problem {
	need := func(key string) []Problem {
		if _, ok := s.Config[key]; ok {
			return nil
		}
		return []Problem{{
			StepID:   s.ID,
			Severity: "warning",
			Message:  fmt.Sprintf("%s step missing config %q", s.Type, key),
		}}
	}
	switch s.Type {
	case workflow.StepAgent:
		return need("prompt")
	case workflow.StepCondition:
		if _, ok := s.Config["switch_variable"]; ok {
			return need("cases")
		}
		return need("branches")
	case workflow.StepLoop:
		if mode, _ := s.Config["mode"].(string); mode == "while" || mode == "until" {
			return need("condition")
		}
		return need("items")
	case workflow.StepParallel:
		return need("branches")
	case workflow.StepMultiAgent:
		return need("agents")
	case workflow.StepTransform:
		if _, ok := s.Config["expression"]; ok {
			return nil
		}
		return need("mappings")
	default:
		return nil
	}
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= 48 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

func titleFrom(s string) string {
	words := strings.Fields(s)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}
