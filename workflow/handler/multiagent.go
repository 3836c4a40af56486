package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/floworc/floworc/agent"
	"github.com/floworc/floworc/workflow"
	"github.com/floworc/floworc/workflow/expr"
)

// DefaultMaxRounds bounds iterative multi-agent patterns when unconfigured.
const DefaultMaxRounds = 3

// roster entry: a named agent with optional per-agent overrides.
type rosterAgent struct {
	ID     string
	Prompt string // per-agent prompt template (chain pattern)
	Model  string
}

// RoundEntry records one agent's contribution within a pattern run.
type RoundEntry struct {
	AgentID string `json:"agent_id"`
	Output  string `json:"output"`
}

// MultiAgentHandler orchestrates several agents within a single step.
//
// Config keys:
//   - agents: roster; each entry is an agent id string or a map with
//     id / prompt / model keys
//   - pattern: sequential | hierarchical | collaborative | debate |
//     router | voting | chain
//   - task (or prompt): the base task template, resolved against the scope
//   - max_rounds: round cap for collaborative and debate (default 3)
//   - output_variable: variable to receive the aggregate output
//
// Aggregate output shape:
//
//	{"pattern", "agents": [ids], "rounds": [{"agent_id","output"}], "final_output"}
type MultiAgentHandler struct {
	invoker  agent.Invoker
	resolver *expr.Resolver
}

// NewMultiAgentHandler creates a multi-agent handler backed by the invoker.
func NewMultiAgentHandler(invoker agent.Invoker, resolver *expr.Resolver) *MultiAgentHandler {
	if resolver == nil {
		resolver = expr.New()
	}
	return &MultiAgentHandler{invoker: invoker, resolver: resolver}
}

func (h *MultiAgentHandler) Type() workflow.StepType { return workflow.StepMultiAgent }

func (h *MultiAgentHandler) Execute(ctx context.Context, step *workflow.Step, ec *workflow.ExecutionContext) (any, error) {
	if h.invoker == nil {
		return nil, fmt.Errorf("multi_agent step %q: no invoker configured", step.ID)
	}

	roster, err := parseRoster(step.Config)
	if err != nil {
		return nil, fmt.Errorf("multi_agent step %q: %w", step.ID, err)
	}
	if len(roster) == 0 {
		return nil, fmt.Errorf("multi_agent step %q: empty agent roster", step.ID)
	}

	scope := ec.Snapshot()
	task := configString(step.Config, "task")
	if task == "" {
		task = configString(step.Config, "prompt")
	}
	task, err = h.resolver.ResolveString(task, scope)
	if err != nil {
		return nil, fmt.Errorf("multi_agent step %q: resolve task: %w", step.ID, err)
	}

	pattern := configString(step.Config, "pattern")
	if pattern == "" {
		pattern = "sequential"
	}
	maxRounds := configInt(step.Config, "max_rounds", DefaultMaxRounds)
	if maxRounds < 1 {
		maxRounds = 1
	}

	var rounds []RoundEntry
	var final string

	switch pattern {
	case "sequential":
		rounds, final, err = h.runSequential(ctx, roster, task)
	case "hierarchical":
		rounds, final, err = h.runHierarchical(ctx, roster, task)
	case "collaborative":
		rounds, final, err = h.runCollaborative(ctx, roster, task, maxRounds)
	case "debate":
		rounds, final, err = h.runDebate(ctx, roster, task, maxRounds)
	case "router":
		rounds, final, err = h.runRouter(ctx, roster, task)
	case "voting":
		rounds, final, err = h.runVoting(ctx, roster, task)
	case "chain":
		rounds, final, err = h.runChain(ctx, roster, task, scope)
	default:
		return nil, fmt.Errorf("multi_agent step %q: unknown pattern %q", step.ID, pattern)
	}
	if err != nil {
		return nil, fmt.Errorf("multi_agent step %q: %w", step.ID, err)
	}

	ids := make([]any, len(roster))
	for i, a := range roster {
		ids[i] = a.ID
	}
	roundMaps := make([]any, len(rounds))
	for i, r := range rounds {
		roundMaps[i] = map[string]any{"agent_id": r.AgentID, "output": r.Output}
	}
	output := map[string]any{
		"pattern":      pattern,
		"agents":       ids,
		"rounds":       roundMaps,
		"final_output": final,
	}
	if outVar := configString(step.Config, "output_variable"); outVar != "" {
		ec.Set(outVar, output)
	}
	return output, nil
}

func (h *MultiAgentHandler) ask(ctx context.Context, a rosterAgent, prompt string) (string, error) {
	resp, err := h.invoker.Invoke(ctx, agent.Request{
		AgentID: a.ID,
		Prompt:  prompt,
		Model:   a.Model,
	})
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", a.ID, err)
	}
	return resp.Text, nil
}

// runSequential feeds each agent the previous agent's output.
func (h *MultiAgentHandler) runSequential(ctx context.Context, roster []rosterAgent, task string) ([]RoundEntry, string, error) {
	var rounds []RoundEntry
	input := task
	for _, a := range roster {
		out, err := h.ask(ctx, a, input)
		if err != nil {
			return rounds, "", err
		}
		rounds = append(rounds, RoundEntry{AgentID: a.ID, Output: out})
		input = out
	}
	return rounds, input, nil
}

// runHierarchical has the first agent plan, the rest work the plan, and
// the first agent synthesize the workers' outputs.
func (h *MultiAgentHandler) runHierarchical(ctx context.Context, roster []rosterAgent, task string) ([]RoundEntry, string, error) {
	manager := roster[0]
	workers := roster[1:]

	var rounds []RoundEntry
	plan, err := h.ask(ctx, manager, "Create a plan for the following task. Task: "+task)
	if err != nil {
		return rounds, "", err
	}
	rounds = append(rounds, RoundEntry{AgentID: manager.ID, Output: plan})

	var workerOutputs []string
	for _, w := range workers {
		out, err := h.ask(ctx, w, "Plan: "+plan+"\nTask: "+task)
		if err != nil {
			return rounds, "", err
		}
		rounds = append(rounds, RoundEntry{AgentID: w.ID, Output: out})
		workerOutputs = append(workerOutputs, w.ID+": "+out)
	}

	final, err := h.ask(ctx, manager,
		"Synthesize a final answer for the task from the worker results.\nTask: "+task+
			"\nResults:\n"+strings.Join(workerOutputs, "\n"))
	if err != nil {
		return rounds, "", err
	}
	rounds = append(rounds, RoundEntry{AgentID: manager.ID, Output: final})
	return rounds, final, nil
}

// runCollaborative builds a shared contribution list over rounds; every
// agent sees all earlier contributions.
func (h *MultiAgentHandler) runCollaborative(ctx context.Context, roster []rosterAgent, task string, maxRounds int) ([]RoundEntry, string, error) {
	var rounds []RoundEntry
	var contributions []string
	final := ""
	for round := 0; round < maxRounds; round++ {
		for _, a := range roster {
			prompt := "Task: " + task
			if len(contributions) > 0 {
				prompt += "\nContributions so far:\n" + strings.Join(contributions, "\n")
			}
			out, err := h.ask(ctx, a, prompt)
			if err != nil {
				return rounds, "", err
			}
			rounds = append(rounds, RoundEntry{AgentID: a.ID, Output: out})
			contributions = append(contributions, a.ID+": "+out)
			final = out
		}
	}
	return rounds, final, nil
}

// runDebate has agents state positions and rewrite them given the others'
// positions each round. Exact agreement of every position ends the debate
// early.
func (h *MultiAgentHandler) runDebate(ctx context.Context, roster []rosterAgent, task string, maxRounds int) ([]RoundEntry, string, error) {
	var rounds []RoundEntry
	positions := make([]string, len(roster))

	for i, a := range roster {
		out, err := h.ask(ctx, a, "State your position on the following task. Task: "+task)
		if err != nil {
			return rounds, "", err
		}
		positions[i] = out
		rounds = append(rounds, RoundEntry{AgentID: a.ID, Output: out})
	}

	for round := 1; round < maxRounds && !allEqual(positions); round++ {
		next := make([]string, len(roster))
		for i, a := range roster {
			var others []string
			for j, p := range positions {
				if j != i {
					others = append(others, roster[j].ID+": "+p)
				}
			}
			out, err := h.ask(ctx, a,
				"Task: "+task+"\nYour position: "+positions[i]+
					"\nOther positions:\n"+strings.Join(others, "\n")+
					"\nRestate your position.")
			if err != nil {
				return rounds, "", err
			}
			next[i] = out
			rounds = append(rounds, RoundEntry{AgentID: a.ID, Output: out})
		}
		positions = next
	}

	if allEqual(positions) {
		return rounds, positions[0], nil
	}
	var lines []string
	for i, p := range positions {
		lines = append(lines, roster[i].ID+": "+p)
	}
	return rounds, strings.Join(lines, "\n"), nil
}

// runRouter asks the first agent to pick one roster id; only the chosen
// agent executes the task. An unparseable choice falls back to the first
// non-router agent.
func (h *MultiAgentHandler) runRouter(ctx context.Context, roster []rosterAgent, task string) ([]RoundEntry, string, error) {
	if len(roster) < 2 {
		return nil, "", fmt.Errorf("router pattern needs a router and at least one target agent")
	}
	router := roster[0]
	targets := roster[1:]

	var ids []string
	for _, t := range targets {
		ids = append(ids, t.ID)
	}
	choice, err := h.ask(ctx, router,
		"Pick exactly one agent id from ["+strings.Join(ids, ", ")+"] best suited for the task. "+
			"Reply with the id only.\nTask: "+task)
	if err != nil {
		return nil, "", err
	}
	rounds := []RoundEntry{{AgentID: router.ID, Output: choice}}

	chosen := targets[0]
	for _, t := range targets {
		if strings.Contains(choice, t.ID) {
			chosen = t
			break
		}
	}

	out, err := h.ask(ctx, chosen, task)
	if err != nil {
		return rounds, "", err
	}
	rounds = append(rounds, RoundEntry{AgentID: chosen.ID, Output: out})
	return rounds, out, nil
}

// runVoting asks every agent and reduces by exact-equality majority with
// first-seen tie-break.
func (h *MultiAgentHandler) runVoting(ctx context.Context, roster []rosterAgent, task string) ([]RoundEntry, string, error) {
	var rounds []RoundEntry
	counts := make(map[string]int)
	var order []string

	for _, a := range roster {
		out, err := h.ask(ctx, a, task)
		if err != nil {
			return rounds, "", err
		}
		rounds = append(rounds, RoundEntry{AgentID: a.ID, Output: out})
		vote := strings.TrimSpace(out)
		if counts[vote] == 0 {
			order = append(order, vote)
		}
		counts[vote]++
	}

	winner := ""
	best := 0
	for _, vote := range order {
		if counts[vote] > best {
			winner = vote
			best = counts[vote]
		}
	}
	return rounds, winner, nil
}

// runChain resolves each agent's own prompt template, substituting
// ${input} with the previous output (the task for the first agent).
func (h *MultiAgentHandler) runChain(ctx context.Context, roster []rosterAgent, task string, scope map[string]any) ([]RoundEntry, string, error) {
	var rounds []RoundEntry
	input := task
	for _, a := range roster {
		prompt := input
		if a.Prompt != "" {
			chainScope := make(map[string]any, len(scope)+1)
			for k, v := range scope {
				chainScope[k] = v
			}
			chainScope["input"] = input
			resolved, err := h.resolver.ResolveString(a.Prompt, chainScope)
			if err != nil {
				return rounds, "", fmt.Errorf("agent %s prompt: %w", a.ID, err)
			}
			prompt = resolved
		}
		out, err := h.ask(ctx, a, prompt)
		if err != nil {
			return rounds, "", err
		}
		rounds = append(rounds, RoundEntry{AgentID: a.ID, Output: out})
		input = out
	}
	return rounds, input, nil
}

func allEqual(values []string) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

// parseRoster reads the agents config: string ids or maps with id, prompt,
// and model keys.
func parseRoster(config map[string]any) ([]rosterAgent, error) {
	var out []rosterAgent
	for i, raw := range configSlice(config, "agents") {
		switch v := raw.(type) {
		case string:
			out = append(out, rosterAgent{ID: v})
		case map[string]any:
			a := rosterAgent{
				ID:     configString(v, "id"),
				Prompt: configString(v, "prompt"),
				Model:  configString(v, "model"),
			}
			if a.ID == "" {
				return nil, fmt.Errorf("agent %d has no id", i)
			}
			out = append(out, a)
		default:
			return nil, fmt.Errorf("agent %d is %T, want string or map", i, raw)
		}
	}
	return out, nil
}
