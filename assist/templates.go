package assist

import "github.com/floworc/floworc/workflow"

func builtinTemplates() []template {
	return []template{
		{
			name:     "research",
			keywords: []string{"research", "investigate", "sources", "report", "findings"},
			build: func(description string) *workflow.Definition {
				return &workflow.Definition{
					ID:          "research-" + slugify(titleFrom(description)),
					Name:        "Research: " + titleFrom(description),
					Description: description,
					Version:     "1.0.0",
					Enabled:     true,
					Tags:        []string{"generated", "research"},
					Steps: []workflow.Step{
						{ID: "plan", Type: workflow.StepAgent, Config: map[string]any{
							"prompt":          "Break the research question into 3-5 sub-questions: " + description,
							"output_variable": "plan",
						}},
						{ID: "gather", Type: workflow.StepLoop, Config: map[string]any{
							"items":           "${plan}",
							"item_variable":   "question",
							"output_variable": "findings",
							"body": map[string]any{
								"id": "search", "type": "agent",
								"config": map[string]any{"prompt": "Find sources answering: ${question}"},
							},
						}},
						{ID: "synthesize", Type: workflow.StepAgent, Config: map[string]any{
							"prompt":          "Write a report from the gathered findings: ${findings}",
							"output_variable": "report",
						}},
					},
				}
			},
		},
		{
			name:     "etl",
			keywords: []string{"etl", "pipeline", "ingest", "load", "data", "transform"},
			build: func(description string) *workflow.Definition {
				return &workflow.Definition{
					ID:          "pipeline-" + slugify(titleFrom(description)),
					Name:        "Pipeline: " + titleFrom(description),
					Description: description,
					Version:     "1.0.0",
					Enabled:     true,
					Tags:        []string{"generated", "etl"},
					Steps: []workflow.Step{
						{ID: "extract", Type: workflow.StepAgent, Config: map[string]any{
							"prompt":          "Extract the records described here: " + description,
							"output_variable": "records",
						}},
						{ID: "validate", Type: workflow.StepCondition, Config: map[string]any{
							"branches": []any{
								map[string]any{"condition": "${length(records) > 0}", "next_step": "shape"},
							},
							"default_step": "report",
						}},
						{ID: "shape", Type: workflow.StepTransform, Config: map[string]any{
							"mappings": map[string]any{"clean_records": "${records}"},
						}, NextStep: "load"},
						{ID: "load", Type: workflow.StepAgent, Config: map[string]any{
							"prompt": "Load these records to the destination: ${clean_records}",
						}, NextStep: "report"},
						{ID: "report", Type: workflow.StepAgent, Config: map[string]any{
							"prompt": "Summarize what was processed and any validation failures",
						}},
					},
				}
			},
		},
		{
			name:     "review",
			keywords: []string{"review", "critique", "feedback", "approve", "quality"},
			build: func(description string) *workflow.Definition {
				return &workflow.Definition{
					ID:          "review-" + slugify(titleFrom(description)),
					Name:        "Review: " + titleFrom(description),
					Description: description,
					Version:     "1.0.0",
					Enabled:     true,
					Tags:        []string{"generated", "review"},
					Steps: []workflow.Step{
						{ID: "draft", Type: workflow.StepAgent, Config: map[string]any{
							"prompt":          "Produce an initial draft for: " + description,
							"output_variable": "draft",
						}},
						{ID: "critique", Type: workflow.StepMultiAgent, Config: map[string]any{
							"pattern":         "debate",
							"task":            "Critique this draft: ${draft}",
							"output_variable": "critique",
							"agents": []any{
								map[string]any{"role": "reviewer", "focus": "accuracy"},
								map[string]any{"role": "editor", "focus": "clarity"},
							},
						}},
						{ID: "revise", Type: workflow.StepAgent, Config: map[string]any{
							"prompt":          "Revise the draft addressing every critique point: ${critique}",
							"output_variable": "final",
						}},
					},
				}
			},
		},
		{
			name:     "support",
			keywords: []string{"support", "ticket", "customer", "triage", "escalate"},
			build: func(description string) *workflow.Definition {
				return &workflow.Definition{
					ID:          "support-" + slugify(titleFrom(description)),
					Name:        "Support: " + titleFrom(description),
					Description: description,
					Version:     "1.0.0",
					Enabled:     true,
					Tags:        []string{"generated", "support"},
					Steps: []workflow.Step{
						{ID: "classify", Type: workflow.StepAgent, Config: map[string]any{
							"prompt":          "Classify this ticket's category and urgency as JSON: ${ticket}",
							"output_variable": "classification",
						}},
						{ID: "route", Type: workflow.StepCondition, Config: map[string]any{
							"branches": []any{
								map[string]any{"condition": `${classification contains "high"}`, "next_step": "escalate"},
							},
							"default_step": "respond",
						}},
						{ID: "escalate", Type: workflow.StepAgent, Config: map[string]any{
							"prompt": "Draft an escalation summary for the on-call engineer: ${classification}",
						}},
						{ID: "respond", Type: workflow.StepAgent, Config: map[string]any{
							"prompt": "Draft a reply resolving the ticket: ${ticket}",
						}},
					},
				}
			},
		},
	}
}
