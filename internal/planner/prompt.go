package planner

import (
	"strings"

	"github.com/mohammad-safakhou/chatplan/models"
	"github.com/mohammad-safakhou/chatplan/provider"
)

const (
	SearchIterations = 5
	SingleIteration  = 1
)

// SystemPrompt is the fixed plan-generation policy sent ahead of the history.
const SystemPrompt = `
You are a professional planning assistant with project-management, task-decomposition and strategic-thinking skills. Your job is to produce a high-quality, executable plan for the user.

## Capabilities
- Understand the user's goal, context and constraints
- Apply SMART goals (specific, measurable, achievable, relevant, time-bound)
- Weigh feasibility, risk, resources and time
- Think in structured, logical steps

## Method
1. Requirement: capture the core goal and the constraints
2. Situation: consider resources, skill level and time limits
3. Design: build executable steps from proven practice
4. Risk: name likely problems and how to prevent them
5. Value: make sure the plan really solves the problem

## Output
Produce exactly one best plan, wrapped in a JSON array, in exactly this shape:

[
  {
    "title": "plan title (at most 15 characters)",
    "description": "plan summary (at most 50 characters, lead with the core value)",
    "steps": [
      "Step 1: a concrete action with key details",
      "Step 2: ...",
      "Step 3: ..."
    ],
    "step_num": <number of steps>,
    "advantages": [
      "Advantage 1: why this plan works",
      "Advantage 2: what sets it apart",
      "Advantage 3: expected outcome"
    ]
  }
]

## Quality bar
- 3 to 8 steps, each one actionable
- Steps follow a clear order with explicit dependencies
- Cover the full path from start to finish
- At least 2 advantages
- Write in the same language as the user

Output the JSON array only. No markdown fences, no commentary.
`

// PromptOptions are the generation parameters for one request.
type PromptOptions struct {
	SearchMode bool
	Model      string
}

// MaxIterations returns the model-side iteration budget for the options.
func (o PromptOptions) MaxIterations() int {
	if o.SearchMode {
		return SearchIterations
	}
	return SingleIteration
}

// BuildRequest composes the plan-generation request. The history is copied,
// never aliased. An empty history (or one holding only blank messages) is
// rejected because there is no intent to plan from.
func BuildRequest(history []models.Message, opts PromptOptions) (provider.Request, error) {
	if !hasContent(history) {
		return provider.Request{}, &ConfigurationError{Message: "history is empty"}
	}
	msgs := make([]models.Message, len(history))
	copy(msgs, history)
	return provider.Request{
		System:        SystemPrompt,
		Messages:      msgs,
		MaxIterations: opts.MaxIterations(),
		Model:         opts.Model,
	}, nil
}

// UserPrompt wraps a single prompt string as a history.
func UserPrompt(prompt string) []models.Message {
	if strings.TrimSpace(prompt) == "" {
		return nil
	}
	return []models.Message{{Role: models.RoleUser, Content: prompt}}
}

func hasContent(history []models.Message) bool {
	for _, m := range history {
		if strings.TrimSpace(m.Content) != "" {
			return true
		}
	}
	return false
}
