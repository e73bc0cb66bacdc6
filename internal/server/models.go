package server

import (
	"encoding/json"
	"time"

	"github.com/mohammad-safakhou/chatplan/internal/pipeline"
	"github.com/mohammad-safakhou/chatplan/internal/planner"
	"github.com/mohammad-safakhou/chatplan/models"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// GenerateRequest starts a plan generation for the caller.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateResponse carries the id of the run that was started.
type GenerateResponse struct {
	RunID string `json:"run_id"`
}

// CancelResponse reports whether a run was in flight.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// StreamRequest asks for the raw model text of one planning request.
type StreamRequest struct {
	UserPrompt string `json:"userPrompt"`
	SearchMode bool   `json:"searchMode"`
	Model      string `json:"model,omitempty"`
}

// DryRunRequest carries plan records to validate without calling a model.
type DryRunRequest struct {
	Plans json.RawMessage `json:"plans"`
}

// DryRunResponse is returned for a valid plan array.
type DryRunResponse struct {
	Valid      bool                 `json:"valid"`
	PlanCount  int                  `json:"plan_count"`
	Plans      []planner.PlanRecord `json:"plans"`
	Mismatched []int                `json:"step_num_mismatch,omitempty"`
	Message    string               `json:"message,omitempty"`
}

// ModelsResponse lists the models callers may select.
type ModelsResponse struct {
	Models []models.Model `json:"models"`
}

// RunsResponse lists recent run summaries.
type RunsResponse struct {
	Runs []RunItem `json:"runs"`
}

type RunItem struct {
	RunID      string           `json:"run_id"`
	Outcome    pipeline.Outcome `json:"outcome"`
	Error      string           `json:"error,omitempty"`
	PlanCount  int              `json:"plan_count"`
	Fragments  int              `json:"fragments"`
	DurationMS int64            `json:"duration_ms"`
	StartedAt  string           `json:"started_at"`
}

func runItem(rec pipeline.RunRecord) RunItem {
	return RunItem{
		RunID:      rec.ID,
		Outcome:    rec.Outcome,
		Error:      rec.Error,
		PlanCount:  rec.PlanCount,
		Fragments:  rec.Fragments,
		DurationMS: rec.FinishedAt.Sub(rec.StartedAt).Milliseconds(),
		StartedAt:  rec.StartedAt.UTC().Format(time.RFC3339),
	}
}
