package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/kaushiksamanta/krama/internal/domain"
)

// Run DTOs

// CreateRunRequest — запрос на запуск workflow.
//
// Определение передаётся либо объектом (workflow), либо текстом
// документа YAML/JSON (document).
type CreateRunRequest struct {
	Workflow *domain.WorkflowDef `json:"workflow,omitempty"`
	Document string              `json:"document,omitempty"`
	Inputs   map[string]any      `json:"inputs,omitempty"`

	// Wait — выполнить синхронно и вернуть итоговый run.
	Wait bool `json:"wait,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID           uuid.UUID                     `json:"id"`
	WorkflowID   string                        `json:"workflow_id"`
	WorkflowName string                        `json:"workflow_name,omitempty"`
	Status       string                        `json:"status"`
	Inputs       map[string]any                `json:"inputs,omitempty"`
	Results      map[string]StepResultResponse `json:"results,omitempty"`
	Counts       map[string]int                `json:"counts"`
	StartedAt    *time.Time                    `json:"started_at,omitempty"`
	FinishedAt   *time.Time                    `json:"finished_at,omitempty"`
	DurationMs   int64                         `json:"duration_ms,omitempty"`
	CreatedAt    time.Time                     `json:"created_at"`
}

// StepResultResponse — ответ с результатом шага.
type StepResultResponse struct {
	Status     string            `json:"status"`
	Output     any               `json:"output,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorKind  string            `json:"error_kind,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Attempts   int               `json:"attempts"`
	Logs       []domain.LogEntry `json:"logs,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	resp := RunResponse{
		ID:           r.ID,
		WorkflowID:   r.WorkflowID,
		WorkflowName: r.WorkflowName,
		Status:       string(r.Status),
		Inputs:       r.Inputs,
		Counts:       make(map[string]int, 3),
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		DurationMs:   r.Duration().Milliseconds(),
		CreatedAt:    r.CreatedAt,
	}
	for status, n := range r.Counts() {
		resp.Counts[string(status)] = n
	}
	if len(r.Results) > 0 {
		resp.Results = make(map[string]StepResultResponse, len(r.Results))
		for id, res := range r.Results {
			resp.Results[id] = StepResultFromDomain(res)
		}
	}
	return resp
}

// StepResultFromDomain конвертирует domain.StepResult в StepResultResponse.
func StepResultFromDomain(r *domain.StepResult) StepResultResponse {
	return StepResultResponse{
		Status:     string(r.Status),
		Output:     r.Output,
		Error:      r.Error,
		ErrorKind:  r.ErrorKind,
		Reason:     r.Reason,
		Attempts:   r.Attempts,
		Logs:       r.Logs,
		StartedAt:  timePtr(r.StartedAt),
		FinishedAt: timePtr(r.FinishedAt),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Handler DTOs

// HandlerResponse — зарегистрированный handler.
type HandlerResponse struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}
