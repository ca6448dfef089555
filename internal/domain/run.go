package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — экземпляр выполнения workflow.
//
// Inputs неизменяемы. Results пополняется оркестратором: каждый ID
// записывается ровно один раз.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// WorkflowID — ID выполняемого workflow.
	WorkflowID string `json:"workflowId"`

	// WorkflowName — имя выполняемого workflow.
	WorkflowName string `json:"workflowName,omitempty"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Inputs — входные параметры, переданные при запуске.
	Inputs map[string]any `json:"inputs,omitempty"`

	// Results — результаты шагов по ID.
	Results map[string]*StepResult `json:"results"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"startedAt,omitempty"`

	// FinishedAt — время перехода в терминальный статус.
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"createdAt"`
}

// NewRun создаёт run в статусе NOT_STARTED.
func NewRun(def *WorkflowDef, inputs map[string]any) *Run {
	if inputs == nil {
		inputs = make(map[string]any)
	}
	return &Run{
		ID:           uuid.New(),
		WorkflowID:   def.ID,
		WorkflowName: def.Name,
		Status:       RunStatusNotStarted,
		Inputs:       inputs,
		Results:      make(map[string]*StepResult),
		CreatedAt:    time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkCompleted переводит run в статус COMPLETED.
func (r *Run) MarkCompleted() {
	now := time.Now()
	r.Status = RunStatusCompleted
	r.FinishedAt = &now
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
}

// Counts возвращает количество результатов по статусам.
func (r *Run) Counts() map[StepStatus]int {
	counts := make(map[StepStatus]int, 3)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}
