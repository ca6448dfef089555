package domain

import "time"

// LogEntry — одна захваченная строка лога шага.
type LogEntry struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Time    time.Time      `json:"time"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// StepResult — терминальный результат шага.
//
// Создаётся один раз и после записи в run не меняется.
type StepResult struct {
	// StepID — ID шага.
	StepID string `json:"stepId"`

	// Status — completed, failed или skipped.
	Status StepStatus `json:"status"`

	// Output — результат шага (только для completed).
	Output any `json:"output,omitempty"`

	// Error — сообщение об ошибке (только для failed).
	Error string `json:"error,omitempty"`

	// ErrorKind — вид ошибки handler (ValidationError, TimeoutError, ...).
	ErrorKind string `json:"errorKind,omitempty"`

	// Reason — причина пропуска (только для skipped).
	Reason string `json:"reason,omitempty"`

	// Attempts — количество использованных попыток.
	Attempts int `json:"attempts"`

	// Logs — захваченные логи handler или скрипта.
	Logs []LogEntry `json:"logs,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Duration возвращает продолжительность шага.
func (r *StepResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Message возвращает сообщение об ошибке или причину пропуска.
func (r *StepResult) Message() string {
	if r.Status == StepStatusSkipped {
		return r.Reason
	}
	return r.Error
}

// NewCompleted создаёт успешный результат.
func NewCompleted(stepID string, output any, attempts int) *StepResult {
	now := time.Now()
	return &StepResult{
		StepID:     stepID,
		Status:     StepStatusCompleted,
		Output:     output,
		Attempts:   attempts,
		StartedAt:  now,
		FinishedAt: now,
	}
}

// NewFailed создаёт результат с ошибкой.
func NewFailed(stepID, kind, message string, attempts int) *StepResult {
	if attempts < 1 {
		attempts = 1
	}
	now := time.Now()
	return &StepResult{
		StepID:     stepID,
		Status:     StepStatusFailed,
		Error:      message,
		ErrorKind:  kind,
		Attempts:   attempts,
		StartedAt:  now,
		FinishedAt: now,
	}
}

// NewSkipped создаёт результат пропуска.
func NewSkipped(stepID, reason string) *StepResult {
	now := time.Now()
	return &StepResult{
		StepID:     stepID,
		Status:     StepStatusSkipped,
		Reason:     reason,
		StartedAt:  now,
		FinishedAt: now,
	}
}
