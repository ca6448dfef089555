package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	NOT_STARTED → RUNNING → COMPLETED
//	                      ↘ CANCELLED
type RunStatus string

const (
	// RunStatusNotStarted — run создан, но цикл ещё не запущен.
	RunStatusNotStarted RunStatus = "NOT_STARTED"

	// RunStatusRunning — цикл выполнения идёт.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusCompleted — порядок выполнения пройден до конца.
	// Отдельные шаги при этом могли упасть или быть пропущены.
	RunStatusCompleted RunStatus = "COMPLETED"

	// RunStatusCancelled — цикл прерван отменой.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus — терминальный статус шага.
type StepStatus string

const (
	// StepStatusCompleted — шаг выполнен, есть output.
	StepStatusCompleted StepStatus = "completed"

	// StepStatusFailed — шаг упал, есть сообщение об ошибке.
	StepStatusFailed StepStatus = "failed"

	// StepStatusSkipped — шаг не выполнялся, есть причина.
	StepStatusSkipped StepStatus = "skipped"
)

// Blocks возвращает true, если статус блокирует зависимые шаги.
func (s StepStatus) Blocks() bool {
	return s == StepStatusFailed || s == StepStatusSkipped
}
