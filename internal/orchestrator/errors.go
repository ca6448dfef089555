package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден ни среди активных, ни в журнале.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunNotActive — run уже завершён или ещё не запущен (для сигналов и отмены).
	ErrRunNotActive = errors.New("run not in active runs")

	// ErrRunAlreadyActive — run с таким ID уже выполняется.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrAlreadyStarted — Start вызван повторно для того же workflow.
	ErrAlreadyStarted = errors.New("workflow already started")

	// ErrStepNotFound — шаг не найден в DAG.
	ErrStepNotFound = errors.New("step not found in DAG")

	// ErrResultExists — результат шага уже записан.
	ErrResultExists = errors.New("step result already recorded")

	// ErrOrchestratorStopped — runtime остановлен и не принимает новые runs.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")

	// ErrUnknownMessage — тип управляющего сообщения не поддерживается.
	ErrUnknownMessage = errors.New("unknown control message type")
)
