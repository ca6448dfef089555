package engine

import "errors"

// Ошибки структуры workflow. Все фатальны и проверяются до старта run.
var (
	// ErrEmptySteps — workflow не содержит шагов.
	ErrEmptySteps = errors.New("workflow has no steps")

	// ErrEmptyStepID — шаг не имеет ID.
	ErrEmptyStepID = errors.New("step has empty ID")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrMissingDependency — шаг зависит от несуществующего шага.
	ErrMissingDependency = errors.New("step depends on unknown step")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

// Ошибки определения шага.
var (
	// ErrUnknownStepKind — неизвестный вид шага.
	ErrUnknownStepKind = errors.New("unknown step kind")

	// ErrMissingHandler — activity шаг без handlerName.
	ErrMissingHandler = errors.New("activity step has no handler")

	// ErrMissingScript — code шаг без inlineScript.
	ErrMissingScript = errors.New("code step has no inline script")

	// ErrUnexpectedScript — inlineScript у шага, который не является code.
	ErrUnexpectedScript = errors.New("inline script is only allowed for code steps")

	// ErrInvalidVersion — некорректная версия handler.
	ErrInvalidVersion = errors.New("invalid handler version")

	// ErrInvalidRetry — некорректная политика retry.
	ErrInvalidRetry = errors.New("invalid retry policy")

	// ErrParse — документ не удалось разобрать.
	ErrParse = errors.New("workflow document parse failed")
)

// GraphError — ошибка валидации с контекстом шага.
type GraphError struct {
	StepID  string // ID шага, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *GraphError) Error() string {
	if e.StepID != "" {
		return "step " + e.StepID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *GraphError) Unwrap() error {
	return e.Err
}

// NewGraphError создаёт новую ошибку валидации.
func NewGraphError(stepID, field, message string, err error) *GraphError {
	return &GraphError{
		StepID:  stepID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
