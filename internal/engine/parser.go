package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/kaushiksamanta/krama/internal/domain"
)

// ParseWorkflow разбирает документ workflow (YAML или JSON) и валидирует его.
//
// Неизвестные поля считаются ошибкой, чтобы опечатки в ключах
// (dependOn вместо dependsOn) не терялись молча.
func ParseWorkflow(data []byte) (*domain.WorkflowDef, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def domain.WorkflowDef
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptySteps
		}
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate выполняет полную валидацию workflow.
//
// Проверяет:
// - Наличие шагов
// - Корректность вида шага и обязательных полей для него
// - Политику retry
// - Уникальность ID, существование зависимостей и отсутствие циклов (через DAG)
func Validate(def *domain.WorkflowDef) error {
	if def == nil || len(def.Steps) == 0 {
		return ErrEmptySteps
	}

	for i := range def.Steps {
		if err := ValidateStep(&def.Steps[i]); err != nil {
			return err
		}
	}

	if _, err := BuildDAG(def.Steps); err != nil {
		return err
	}
	return nil
}

// ValidateStep валидирует один шаг без учёта графа.
func ValidateStep(step *domain.StepDef) error {
	if step.ID == "" {
		return NewGraphError("", "id", "step has empty ID", ErrEmptyStepID)
	}

	if !step.Kind.Valid() {
		return NewGraphError(step.ID, "kind",
			fmt.Sprintf("unknown step kind: %s", step.Kind), ErrUnknownStepKind)
	}

	switch step.Kind.Effective() {
	case domain.KindActivity:
		if step.HandlerName == "" {
			return NewGraphError(step.ID, "handlerName",
				"activity step requires handlerName", ErrMissingHandler)
		}
	case domain.KindCode:
		if step.InlineScript == "" {
			return NewGraphError(step.ID, "inlineScript",
				"code step requires inlineScript", ErrMissingScript)
		}
	}

	if step.InlineScript != "" && step.Kind.Effective() != domain.KindCode {
		return NewGraphError(step.ID, "inlineScript",
			fmt.Sprintf("inlineScript is not allowed for %s steps", step.Kind.Effective()), ErrUnexpectedScript)
	}

	if step.HandlerVersion < 0 {
		return NewGraphError(step.ID, "handlerVersion",
			"handlerVersion must not be negative", ErrInvalidVersion)
	}

	return validateRetry(step)
}

func validateRetry(step *domain.StepDef) error {
	r := step.Retry
	if r == nil {
		return nil
	}
	if r.Count < 0 {
		return NewGraphError(step.ID, "retry.count", "count must not be negative", ErrInvalidRetry)
	}
	if r.MaximumAttempts < 0 {
		return NewGraphError(step.ID, "retry.maximumAttempts",
			"maximumAttempts must not be negative", ErrInvalidRetry)
	}
	if r.BackoffCoefficient != 0 && r.BackoffCoefficient < 1 {
		return NewGraphError(step.ID, "retry.backoffCoefficient",
			"backoffCoefficient must be >= 1", ErrInvalidRetry)
	}
	if r.MaximumInterval != 0 && r.MaximumInterval < r.InitialInterval {
		return NewGraphError(step.ID, "retry.maximumInterval",
			"maximumInterval must not be less than initialInterval", ErrInvalidRetry)
	}
	return nil
}
