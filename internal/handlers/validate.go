package handlers

import (
	"context"
	"fmt"

	"github.com/kaushiksamanta/krama/internal/engine"
	"github.com/kaushiksamanta/krama/internal/node"
)

// NameDataValidate — имя обработчика проверки данных.
const NameDataValidate = "data-validate"

// DataValidate — обработчик проверки обязательных полей.
//
// Вход:
//
//	{"data": "{{ step.fetch.result.body }}", "required": ["id", "email"], "failOnInvalid": true}
//
// Выход: {"valid": bool, "missing": [...]}. При failOnInvalid отсутствие
// полей — ValidationError с нарушением на каждое поле.
type DataValidate struct{}

// NewDataValidate создаёт обработчик проверки данных.
func NewDataValidate() *DataValidate {
	return &DataValidate{}
}

// Meta реализует node.Handler.
func (v *DataValidate) Meta() node.Meta {
	return node.Meta{
		Name:        NameDataValidate,
		Description: "Checks that required paths are present in a value",
		Version:     "1.0.0",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"required"},
			"properties": map[string]any{
				"required":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"failOnInvalid": map[string]any{"type": "boolean"},
			},
		},
	}
}

// Execute проверяет данные.
func (v *DataValidate) Execute(ctx context.Context, input any, nctx *node.Context) (any, error) {
	in, err := node.InputMap(input)
	if err != nil {
		return nil, err
	}

	paths, _ := in["required"].([]any)
	missing := make([]any, 0)
	violations := make([]node.Violation, 0)
	for _, p := range paths {
		path := fmt.Sprint(p)
		value, ok := engine.Lookup(in["data"], path)
		if !ok || value == nil || value == "" {
			missing = append(missing, path)
			violations = append(violations, node.Violation{Field: path, Message: "is required"})
		}
	}

	if len(violations) > 0 && node.GetBool(in, "failOnInvalid", false) {
		return nil, &node.Error{
			Kind:       node.KindValidation,
			Message:    "data validation failed",
			Violations: violations,
		}
	}

	return map[string]any{
		"valid":   len(missing) == 0,
		"missing": missing,
	}, nil
}
