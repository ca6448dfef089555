package node

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// inputSchema — скомпилированная JSON Schema входа обработчика.
type inputSchema struct {
	schema *jsonschema.Schema
}

func compileSchema(name, version string, raw map[string]any) (*inputSchema, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	url := fmt.Sprintf("mem://handlers/%s/%s/input.json", name, version)
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return &inputSchema{schema: schema}, nil
}

// validate проверяет вход и возвращает нарушения по полям.
// Вход сначала приводится к JSON-представлению, как его увидит схема.
func (s *inputSchema) validate(input any) ([]Violation, error) {
	if s == nil {
		return nil, nil
	}

	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("input is not JSON-serializable: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	err = s.schema.Validate(doc)
	if err == nil {
		return nil, nil
	}

	var vErr *jsonschema.ValidationError
	if !errors.As(err, &vErr) {
		return nil, err
	}

	violations := make([]Violation, 0)
	collectViolations(vErr, &violations)
	return violations, nil
}

func collectViolations(e *jsonschema.ValidationError, out *[]Violation) {
	if len(e.Causes) == 0 {
		*out = append(*out, Violation{
			Field:   fieldPath(e.InstanceLocation),
			Message: e.Message,
		})
		return
	}
	for _, cause := range e.Causes {
		collectViolations(cause, out)
	}
}

// fieldPath переводит JSON Pointer ("/user/name") в путь "user.name".
func fieldPath(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return "input"
	}
	return strings.ReplaceAll(pointer, "/", ".")
}
