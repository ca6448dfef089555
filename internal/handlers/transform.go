package handlers

import (
	"context"
	"sort"

	"github.com/kaushiksamanta/krama/internal/engine"
	"github.com/kaushiksamanta/krama/internal/node"
)

// NameDataTransform — имя обработчика трансформации.
const NameDataTransform = "data-transform"

// DataTransform — обработчик трансформации данных.
//
// Выбирает значения из source по путям и собирает новый объект:
//
//	{
//	    "source": "{{ step.fetch.result.body }}",
//	    "pick": {"id": "user.id", "firstTag": "user.tags.0"},
//	    "defaults": {"firstTag": "none"},
//	    "strict": false
//	}
//
// Без source пути разрешаются от {inputs, steps} контекста вызова.
// В strict режиме отсутствующий путь без default — ValidationError.
type DataTransform struct{}

// NewDataTransform создаёт обработчик трансформации.
func NewDataTransform() *DataTransform {
	return &DataTransform{}
}

// Meta реализует node.Handler.
func (t *DataTransform) Meta() node.Meta {
	return node.Meta{
		Name:        NameDataTransform,
		Description: "Builds an object by picking dot paths out of a source value",
		Version:     "1.0.0",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"pick"},
			"properties": map[string]any{
				"pick":     map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
				"defaults": map[string]any{"type": "object"},
				"strict":   map[string]any{"type": "boolean"},
			},
		},
	}
}

// Execute выполняет трансформацию.
func (t *DataTransform) Execute(ctx context.Context, input any, nctx *node.Context) (any, error) {
	in, err := node.InputMap(input)
	if err != nil {
		return nil, err
	}

	source, ok := in["source"]
	if !ok {
		source = map[string]any{"inputs": nctx.Inputs, "steps": nctx.Steps}
	}

	pick := node.GetMapString(in, "pick")
	defaults := node.GetMap(in, "defaults")
	strict := node.GetBool(in, "strict", false)

	keys := make([]string, 0, len(pick))
	for key := range pick {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(pick))
	var missing []node.Violation
	for _, key := range keys {
		value, found := engine.Lookup(source, pick[key])
		if !found {
			if def, ok := defaults[key]; ok {
				value, found = def, true
			}
		}
		if !found {
			if strict {
				missing = append(missing, node.Violation{Field: key, Message: "path " + pick[key] + " not found"})
				continue
			}
			nctx.Logger.Warn("transform path not found", "key", key, "path", pick[key])
		}
		out[key] = value
	}

	if len(missing) > 0 {
		return nil, &node.Error{
			Kind:       node.KindValidation,
			Message:    "transform paths not found",
			Violations: missing,
		}
	}
	return out, nil
}
