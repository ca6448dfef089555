package node

import (
	"context"
	"log/slog"

	"github.com/kaushiksamanta/krama/internal/domain"
)

// Handler — интерфейс обработчика шага (node).
//
// Обработчик содержит бизнес-логику и ничего не знает об оркестрации:
// retry, таймауты и пропуски решаются снаружи.
type Handler interface {
	// Meta возвращает описание обработчика.
	Meta() Meta

	// Execute выполняет обработчик и возвращает output.
	// Обработчик должен проверять ctx.Done() для долгих операций.
	Execute(ctx context.Context, input any, nctx *Context) (any, error)
}

// Meta — описание обработчика.
type Meta struct {
	// Name — уникальное имя в нижнем регистре через дефис ("http-call").
	Name string

	// Description — описание назначения.
	Description string

	// Version — семантическая версия ("1.2.0").
	Version string

	// InputSchema — JSON Schema входа. Проверяется до Execute.
	InputSchema map[string]any

	// OutputSchema — JSON Schema выхода. Только документация.
	OutputSchema map[string]any

	// Retry — политика retry по умолчанию, если шаг не задал свою.
	Retry *domain.RetryDef
}

// Context — контекст вызова обработчика (NodeContext).
type Context struct {
	WorkflowID   string
	WorkflowName string
	RunID        string
	StepID       string

	// Attempt — номер попытки, начиная с 1.
	Attempt int

	// Inputs — снимок входов run.
	Inputs map[string]any

	// Steps — снимок output предыдущих шагов (stepID → output).
	Steps map[string]any

	// Logger — логгер вызова. Заполняется на границе вызова.
	Logger *slog.Logger
}

// Clone возвращает копию контекста для одной попытки.
func (c *Context) Clone() *Context {
	if c == nil {
		return &Context{}
	}
	cp := *c
	return &cp
}

// HandlerFunc — адаптер функции к Handler.
type HandlerFunc struct {
	Info Meta
	Fn   func(ctx context.Context, input any, nctx *Context) (any, error)
}

// Meta реализует Handler.
func (h HandlerFunc) Meta() Meta { return h.Info }

// Execute реализует Handler.
func (h HandlerFunc) Execute(ctx context.Context, input any, nctx *Context) (any, error) {
	return h.Fn(ctx, input, nctx)
}

// InputMap приводит вход к map[string]any.
// Возвращает ValidationError, если вход не объект.
func InputMap(input any) (map[string]any, error) {
	switch v := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	default:
		return nil, NewError(KindValidation, "input must be an object")
	}
}

// GetString извлекает строковое значение.
func GetString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetInt извлекает числовое значение.
func GetInt(m map[string]any, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

// GetBool извлекает булево значение.
func GetBool(m map[string]any, key string, defaultVal bool) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetMap извлекает вложенный объект.
func GetMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key]; ok {
		if mm, ok := v.(map[string]any); ok {
			return mm
		}
	}
	return nil
}

// GetMapString извлекает map[string]string.
func GetMapString(m map[string]any, key string) map[string]string {
	if v, ok := m[key]; ok {
		switch mm := v.(type) {
		case map[string]string:
			return mm
		case map[string]any:
			result := make(map[string]string)
			for k, val := range mm {
				if s, ok := val.(string); ok {
					result[k] = s
				}
			}
			return result
		}
	}
	return nil
}
