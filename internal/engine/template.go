package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaushiksamanta/krama/internal/domain"
)

// Context — контекст для рендеринга шаблонов.
//
// Доступные корни путей:
//   - {{ inputs.param }}
//   - {{ step.<id>.result.field }} (алиас: steps)
//
// Контекст собирается заново перед каждым шагом и не изменяется.
type Context struct {
	// Inputs — входные параметры run.
	Inputs map[string]any `json:"inputs"`

	// Step — результаты шагов, записанных до текущего.
	Step map[string]StepView `json:"step"`
}

// StepView — видимая шаблонам часть результата шага.
type StepView struct {
	Result any `json:"result"`
}

// BuildContext собирает контекст из входов run и уже записанных результатов.
// Видны только значения output, статусы и ошибки шаблонам недоступны.
func BuildContext(inputs map[string]any, results map[string]*domain.StepResult) *Context {
	ctx := &Context{
		Inputs: make(map[string]any, len(inputs)),
		Step:   make(map[string]StepView, len(results)),
	}
	for k, v := range inputs {
		ctx.Inputs[k] = v
	}
	for id, res := range results {
		if res == nil {
			continue
		}
		ctx.Step[id] = StepView{Result: res.Output}
	}
	return ctx
}

// Outputs возвращает снимок output по ID шагов.
func (c *Context) Outputs() map[string]any {
	out := make(map[string]any, len(c.Step))
	for id, view := range c.Step {
		out[id] = view.Result
	}
	return out
}

func (c *Context) root() map[string]any {
	steps := make(map[string]any, len(c.Step))
	for id, view := range c.Step {
		steps[id] = map[string]any{"result": view.Result}
	}
	return map[string]any{
		"inputs": c.Inputs,
		"step":   steps,
		"steps":  steps,
	}
}

var (
	expressionRe = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)
	wholeExprRe  = regexp.MustCompile(`^\{\{\s*([^{}]*?)\s*\}\}$`)
)

// RenderValue рекурсивно рендерит дерево значений.
//
// Строка, целиком состоящая из одного выражения, заменяется значением
// с сохранением типа. Строка со смешанным текстом рендерится в строку.
// map и slice обходятся рекурсивно, остальные значения возвращаются как есть.
func RenderValue(value any, ctx *Context) any {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case string:
		if m := wholeExprRe.FindStringSubmatch(v); m != nil {
			resolved, _ := ResolvePath(ctx, m[1])
			return resolved
		}
		return RenderString(v, ctx)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			result[key] = RenderValue(val, ctx)
		}
		return result

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			result[i] = RenderValue(val, ctx)
		}
		return result

	case map[string]string:
		result := make(map[string]string, len(v))
		for key, val := range v {
			result[key] = RenderString(val, ctx)
		}
		return result

	case []string:
		result := make([]string, len(v))
		for i, val := range v {
			result[i] = RenderString(val, ctx)
		}
		return result

	default:
		return value
	}
}

// RenderString подставляет строковое представление каждого выражения.
// Отсутствующие значения рендерятся пустой строкой.
func RenderString(tmpl string, ctx *Context) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return expressionRe.ReplaceAllStringFunc(tmpl, func(expr string) string {
		m := expressionRe.FindStringSubmatch(expr)
		resolved, ok := ResolvePath(ctx, m[1])
		if !ok {
			return ""
		}
		return Stringify(resolved)
	})
}

// ResolvePath проходит по сегментам пути, разделённым точкой.
// Возвращает false, если любой сегмент отсутствует.
func ResolvePath(ctx *Context, path string) (any, bool) {
	if ctx == nil {
		return nil, false
	}
	return Lookup(ctx.root(), path)
}

// Lookup проходит по пути от произвольного корня.
// Числовые сегменты индексируют массивы.
func Lookup(root any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}

	current := root
	for _, segment := range strings.Split(path, ".") {
		next, ok := lookup(current, strings.TrimSpace(segment))
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func lookup(value any, key string) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case map[string]any:
		child, ok := v[key]
		return child, ok
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		child := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !child.IsValid() {
			return nil, false
		}
		return child.Interface(), true

	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= rv.Len() {
			return nil, false
		}
		return rv.Index(idx).Interface(), true

	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := strings.Split(field.Tag.Get("json"), ",")[0]
			if name == key || (name == "" && field.Name == key) {
				return rv.Field(i).Interface(), true
			}
		}
	}
	return nil, false
}

// Stringify возвращает строковую форму значения для вставки в текст.
// Объекты и массивы сериализуются в JSON.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case fmt.Stringer:
		return v.String()
	}

	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(b)
}

// EvaluateCondition рендерит условие и проверяет его истинность.
//
// Ложными считаются ровно "", "false" и "0" после обрезки пробелов.
// Любой другой текст истинен.
func EvaluateCondition(expr string, ctx *Context) bool {
	switch strings.TrimSpace(RenderString(expr, ctx)) {
	case "", "false", "0":
		return false
	default:
		return true
	}
}
