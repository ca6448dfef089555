package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"

	"github.com/kaushiksamanta/krama/internal/domain"
	"github.com/kaushiksamanta/krama/internal/node"
)

// HandlerName — имя, под которым ошибки скрипта попадают в результат шага.
const HandlerName = "inline-script"

// DefaultTimeout — лимит выполнения скрипта, если шаг его не объявил.
const DefaultTimeout = 30 * time.Second

// allowedGlobals — глобальные объекты, доступные скрипту.
// Всё остальное (eval, Function и т.п.) удаляется из глобальной области.
var allowedGlobals = map[string]bool{
	"Object": true, "Array": true, "String": true, "Number": true, "Boolean": true,
	"Symbol": true, "BigInt": true, "Math": true, "JSON": true, "Date": true,
	"RegExp": true, "Map": true, "Set": true, "WeakMap": true, "WeakSet": true,
	"Promise": true, "Error": true, "TypeError": true, "RangeError": true,
	"SyntaxError": true, "ReferenceError": true, "EvalError": true, "URIError": true,
	"ArrayBuffer": true, "DataView": true, "Uint8Array": true, "Int8Array": true,
	"Uint16Array": true, "Int16Array": true, "Uint32Array": true, "Int32Array": true,
	"Float32Array": true, "Float64Array": true, "Uint8ClampedArray": true,
	"parseInt": true, "parseFloat": true, "isNaN": true, "isFinite": true,
	"encodeURIComponent": true, "decodeURIComponent": true, "encodeURI": true, "decodeURI": true,
	"NaN": true, "Infinity": true, "undefined": true, "globalThis": true,
}

// Config — настройки Runner.
type Config struct {
	// DefaultTimeout — лимит, если запрос его не задал.
	DefaultTimeout time.Duration

	// Logger — логгер runner (не скрипта).
	Logger *slog.Logger
}

// Runner выполняет inline-скрипты в изолированном goja runtime.
//
// Каждый запуск получает новый runtime: состояние между шагами не
// разделяется. Файловой системы, сети и загрузки модулей нет.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// New создаёт Runner.
func New(cfg Config) *Runner {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Request — запрос на выполнение скрипта.
type Request struct {
	StepID  string
	Script  string
	Timeout time.Duration

	// Input — отрендеренный вход шага (binding input).
	Input any

	// Inputs и Steps — снимок входов run и output предыдущих шагов.
	Inputs map[string]any
	Steps  map[string]any
}

// Result — результат выполнения скрипта.
type Result struct {
	Value   any
	Logs    []domain.LogEntry
	Elapsed time.Duration
}

// Run выполняет скрипт.
//
// Тело скрипта оборачивается в async функцию, поэтому в нём доступны
// await и return. Первым из трёх событий побеждает:
//   - истечение лимита: TimeoutError с указанием лимита;
//   - исключение скрипта: сообщение добавляется в логи, ExecutionError;
//   - завершение: значение return.
//
// Цикла событий нет: если после синхронного выполнения promise не завершён
// (await на promise, который никогда не разрешится), Run сразу возвращает
// ExecutionError, не дожидаясь лимита.
//
// Result возвращается и вместе с ошибкой: в нём захваченные логи.
func (r *Runner) Run(ctx context.Context, req *Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}

	result := &Result{}
	console := newConsole()
	start := time.Now()
	defer func() {
		result.Logs = console.entries()
		result.Elapsed = time.Since(start)
	}()

	vm, err := r.newRuntime(req, console)
	if err != nil {
		return result, r.fail(node.KindExecution, "prepare sandbox: %v", err)
	}

	program, err := goja.Compile(req.StepID+".js", wrap(req.Script), true)
	if err != nil {
		console.add("error", err.Error())
		return result, r.fail(node.KindExecution, "compile script: %v", err)
	}

	timer := time.AfterFunc(timeout, func() { vm.Interrupt(errTimeout) })
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	value, err := vm.RunProgram(program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if interrupted.Value() == errTimeout {
				return result, r.fail(node.KindTimeout, "script timed out after %s", timeout)
			}
			return result, r.fail(node.KindExecution, "script interrupted: %v", interrupted.Value())
		}
		msg := exceptionMessage(err)
		console.add("error", msg)
		return result, r.fail(node.KindExecution, "%s", msg)
	}

	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		return result, r.fail(node.KindExecution, "script did not produce a promise")
	}

	switch promise.State() {
	case goja.PromiseStateFulfilled:
		out, err := exportValue(promise.Result())
		if err != nil {
			return result, r.fail(node.KindExecution, "script result: %v", err)
		}
		result.Value = out
		return result, nil

	case goja.PromiseStateRejected:
		msg := rejectionMessage(promise.Result())
		console.add("error", msg)
		return result, r.fail(node.KindExecution, "%s", msg)

	default:
		return result, r.fail(node.KindExecution, "script did not settle: awaited value never resolved")
	}
}

var errTimeout = errors.New("script timeout")

func (r *Runner) fail(kind node.Kind, format string, args ...any) *node.Error {
	e := node.NewError(kind, format, args...)
	e.Handler = HandlerName
	return e
}

func wrap(script string) string {
	return "(async function() {\n" + script + "\n})()"
}

// newRuntime создаёт runtime с урезанной глобальной областью и bindings.
func (r *Runner) newRuntime(req *Request, console *console) (*goja.Runtime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, fmt.Errorf("JSON.parse is not callable")
	}

	// Копия через JSON: скрипт получает обычные JS объекты и не может
	// изменить данные run
	toJS := func(v any) (goja.Value, error) {
		if v == nil {
			return goja.Null(), nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return parse(goja.Undefined(), vm.ToValue(string(data)))
	}

	input, err := toJS(req.Input)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	inputs, err := toJS(orEmpty(req.Inputs))
	if err != nil {
		return nil, fmt.Errorf("inputs: %w", err)
	}
	steps, err := toJS(orEmpty(req.Steps))
	if err != nil {
		return nil, fmt.Errorf("steps: %w", err)
	}

	global := vm.GlobalObject()
	for _, name := range global.GetOwnPropertyNames() {
		if !allowedGlobals[name] {
			if err := global.Delete(name); err != nil {
				return nil, fmt.Errorf("remove global %s: %w", name, err)
			}
		}
	}

	view := vm.NewObject()
	_ = view.Set("inputs", inputs)
	_ = view.Set("steps", steps)

	bindings := map[string]any{
		"input":   input,
		"inputs":  inputs,
		"steps":   steps,
		"context": view,
		"console": console.object(vm),
	}
	for name, value := range bindings {
		if err := vm.Set(name, value); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return vm, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// exportValue переводит значение JS в JSON-совместимое значение Go.
func exportValue(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	exported := v.Export()

	data, err := json.Marshal(exported)
	if err != nil {
		return nil, fmt.Errorf("value is not serializable: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func exceptionMessage(err error) string {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return rejectionMessage(exc.Value())
	}
	return err.Error()
}

func rejectionMessage(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "script rejected without a reason"
	}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	return v.String()
}
