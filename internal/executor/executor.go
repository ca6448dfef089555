package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaushiksamanta/krama/internal/domain"
	"github.com/kaushiksamanta/krama/internal/engine"
	"github.com/kaushiksamanta/krama/internal/node"
	"github.com/kaushiksamanta/krama/internal/script"
	"github.com/kaushiksamanta/krama/internal/substrate"
	"github.com/kaushiksamanta/krama/internal/telemetry"
)

// ReasonCancelledBeforeSignal — причина пропуска signal шага при отмене.
const ReasonCancelledBeforeSignal = "run cancelled before signal was received"

// Observer получает каждый терминальный результат шага.
type Observer interface {
	ObserveStep(kind domain.StepKind, result *domain.StepResult)
}

// Config — конфигурация Executor.
type Config struct {
	// Workflow — определение workflow.
	Workflow *domain.WorkflowDef

	// DAG — граф шагов, построенный из Workflow.
	DAG *engine.DAG

	// Invoker — исполнитель activity шагов.
	Invoker substrate.Invoker

	// Registry — реестр, из которого берётся retry обработчика по умолчанию.
	// Может быть nil.
	Registry *node.Registry

	// Scripts — исполнитель code шагов.
	Scripts *script.Runner

	// Defaults — таймаут и потолок backoff по умолчанию.
	Defaults substrate.Defaults

	// Observer — получатель результатов (метрики). Может быть nil.
	Observer Observer

	Logger *slog.Logger
}

// Executor применяет политику одного шага: пропуск по зависимостям,
// пропуск по условию, рендеринг входа и вызов по виду шага.
//
// Executor не изменяет общее состояние run: он возвращает результат,
// запись выполняет оркестратор.
type Executor struct {
	cfg    Config
	logger *slog.Logger
}

// New создаёт Executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Scripts == nil {
		cfg.Scripts = script.New(script.Config{Logger: logger})
	}
	return &Executor{cfg: cfg, logger: logger}
}

// Env — данные run, видимые шагу.
type Env struct {
	RunID string

	// Inputs — входы run.
	Inputs map[string]any

	// Results — результаты, записанные до этого шага. Только чтение.
	Results map[string]*domain.StepResult

	// Signals — входящие payload для этого шага.
	Signals <-chan any

	// Cancelled закрывается при отмене run.
	Cancelled <-chan struct{}
}

// Execute выполняет шаг и возвращает его терминальный результат.
// Ошибки шага не возвращаются как error: они становятся failed результатом.
func (e *Executor) Execute(ctx context.Context, stepID string, env Env) *domain.StepResult {
	start := time.Now()
	logger := telemetry.WithStepID(e.logger, stepID)

	n := e.cfg.DAG.GetNode(stepID)
	if n == nil {
		return domain.NewFailed(stepID, string(node.KindExecution),
			fmt.Sprintf("step %q is not part of the workflow", stepID), 1)
	}
	step := n.Step
	kind := step.Kind.Effective()

	result := e.execute(ctx, step, env, logger)
	result.StartedAt = start
	result.FinishedAt = time.Now()

	logger.Info("step finished",
		"kind", string(kind),
		"status", string(result.Status),
		"attempts", result.Attempts,
		"duration", result.Duration(),
	)
	if result.Status != domain.StepStatusCompleted {
		logger.Debug("step not completed", "message", result.Message(), "error_kind", result.ErrorKind)
	}

	if e.cfg.Observer != nil {
		e.cfg.Observer.ObserveStep(kind, result)
	}
	return result
}

func (e *Executor) execute(ctx context.Context, step *domain.StepDef, env Env, logger *slog.Logger) *domain.StepResult {
	// 1. Зависимости
	if reason, blocked := e.dependencyBlock(step.ID, env.Results); blocked {
		return domain.NewSkipped(step.ID, reason)
	}

	// 2. Условие
	tctx := engine.BuildContext(env.Inputs, env.Results)
	if step.Condition != "" && !engine.EvaluateCondition(step.Condition, tctx) {
		return domain.NewSkipped(step.ID, "condition not met: "+step.Condition)
	}

	// 3. Вход
	input := engine.RenderValue(step.Input, tctx)

	// 4. Вызов по виду шага
	switch step.Kind.Effective() {
	case domain.KindSignal:
		return e.awaitSignal(ctx, step, env)
	case domain.KindCode:
		return e.runScript(ctx, step, env, tctx, input)
	case domain.KindActivity:
		return e.invokeActivity(ctx, step, env, tctx, input, logger)
	default:
		return domain.NewFailed(step.ID, string(node.KindValidation),
			fmt.Sprintf("unsupported step kind %q", step.Kind), 1)
	}
}

// dependencyBlock ищет первую зависимость (в порядке выполнения),
// которая упала, пропущена или ещё не имеет результата.
func (e *Executor) dependencyBlock(stepID string, results map[string]*domain.StepResult) (string, bool) {
	for _, dep := range e.cfg.DAG.DependenciesOf(stepID) {
		res, ok := results[dep]
		if !ok {
			return fmt.Sprintf("dependency %q has no result", dep), true
		}
		if res.Status.Blocks() {
			return fmt.Sprintf("dependency %q is %s", dep, res.Status), true
		}
	}
	return "", false
}

func (e *Executor) awaitSignal(ctx context.Context, step *domain.StepDef, env Env) *domain.StepResult {
	timeout := step.TimeoutOf().Std()
	payload, outcome := substrate.Await(ctx, env.Signals, env.Cancelled, timeout)

	switch outcome {
	case substrate.Delivered:
		return domain.NewCompleted(step.ID, payload, 1)
	case substrate.TimedOut:
		return domain.NewFailed(step.ID, string(node.KindTimeout),
			fmt.Sprintf("signal not received within %s", timeout), 1)
	default:
		return domain.NewSkipped(step.ID, ReasonCancelledBeforeSignal)
	}
}

func (e *Executor) runScript(ctx context.Context, step *domain.StepDef, env Env, tctx *engine.Context, input any) *domain.StepResult {
	res, err := e.cfg.Scripts.Run(ctx, &script.Request{
		StepID:  step.ID,
		Script:  step.InlineScript,
		Timeout: step.TimeoutOf().Std(),
		Input:   input,
		Inputs:  tctx.Inputs,
		Steps:   tctx.Outputs(),
	})

	var result *domain.StepResult
	if err != nil {
		result = failure(step.ID, err, 1)
	} else {
		result = domain.NewCompleted(step.ID, res.Value, 1)
	}
	if res != nil {
		result.Logs = res.Logs
	}
	return result
}

func (e *Executor) invokeActivity(ctx context.Context, step *domain.StepDef, env Env, tctx *engine.Context, input any, logger *slog.Logger) *domain.StepResult {
	var handlerRetry *domain.RetryDef
	if e.cfg.Registry != nil {
		if reg, err := e.cfg.Registry.Resolve(step.HandlerName, step.HandlerVersion); err == nil {
			handlerRetry = reg.Handler.Meta().Retry
		}
	}
	opts := substrate.OptionsFor(step, handlerRetry, e.cfg.Defaults)

	logger.Debug("invoking activity",
		"handler", step.HandlerName,
		"max_attempts", opts.Retry.MaximumAttempts,
		"timeout", opts.StartToCloseTimeout,
	)

	res, err := e.cfg.Invoker.Invoke(ctx, &substrate.Request{
		Handler: step.HandlerName,
		Version: step.HandlerVersion,
		Input:   input,
		Node: &node.Context{
			WorkflowID:   e.cfg.Workflow.ID,
			WorkflowName: e.cfg.Workflow.Name,
			RunID:        env.RunID,
			StepID:       step.ID,
			Attempt:      1,
			Inputs:       tctx.Inputs,
			Steps:        tctx.Outputs(),
		},
		Options: opts,
	})

	attempts := 1
	if res != nil && res.Attempts > 0 {
		attempts = res.Attempts
	}

	var result *domain.StepResult
	if err != nil {
		result = failure(step.ID, err, attempts)
	} else {
		result = domain.NewCompleted(step.ID, res.Output, attempts)
	}
	if res != nil {
		result.Logs = res.Logs
	}
	return result
}

func failure(stepID string, err error, attempts int) *domain.StepResult {
	kind := node.KindOf(err)
	if kind == "" {
		kind = node.KindExecution
	}
	return domain.NewFailed(stepID, string(kind), err.Error(), attempts)
}
