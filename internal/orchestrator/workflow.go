package orchestrator

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kaushiksamanta/krama/internal/domain"
	"github.com/kaushiksamanta/krama/internal/engine"
	"github.com/kaushiksamanta/krama/internal/executor"
	"github.com/kaushiksamanta/krama/internal/node"
	"github.com/kaushiksamanta/krama/internal/repo"
	"github.com/kaushiksamanta/krama/internal/script"
	"github.com/kaushiksamanta/krama/internal/substrate"
	"github.com/kaushiksamanta/krama/internal/telemetry"
)

// Journal — хранилище runs и результатов шагов.
type Journal interface {
	SaveRun(ctx context.Context, run *domain.Run) error
	SaveResult(ctx context.Context, runID uuid.UUID, result *domain.StepResult) error
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
}

// EventPublisher — получатель событий о завершении шагов и runs.
type EventPublisher interface {
	PublishStepFinished(ctx context.Context, runID uuid.UUID, result *domain.StepResult) error
	PublishRunFinished(ctx context.Context, run *domain.Run) error
}

// Observer — получатель метрик.
type Observer interface {
	executor.Observer
	ObserveRunStarted()
	ObserveRunFinished(run *domain.Run)
}

// WorkflowConfig — конфигурация Workflow.
type WorkflowConfig struct {
	// Definition — определение workflow. Обязательно.
	Definition *domain.WorkflowDef

	// DAG — готовый граф. Если nil, строится из Definition с валидацией.
	DAG *engine.DAG

	// Inputs — входные параметры run.
	Inputs map[string]any

	// Invoker — исполнитель activity шагов. Обязательно.
	Invoker substrate.Invoker

	// Registry — реестр handlers для retry по умолчанию. Может быть nil.
	Registry *node.Registry

	// Scripts — исполнитель code шагов. Если nil, создаётся с настройками по умолчанию.
	Scripts *script.Runner

	Defaults substrate.Defaults

	// Journal, Events и Observer необязательны.
	Journal  Journal
	Events   EventPublisher
	Observer Observer

	Logger *slog.Logger
}

// Workflow — один run одного workflow.
//
// Цикл строго последовательный: шаги выполняются по одному в порядке
// DAG, результат записывается до перехода к следующему шагу.
type Workflow struct {
	def      *domain.WorkflowDef
	dag      *engine.DAG
	state    *RunState
	exec     *executor.Executor
	journal  Journal
	events   EventPublisher
	observer Observer
	logger   *slog.Logger

	started atomic.Bool
	done    chan struct{}
}

// NewWorkflow создаёт run в статусе NOT_STARTED.
// Ошибки графа (дубликаты, неизвестные зависимости, циклы) возвращаются здесь,
// до выполнения любого шага.
func NewWorkflow(cfg WorkflowConfig) (*Workflow, error) {
	dag := cfg.DAG
	if dag == nil {
		if err := engine.Validate(cfg.Definition); err != nil {
			return nil, err
		}
		built, err := engine.BuildDAG(cfg.Definition.Steps)
		if err != nil {
			return nil, err
		}
		dag = built
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	run := domain.NewRun(cfg.Definition, cfg.Inputs)
	logger = telemetry.WithRunID(telemetry.WithWorkflowID(logger, run.WorkflowID), run.ID.String())

	var obs executor.Observer
	if cfg.Observer != nil {
		obs = cfg.Observer
	}

	w := &Workflow{
		def:      cfg.Definition,
		dag:      dag,
		state:    NewRunState(run, dag),
		journal:  cfg.Journal,
		events:   cfg.Events,
		observer: cfg.Observer,
		logger:   logger,
		done:     make(chan struct{}),
	}
	w.exec = executor.New(executor.Config{
		Workflow: cfg.Definition,
		DAG:      dag,
		Invoker:  cfg.Invoker,
		Registry: cfg.Registry,
		Scripts:  cfg.Scripts,
		Defaults: cfg.Defaults,
		Observer: obs,
		Logger:   logger,
	})
	return w, nil
}

// ID возвращает ID run.
func (w *Workflow) ID() uuid.UUID {
	return w.state.RunID()
}

// Start выполняет run до конца или до отмены и возвращает карту результатов.
//
// Отмена проверяется перед каждым шагом: начатый шаг доводится до
// терминального результата, оставшиеся шаги результата не получают.
// Отмена ctx действует так же, как Cancel.
func (w *Workflow) Start(ctx context.Context) (map[string]*domain.StepResult, error) {
	if !w.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	defer close(w.done)

	stop := context.AfterFunc(ctx, func() { w.Cancel() })
	defer stop()

	w.state.transition(func(r *domain.Run) { r.MarkRunning() })
	w.logger.Info("run started", "workflow_name", w.def.Name, "steps", w.dag.Size())
	if w.observer != nil {
		w.observer.ObserveRunStarted()
	}
	w.saveRun(ctx)

	// Журнал и события используют ctx без отмены: финальные записи
	// должны пройти и после Cancel через ctx.
	persistCtx := context.WithoutCancel(ctx)

	for _, stepID := range w.dag.ExecutionOrder() {
		if w.state.IsCancelled() {
			w.logger.Info("run cancelled, stopping", "next_step", stepID)
			break
		}

		result := w.exec.Execute(ctx, stepID, executor.Env{
			RunID:     w.ID().String(),
			Inputs:    w.state.Inputs(),
			Results:   w.state.Results(),
			Signals:   w.state.Inbox(stepID),
			Cancelled: w.state.Cancelled(),
		})
		if err := w.state.Record(result); err != nil {
			w.logger.Error("failed to record step result", "step_id", stepID, "error", err)
			continue
		}
		w.saveResult(persistCtx, result)
	}

	if w.state.IsCancelled() {
		w.state.transition(func(r *domain.Run) { r.MarkCancelled() })
	} else {
		w.state.transition(func(r *domain.Run) { r.MarkCompleted() })
	}

	snapshot := w.state.Snapshot()
	counts := snapshot.Counts()
	w.logger.Info("run finished",
		"status", string(snapshot.Status),
		"duration", snapshot.Duration(),
		"completed", counts[domain.StepStatusCompleted],
		"failed", counts[domain.StepStatusFailed],
		"skipped", counts[domain.StepStatusSkipped],
	)

	w.saveRun(persistCtx)
	if w.events != nil {
		if err := w.events.PublishRunFinished(persistCtx, snapshot); err != nil {
			w.logger.Warn("failed to publish run finished", "error", err)
		}
	}
	if w.observer != nil {
		w.observer.ObserveRunFinished(snapshot)
	}

	return snapshot.Results, nil
}

// Cancel устанавливает флаг отмены. Повторные вызовы ничего не делают.
func (w *Workflow) Cancel() {
	if w.state.Cancel() {
		w.logger.Info("run cancellation requested")
	}
}

// Deliver доставляет сигнал шагу stepID.
// Учитывается только первая доставка на шаг, повторные игнорируются.
func (w *Workflow) Deliver(stepID string, payload any) error {
	accepted, err := w.state.Deliver(stepID, payload)
	if err != nil {
		return err
	}
	if !accepted {
		w.logger.Debug("duplicate signal ignored", "step_id", stepID)
		return nil
	}
	w.logger.Info("signal delivered", "step_id", stepID)
	return nil
}

// Status возвращает текущий статус run.
func (w *Workflow) Status() domain.RunStatus {
	return w.state.Status()
}

// Snapshot возвращает копию текущего состояния run.
func (w *Workflow) Snapshot() *domain.Run {
	return w.state.Snapshot()
}

// Stats возвращает статистику run.
func (w *Workflow) Stats() RunStats {
	return w.state.Stats()
}

// Done закрывается после завершения Start.
func (w *Workflow) Done() <-chan struct{} {
	return w.done
}

func (w *Workflow) saveRun(ctx context.Context) {
	if w.journal == nil {
		return
	}
	if err := w.journal.SaveRun(ctx, w.state.Snapshot()); err != nil {
		w.logger.Warn("failed to save run", "error", err)
	}
}

func (w *Workflow) saveResult(ctx context.Context, result *domain.StepResult) {
	if w.journal != nil {
		if err := w.journal.SaveResult(ctx, w.ID(), result); err != nil {
			w.logger.Warn("failed to save step result", "step_id", result.StepID, "error", err)
		}
	}
	if w.events != nil {
		if err := w.events.PublishStepFinished(ctx, w.ID(), result); err != nil {
			w.logger.Warn("failed to publish step finished", "step_id", result.StepID, "error", err)
		}
	}
}
