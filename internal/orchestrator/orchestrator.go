package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kaushiksamanta/krama/internal/domain"
	"github.com/kaushiksamanta/krama/internal/node"
	"github.com/kaushiksamanta/krama/internal/repo"
	"github.com/kaushiksamanta/krama/internal/script"
	"github.com/kaushiksamanta/krama/internal/substrate"
)

var (
	_ Journal        = (*repo.RunRepo)(nil)
	_ Journal        = (*repo.MemoryJournal)(nil)
	_ EventPublisher = (*mqEvents)(nil)
)

// Runtime управляет множеством runs в одном процессе.
//
// Runtime — точка входа для API, CLI и управляющих сообщений:
//   - Run выполняет workflow синхронно
//   - Launch запускает workflow в фоне и сразу возвращает run
//   - Deliver и Cancel адресуют активный run по ID
//   - Get ищет run среди активных, затем в журнале
type Runtime struct {
	invoker  substrate.Invoker
	registry *node.Registry
	scripts  *script.Runner
	defaults substrate.Defaults
	journal  Journal
	events   EventPublisher
	observer Observer

	// activeRuns — runs в процессе выполнения (runID → workflow)
	activeRuns map[uuid.UUID]*Workflow
	mu         sync.RWMutex

	// Lifecycle
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// Config — конфигурация Runtime.
type Config struct {
	// Invoker выполняет activity шаги. Если nil, используется
	// substrate.Local поверх Registry.
	Invoker substrate.Invoker

	// Registry — реестр handlers. Обязателен, если Invoker не задан.
	Registry *node.Registry

	Scripts  *script.Runner
	Defaults substrate.Defaults

	// Journal — хранилище runs. Если nil, используется repo.MemoryJournal.
	Journal Journal

	Events   EventPublisher
	Observer Observer

	Logger *slog.Logger
}

// New создаёт Runtime.
func New(cfg Config) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	invoker := cfg.Invoker
	if invoker == nil {
		registry := cfg.Registry
		if registry == nil {
			registry = node.NewRegistry()
		}
		invoker = substrate.NewLocal(registry, logger)
	}

	journal := cfg.Journal
	if journal == nil {
		journal = repo.NewMemoryJournal()
	}

	scripts := cfg.Scripts
	if scripts == nil {
		scripts = script.New(script.Config{Logger: logger})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		invoker:    invoker,
		registry:   cfg.Registry,
		scripts:    scripts,
		defaults:   cfg.Defaults,
		journal:    journal,
		events:     cfg.Events,
		observer:   cfg.Observer,
		activeRuns: make(map[uuid.UUID]*Workflow),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Prepare валидирует определение и создаёт run в статусе NOT_STARTED.
func (r *Runtime) Prepare(def *domain.WorkflowDef, inputs map[string]any) (*Workflow, error) {
	return NewWorkflow(WorkflowConfig{
		Definition: def,
		Inputs:     inputs,
		Invoker:    r.invoker,
		Registry:   r.registry,
		Scripts:    r.scripts,
		Defaults:   r.defaults,
		Journal:    r.journal,
		Events:     r.events,
		Observer:   r.observer,
		Logger:     r.logger,
	})
}

// Run выполняет workflow синхронно и возвращает итоговый run.
// Пока run выполняется, он доступен для Deliver и Cancel.
func (r *Runtime) Run(ctx context.Context, def *domain.WorkflowDef, inputs map[string]any) (*domain.Run, error) {
	w, err := r.Prepare(def, inputs)
	if err != nil {
		return nil, err
	}
	if err := r.addActiveRun(w); err != nil {
		return nil, err
	}
	defer r.removeActiveRun(w.ID())

	if _, err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w.Snapshot(), nil
}

// Launch запускает workflow в фоне и возвращает run в момент запуска.
func (r *Runtime) Launch(def *domain.WorkflowDef, inputs map[string]any) (*Workflow, error) {
	w, err := r.Prepare(def, inputs)
	if err != nil {
		return nil, err
	}
	if err := r.addActiveRun(w); err != nil {
		return nil, err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.removeActiveRun(w.ID())

		if _, err := w.Start(r.ctx); err != nil {
			r.logger.Error("run failed to start", "run_id", w.ID(), "error", err)
		}
	}()
	return w, nil
}

// Deliver доставляет сигнал шагу активного run.
func (r *Runtime) Deliver(runID uuid.UUID, stepID string, payload any) error {
	w := r.getActiveRun(runID)
	if w == nil {
		return fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}
	return w.Deliver(stepID, payload)
}

// Cancel отменяет активный run.
func (r *Runtime) Cancel(runID uuid.UUID) error {
	w := r.getActiveRun(runID)
	if w == nil {
		return fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}
	w.Cancel()
	return nil
}

// Get возвращает текущее состояние run.
func (r *Runtime) Get(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	if w := r.getActiveRun(runID); w != nil {
		return w.Snapshot(), nil
	}

	run, err := r.journal.GetRun(ctx, runID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// List возвращает runs из журнала.
func (r *Runtime) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	return r.journal.ListRuns(ctx, filter)
}

// Stats возвращает статистику активного run.
func (r *Runtime) Stats(runID uuid.UUID) (RunStats, bool) {
	w := r.getActiveRun(runID)
	if w == nil {
		return RunStats{}, false
	}
	return w.Stats(), true
}

// Stop отменяет все активные runs и ждёт завершения фоновых горутин
// или отмены ctx.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	active := make([]*Workflow, 0, len(r.activeRuns))
	for _, w := range r.activeRuns {
		active = append(active, w)
	}
	r.mu.Unlock()

	r.logger.Info("stopping runtime", "active_runs", len(active))
	for _, w := range active {
		w.Cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		r.logger.Info("runtime stopped")
		return nil
	case <-ctx.Done():
		// Прерываем уже начатые шаги
		r.cancel()
		return ctx.Err()
	}
}

// ActiveRunsCount возвращает количество активных runs.
func (r *Runtime) ActiveRunsCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activeRuns)
}

func (r *Runtime) getActiveRun(runID uuid.UUID) *Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeRuns[runID]
}

func (r *Runtime) addActiveRun(w *Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrOrchestratorStopped
	}
	if _, exists := r.activeRuns[w.ID()]; exists {
		return ErrRunAlreadyActive
	}
	r.activeRuns[w.ID()] = w
	return nil
}

func (r *Runtime) removeActiveRun(runID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.activeRuns, runID)
}
