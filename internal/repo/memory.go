package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kaushiksamanta/krama/internal/domain"
)

// MemoryJournal — журнал runs в памяти процесса.
// Используется CLI и тестами, когда PostgreSQL не настроен.
type MemoryJournal struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]*domain.Run
	results map[uuid.UUID]map[string]*domain.StepResult
}

// NewMemoryJournal создаёт пустой журнал.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		runs:    make(map[uuid.UUID]*domain.Run),
		results: make(map[uuid.UUID]map[string]*domain.StepResult),
	}
}

// SaveRun создаёт или обновляет run (без результатов).
func (j *MemoryJournal) SaveRun(_ context.Context, run *domain.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	cp := *run
	cp.Results = nil
	j.runs[run.ID] = &cp
	if _, ok := j.results[run.ID]; !ok {
		j.results[run.ID] = make(map[string]*domain.StepResult)
	}
	return nil
}

// SaveResult записывает результат шага один раз.
func (j *MemoryJournal) SaveResult(_ context.Context, runID uuid.UUID, res *domain.StepResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	results, ok := j.results[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if _, exists := results[res.StepID]; exists {
		return fmt.Errorf("step %s: %w", res.StepID, ErrAlreadyExists)
	}
	results[res.StepID] = res
	return nil
}

// GetRun возвращает копию run с результатами.
func (j *MemoryJournal) GetRun(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	run, ok := j.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.copyRun(run), nil
}

// ListRuns возвращает runs без результатов, новые первыми.
func (j *MemoryJournal) ListRuns(_ context.Context, filter RunFilter) ([]domain.Run, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	runs := make([]domain.Run, 0, len(j.runs))
	for _, run := range j.runs {
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		cp := *run
		cp.Results = make(map[string]*domain.StepResult)
		runs = append(runs, cp)
	}

	sort.Slice(runs, func(a, b int) bool {
		return runs[a].CreatedAt.After(runs[b].CreatedAt)
	})

	if filter.Offset >= len(runs) {
		return []domain.Run{}, nil
	}
	runs = runs[filter.Offset:]
	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

func (j *MemoryJournal) copyRun(run *domain.Run) *domain.Run {
	cp := *run
	cp.Results = make(map[string]*domain.StepResult, len(j.results[run.ID]))
	for id, res := range j.results[run.ID] {
		cp.Results[id] = res
	}
	return &cp
}
