package orchestrator

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kaushiksamanta/krama/internal/domain"
	"github.com/kaushiksamanta/krama/internal/engine"
)

// RunState — изменяемое состояние одного run в памяти.
//
// Содержит:
//   - Run с картой результатов (каждый ID записывается один раз)
//   - Флаг отмены (только false → true)
//   - Входящие сигналы по ID шага (учитывается первая доставка)
//
// Писать в RunState может только Workflow, которому он принадлежит.
// Чтение (Snapshot, Stats) безопасно из любых горутин.
type RunState struct {
	run *domain.Run
	dag *engine.DAG

	// cancelled закрывается один раз при отмене.
	cancelled  chan struct{}
	cancelOnce sync.Once

	// inbox — канал с буфером 1 на каждый шаг.
	inbox     map[string]chan any
	delivered map[string]bool

	mu sync.RWMutex
}

// NewRunState создаёт RunState для run и его DAG.
func NewRunState(run *domain.Run, dag *engine.DAG) *RunState {
	s := &RunState{
		run:       run,
		dag:       dag,
		cancelled: make(chan struct{}),
		inbox:     make(map[string]chan any, dag.Size()),
		delivered: make(map[string]bool),
	}
	for _, id := range dag.ExecutionOrder() {
		s.inbox[id] = make(chan any, 1)
	}
	return s
}

// RunID возвращает ID run.
func (s *RunState) RunID() uuid.UUID {
	return s.run.ID
}

// Cancel устанавливает флаг отмены. Возвращает true только при первом вызове.
func (s *RunState) Cancel() bool {
	first := false
	s.cancelOnce.Do(func() {
		close(s.cancelled)
		first = true
	})
	return first
}

// IsCancelled проверяет флаг отмены.
func (s *RunState) IsCancelled() bool {
	select {
	case <-s.cancelled:
		return true
	default:
		return false
	}
}

// Cancelled возвращает канал, закрываемый при отмене.
func (s *RunState) Cancelled() <-chan struct{} {
	return s.cancelled
}

// Deliver кладёт payload во входящие шага.
//
// Сигнал можно доставить до того, как шаг начал ожидание: payload
// дождётся его в буфере. Повторные доставки игнорируются, возвращается false.
func (s *RunState) Deliver(stepID string, payload any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.inbox[stepID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	if s.delivered[stepID] {
		return false, nil
	}
	s.delivered[stepID] = true

	select {
	case ch <- payload:
	default:
	}
	return true, nil
}

// Inbox возвращает канал входящих для шага.
func (s *RunState) Inbox(stepID string) <-chan any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inbox[stepID]
}

// Record записывает результат шага. Повторная запись — ошибка.
func (s *RunState) Record(result *domain.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.run.Results[result.StepID]; exists {
		return fmt.Errorf("%w: %s", ErrResultExists, result.StepID)
	}
	s.run.Results[result.StepID] = result
	return nil
}

// Results возвращает копию карты результатов.
func (s *RunState) Results() map[string]*domain.StepResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*domain.StepResult, len(s.run.Results))
	for id, res := range s.run.Results {
		out[id] = res
	}
	return out
}

// Inputs возвращает входы run.
func (s *RunState) Inputs() map[string]any {
	return s.run.Inputs
}

// Status возвращает текущий статус run.
func (s *RunState) Status() domain.RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run.Status
}

// transition меняет статус run под блокировкой.
func (s *RunState) transition(fn func(r *domain.Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.run)
}

// Snapshot возвращает копию run, безопасную для сериализации.
func (s *RunState) Snapshot() *domain.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := *s.run
	cp.Results = make(map[string]*domain.StepResult, len(s.run.Results))
	for id, res := range s.run.Results {
		cp.Results[id] = res
	}
	return &cp
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RunStats{TotalSteps: s.dag.Size()}
	for _, res := range s.run.Results {
		switch res.Status {
		case domain.StepStatusCompleted:
			stats.CompletedSteps++
		case domain.StepStatusFailed:
			stats.FailedSteps++
		case domain.StepStatusSkipped:
			stats.SkippedSteps++
		}
	}
	stats.PendingSteps = stats.TotalSteps - len(s.run.Results)
	return stats
}

// RunStats — статистика выполнения run.
type RunStats struct {
	TotalSteps     int `json:"totalSteps"`
	CompletedSteps int `json:"completedSteps"`
	FailedSteps    int `json:"failedSteps"`
	SkippedSteps   int `json:"skippedSteps"`
	PendingSteps   int `json:"pendingSteps"`
}
