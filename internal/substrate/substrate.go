package substrate

import (
	"context"
	"time"

	"github.com/kaushiksamanta/krama/internal/domain"
	"github.com/kaushiksamanta/krama/internal/node"
)

// Request — запрос на вызов обработчика.
type Request struct {
	// Handler — имя обработчика.
	Handler string

	// Version — major-версия, 0 — наибольшая.
	Version int

	// Input — отрендеренный вход.
	Input any

	// Node — контекст вызова без логгера.
	Node *node.Context

	// Options — таймаут и retry.
	Options ActivityOptions
}

// Result — итог вызова после всех попыток.
// Возвращается и вместе с ошибкой: Attempts и Logs нужны для результата шага.
type Result struct {
	Output   any
	Attempts int
	Logs     []domain.LogEntry
	Elapsed  time.Duration
}

// Invoker — внешний исполнитель обработчиков.
//
// Возвращает итоговый результат или терминальную ошибку (*node.Error)
// после исчерпания попыток.
type Invoker interface {
	Invoke(ctx context.Context, req *Request) (*Result, error)
}

// Outcome — исход ожидания сигнала.
type Outcome int

const (
	// Delivered — payload получен.
	Delivered Outcome = iota

	// Cancelled — отмена сработала раньше payload.
	Cancelled

	// TimedOut — истёк лимит ожидания.
	TimedOut
)

// Await приостанавливает вызывающего до прихода payload, отмены или
// истечения timeout. timeout <= 0 означает ожидание без ограничения.
// Если payload и отмена готовы одновременно, побеждает payload.
func Await(ctx context.Context, payloads <-chan any, cancelled <-chan struct{}, timeout time.Duration) (any, Outcome) {
	// Уже доставленный payload имеет приоритет
	select {
	case p := <-payloads:
		return p, Delivered
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case p := <-payloads:
		return p, Delivered
	case <-cancelled:
		return nil, Cancelled
	case <-ctx.Done():
		return nil, Cancelled
	case <-expired:
		return nil, TimedOut
	}
}
