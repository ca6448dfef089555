package handlers

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kaushiksamanta/krama/internal/domain"
	"github.com/kaushiksamanta/krama/internal/node"
)

// All возвращает все встроенные обработчики.
func All() []node.Handler {
	return []node.Handler{
		NewHTTPCall(),
		NewDelay(),
		NewDataTransform(),
		NewDataValidate(),
		NewAuditLog(),
	}
}

// Default создаёт реестр со всеми встроенными обработчиками.
// Ошибка регистрации фатальна для старта процесса.
func Default(logger *slog.Logger) (*node.Registry, error) {
	r := node.NewRegistry()
	for _, h := range All() {
		if err := r.Register(h); err != nil {
			return nil, fmt.Errorf("register %s: %w", h.Meta().Name, err)
		}
	}
	if logger != nil {
		logger.Info("handlers registered", "count", r.Count(), "handlers", r.Names())
	}
	return r, nil
}

// defaultRetry — retry по умолчанию для обработчиков сетевых вызовов.
func defaultRetry(attempts int) *domain.RetryDef {
	return &domain.RetryDef{
		MaximumAttempts:    attempts,
		InitialInterval:    domain.Duration(time.Second),
		BackoffCoefficient: 2,
	}
}
