package api

import (
	"log/slog"

	"github.com/kaushiksamanta/krama/internal/node"
	"github.com/kaushiksamanta/krama/internal/orchestrator"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runtime  *orchestrator.Runtime
	registry *node.Registry
	logger   *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Runtime *orchestrator.Runtime

	// Registry — реестр handlers для GET /api/v1/handlers. Может быть nil.
	Registry *node.Registry

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runtime:  cfg.Runtime,
		registry: cfg.Registry,
		logger:   logger,
	}
}
