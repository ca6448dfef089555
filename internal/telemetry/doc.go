// Package telemetry обеспечивает наблюдаемость.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики runs и шагов
//
// Сервер экспортирует метрики на /metrics.
package telemetry
