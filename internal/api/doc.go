// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go     — Handler с зависимостями (runtime, registry, logger)
//   - routes.go      — регистрация маршрутов
//   - middleware.go  — logging, recovery
//   - response.go    — JSON-ответы и преобразование ошибок runtime
//   - dto.go         — Data Transfer Objects
//   - run_handler.go — обработчики /runs и /handlers
//
// API запускает runs, показывает их состояние, принимает сигналы и отмену.
package api
