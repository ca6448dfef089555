// Package handlers содержит встроенные обработчики шагов.
//
// Каждый обработчик реализует node.Handler:
//   - http.go      — http-call: HTTP запрос
//   - delay.go     — delay: пауза с поддержкой отмены
//   - transform.go — data-transform: выборка значений по путям
//   - validate.go  — data-validate: проверка обязательных полей
//   - audit.go     — audit-log: запись события аудита
//
// Default собирает реестр при старте процесса:
//
//	registry, err := handlers.Default(logger)
//	if err != nil {
//	    // дубликат или некорректные метаданные — процесс не стартует
//	}
package handlers
