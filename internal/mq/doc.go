// Package mq связывает runtime с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с автоматическим переподключением
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация команд и событий
//   - consumer.go   — потребление команд
//
// Типы сообщений:
//   - run.signal    — payload для signal шага активного run
//   - run.cancel    — отмена активного run
//   - step.finished — терминальный результат шага
//   - run.finished  — итог run
package mq
