// Package cli реализует инструмент командной строки krama.
//
// # Обзор
//
// Большая часть команд работает с сервером через HTTP API. Команда exec
// выполняет workflow прямо в процессе CLI со встроенными handlers.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для krama API. Инкапсулирует запросы, парсинг ответов
// (DataResponse, ListResponse, ErrorResponse) и превращает ответ с ошибкой
// в *APIError.
//
//	client := cli.NewClient("http://localhost:8080")
//	run, err := client.StartRun(cli.StartRunRequest{Document: doc, Wait: true})
//
// ## Controller
//
// Доставка signal и cancel. По умолчанию через API, с флагом --amqp
// команда публикуется в exchange управления RabbitMQ.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) по умолчанию
//   - JSON с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) в stderr.
// Это позволяет использовать pipe: krama run show ID --json | jq .
//
// ## Commands
//
//   - run: list, start, show, cancel, signal
//   - exec: локальное выполнение документа
//   - handlers: список handlers сервера
//
// Каждая группа создаётся фабричной функцией (NewRunCmd и т.д.),
// принимающей clientFn и outputFn. Это замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
