// Package orchestrator ведёт runs.
//
// Workflow — один run: проходит порядок выполнения DAG по одному шагу,
// проверяя отмену перед каждым шагом, и записывает каждый результат
// ровно один раз. Сигналы и отмена принимаются в любой момент.
//
// Runtime держит активные runs по ID и отвечает на запросы API, CLI
// и управляющие сообщения RabbitMQ.
//
// Ошибки шагов не прерывают цикл: они становятся failed результатом,
// а зависимые шаги пропускаются. Ранний выход возможен только по отмене.
package orchestrator
