// Package engine содержит модель workflow: граф шагов и шаблоны.
//
// Включает:
//   - parser.go   — разбор документа workflow (YAML/JSON) и валидация шагов
//   - dag.go      — построение DAG и детерминированный порядок выполнения
//   - template.go — контекст шаблонов, подстановка {{ path }} и условия
//
// Engine не выполняет шаги: он отвечает за понимание структуры workflow
// и за то, какие данные видит каждый шаг.
package engine
