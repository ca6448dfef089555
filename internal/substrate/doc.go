// Package substrate описывает исполнителя обработчиков и трансляцию
// политик шага (retry, timeout) в его параметры.
//
// Invoker — граница с внешним исполнителем. Local выполняет
// обработчики из node.Registry в текущем процессе с дедлайном на
// попытку и экспоненциальной задержкой между попытками.
//
// Await — примитив ожидания сигнала, ограниченный по времени.
package substrate
