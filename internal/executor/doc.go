// Package executor выполняет один шаг workflow.
//
// Порядок для каждого шага:
//  1. пропуск, если любая (также транзитивная) зависимость упала или пропущена;
//  2. пропуск, если условие ложно ("", "false", "0");
//  3. рендеринг входа по текущему контексту шаблонов;
//  4. вызов по виду: signal ждёт payload или отмену, code идёт в
//     script.Runner, activity — в substrate.Invoker.
//
// Любая ошибка на шаге 4 становится failed результатом.
package executor
