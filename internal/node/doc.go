// Package node описывает контракт обработчика шага и границу его вызова.
//
// # Контракт
//
// Каждый обработчик реализует Handler:
//
//	type Handler interface {
//	    Meta() Meta
//	    Execute(ctx context.Context, input any, nctx *Context) (any, error)
//	}
//
// Meta содержит имя (lowercase-hyphenated), описание, semver версию,
// необязательные схемы входа/выхода и retry по умолчанию.
//
// # Граница вызова
//
// Invoke проверяет вход по JSON Schema, вызывает обработчик с логгером,
// который захватывает записи, и приводит любую ошибку к *Error одного из
// видов: ValidationError, ExecutionError, TimeoutError, NetworkError,
// PermissionError.
//
// # Registry
//
// Обработчики регистрируются по {name, major}:
//
//	reg := node.NewRegistry()
//	if err := reg.Register(handler); err != nil {
//	    // дубликат или некорректные метаданные
//	}
//	h, err := reg.Get("http-call")      // наибольшая major-версия
//	h, err = reg.GetVersion("http-call", 1)
package node
