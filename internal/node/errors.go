package node

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
)

// Ошибки реестра.
var (
	// ErrHandlerNotFound — обработчик не зарегистрирован.
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrDuplicateHandler — пара {name, major} уже зарегистрирована.
	ErrDuplicateHandler = errors.New("handler already registered")

	// ErrInvalidHandlerName — имя не в формате lowercase-hyphenated.
	ErrInvalidHandlerName = errors.New("invalid handler name")

	// ErrInvalidVersion — версия не является semver.
	ErrInvalidVersion = errors.New("invalid handler version")

	// ErrInvalidSchema — входная схема не компилируется.
	ErrInvalidSchema = errors.New("invalid input schema")
)

// Kind — вид ошибки обработчика.
type Kind string

const (
	KindValidation Kind = "ValidationError"
	KindExecution  Kind = "ExecutionError"
	KindTimeout    Kind = "TimeoutError"
	KindNetwork    Kind = "NetworkError"
	KindPermission Kind = "PermissionError"
)

// Retryable возвращает false для ошибок, которые повтор не исправит.
func (k Kind) Retryable() bool {
	switch k {
	case KindValidation, KindPermission:
		return false
	default:
		return true
	}
}

// Violation — нарушение схемы в конкретном поле.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error — нормализованная ошибка обработчика.
type Error struct {
	Kind       Kind
	Handler    string
	Message    string
	Violations []Violation
	Err        error
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	msg := e.Message
	if len(e.Violations) > 0 {
		parts := make([]string, len(e.Violations))
		for i, v := range e.Violations {
			parts[i] = v.Field + ": " + v.Message
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	if e.Handler != "" {
		return e.Handler + ": " + msg
	}
	return msg
}

// Unwrap возвращает базовую ошибку.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError создаёт ошибку заданного вида.
// Обработчики используют её, чтобы явно указать вид ошибки.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap создаёт ошибку заданного вида поверх err.
func Wrap(kind Kind, err error, message string) *Error {
	if message == "" {
		message = err.Error()
	} else {
		message = message + ": " + err.Error()
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Normalize приводит произвольную ошибку к *Error.
//
// Порядок проверок: уже нормализованная ошибка, истечение дедлайна,
// отказ в доступе, сетевые ошибки, всё остальное — ExecutionError.
func Normalize(handler string, err error) *Error {
	if err == nil {
		return nil
	}

	var nErr *Error
	if errors.As(err, &nErr) {
		cp := *nErr
		if cp.Handler == "" {
			cp.Handler = handler
		}
		return &cp
	}

	kind := KindExecution
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, fs.ErrPermission):
		kind = KindPermission
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			kind = KindTimeout
		} else {
			kind = KindNetwork
		}
	}

	return &Error{Kind: kind, Handler: handler, Message: err.Error(), Err: err}
}

// KindOf возвращает вид ошибки или пустую строку.
func KindOf(err error) Kind {
	var nErr *Error
	if errors.As(err, &nErr) {
		return nErr.Kind
	}
	return ""
}
