package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaushiksamanta/krama/internal/domain"
)

// Invocation — результат успешного вызова обработчика.
type Invocation struct {
	Output  any
	Logs    []domain.LogEntry
	Elapsed time.Duration
}

// Invoke вызывает обработчик через границу контракта.
//
// Граница:
//  1. создаёт логгер вызова с тегом step_id;
//  2. проверяет вход по схеме (ValidationError с нарушениями по полям);
//  3. вызывает Execute и нормализует любую ошибку, включая panic;
//  4. возвращает output, захваченные логи и время выполнения.
//
// Логи возвращаются и при ошибке: в Invocation, который идёт вместе с ней.
func Invoke(ctx context.Context, reg *Registered, input any, nctx *Context, base *slog.Logger) (inv *Invocation, err error) {
	call := nctx.Clone()
	logger, sink := newCaptureLogger(base, call.StepID)
	call.Logger = logger

	start := time.Now()
	inv = &Invocation{}
	defer func() {
		inv.Logs = sink.snapshot()
		inv.Elapsed = time.Since(start)
	}()

	violations, vErr := reg.schema.validate(input)
	if vErr != nil {
		return inv, Normalize(reg.Name, Wrap(KindValidation, vErr, "input validation failed"))
	}
	if len(violations) > 0 {
		return inv, &Error{
			Kind:       KindValidation,
			Handler:    reg.Name,
			Message:    "input validation failed",
			Violations: violations,
		}
	}

	output, execErr := safeExecute(ctx, reg.Handler, input, call)
	if execErr != nil {
		nErr := Normalize(reg.Name, execErr)
		diagnostic(base).Debug("handler failed",
			"step_id", call.StepID,
			"handler", reg.Name,
			"kind", string(nErr.Kind),
			"error", nErr.Message,
		)
		return inv, nErr
	}

	inv.Output = output
	return inv, nil
}

// diagnostic — логгер самой границы. Его записи не попадают в логи вызова.
func diagnostic(base *slog.Logger) *slog.Logger {
	if base == nil {
		return slog.Default()
	}
	return base
}

func safeExecute(ctx context.Context, h Handler, input any, nctx *Context) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(KindExecution, "panic: %v", r)
		}
	}()
	return h.Execute(ctx, input, nctx)
}

// InvokeHandler — обёртка над Invoke для обработчика вне реестра.
func InvokeHandler(ctx context.Context, h Handler, input any, nctx *Context, base *slog.Logger) (*Invocation, error) {
	reg, err := Bind(h)
	if err != nil {
		return &Invocation{}, fmt.Errorf("bind handler: %w", err)
	}
	return Invoke(ctx, reg, input, nctx, base)
}
