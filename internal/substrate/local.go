package substrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaushiksamanta/krama/internal/node"
)

// Local — исполнитель обработчиков в текущем процессе.
//
// Каждая попытка получает свой дедлайн StartToCloseTimeout. Между
// попытками выдерживается экспоненциальная задержка. ValidationError и
// PermissionError не повторяются.
type Local struct {
	registry *node.Registry
	logger   *slog.Logger

	// wait — ожидание между попытками, подменяется в тестах.
	wait func(ctx context.Context, d time.Duration) error
}

// NewLocal создаёт локальный исполнитель поверх реестра.
func NewLocal(registry *node.Registry, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		registry: registry,
		logger:   logger,
		wait:     sleepContext,
	}
}

// Invoke реализует Invoker.
func (l *Local) Invoke(ctx context.Context, req *Request) (*Result, error) {
	result := &Result{Attempts: 1}
	start := time.Now()
	defer func() { result.Elapsed = time.Since(start) }()

	reg, err := l.registry.Resolve(req.Handler, req.Version)
	if err != nil {
		return result, &node.Error{
			Kind:    node.KindExecution,
			Handler: req.Handler,
			Message: err.Error(),
			Err:     err,
		}
	}

	policy := req.Options.Retry
	maxAttempts := policy.MaximumAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr *node.Error
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		inv, err := l.attempt(ctx, reg, req, attempt)
		if inv != nil {
			result.Logs = append(result.Logs, inv.Logs...)
		}
		if err == nil {
			result.Output = inv.Output
			return result, nil
		}

		lastErr = node.Normalize(reg.Name, err)
		if !lastErr.Kind.Retryable() || attempt >= maxAttempts {
			break
		}

		delay := policy.Backoff(attempt)
		l.logger.Debug("retrying activity",
			"handler", reg.Name,
			"step_id", req.Node.StepID,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr.Message,
		)

		if err := l.wait(ctx, delay); err != nil {
			lastErr = node.Normalize(reg.Name, err)
			break
		}
	}

	return result, lastErr
}

// attempt выполняет одну попытку под дедлайном.
// Обработчик, который игнорирует ctx, не задерживает возврат дольше дедлайна.
func (l *Local) attempt(ctx context.Context, reg *node.Registered, req *Request, attempt int) (*node.Invocation, error) {
	timeout := req.Options.StartToCloseTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	nctx := req.Node.Clone()
	nctx.Attempt = attempt

	type outcome struct {
		inv *node.Invocation
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		inv, err := node.Invoke(attemptCtx, reg, req.Input, nctx, l.logger)
		done <- outcome{inv: inv, err: err}
	}()

	select {
	case out := <-done:
		return out.inv, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &node.Error{
			Kind:    node.KindTimeout,
			Handler: reg.Name,
			Message: fmt.Sprintf("activity timed out after %s", timeout),
			Err:     context.DeadlineExceeded,
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
