package substrate

import (
	"math"
	"time"

	"github.com/kaushiksamanta/krama/internal/domain"
)

// Значения по умолчанию для трансляции политик шага.
const (
	// DefaultBackoffCeiling — фиксированный потолок задержки между попытками.
	DefaultBackoffCeiling = 5 * time.Minute

	// DefaultTimeout — дедлайн попытки, если шаг его не объявил.
	DefaultTimeout = time.Hour

	defaultInitialInterval    = time.Second
	defaultBackoffCoefficient = 2.0
)

// RetryPolicy — политика повторов в терминах substrate.
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	MaximumAttempts    int
}

// ActivityOptions — параметры вызова обработчика.
type ActivityOptions struct {
	// StartToCloseTimeout — дедлайн одной попытки.
	StartToCloseTimeout time.Duration

	// Retry — политика повторов.
	Retry RetryPolicy
}

// Defaults — настраиваемые значения по умолчанию.
type Defaults struct {
	Timeout        time.Duration
	BackoffCeiling time.Duration
}

func (d Defaults) withFallbacks() Defaults {
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.BackoffCeiling <= 0 {
		d.BackoffCeiling = DefaultBackoffCeiling
	}
	return d
}

// TranslateRetry переводит политику шага в RetryPolicy.
//
// Количество попыток: maximumAttempts, если задан, иначе 1 + count.
// Без политики — одна попытка.
func TranslateRetry(def *domain.RetryDef, ceiling time.Duration) RetryPolicy {
	if ceiling <= 0 {
		ceiling = DefaultBackoffCeiling
	}

	policy := RetryPolicy{
		InitialInterval:    defaultInitialInterval,
		BackoffCoefficient: defaultBackoffCoefficient,
		MaximumInterval:    ceiling,
		MaximumAttempts:    1,
	}
	if def == nil {
		return policy
	}

	if def.MaximumAttempts > 0 {
		policy.MaximumAttempts = def.MaximumAttempts
	} else {
		policy.MaximumAttempts = 1 + def.Count
	}
	if def.InitialInterval > 0 {
		policy.InitialInterval = def.InitialInterval.Std()
	}
	if def.BackoffCoefficient >= 1 {
		policy.BackoffCoefficient = def.BackoffCoefficient
	}
	if def.MaximumInterval > 0 {
		policy.MaximumInterval = def.MaximumInterval.Std()
	}
	return policy
}

// TranslateTimeout возвращает объявленный таймаут или значение по умолчанию.
func TranslateTimeout(declared domain.Duration, fallback time.Duration) time.Duration {
	if declared > 0 {
		return declared.Std()
	}
	if fallback <= 0 {
		return DefaultTimeout
	}
	return fallback
}

// OptionsFor собирает параметры вызова для activity шага.
// handlerRetry используется, если шаг не объявил свою политику.
func OptionsFor(step *domain.StepDef, handlerRetry *domain.RetryDef, defaults Defaults) ActivityOptions {
	defaults = defaults.withFallbacks()

	retry := step.Retry
	if retry == nil {
		retry = handlerRetry
	}
	return ActivityOptions{
		StartToCloseTimeout: TranslateTimeout(step.TimeoutOf(), defaults.Timeout),
		Retry:               TranslateRetry(retry, defaults.BackoffCeiling),
	}
}

// Backoff возвращает задержку после неудачной попытки attempt (с 1):
// InitialInterval * BackoffCoefficient^(attempt-1), не больше MaximumInterval.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.InitialInterval) * math.Pow(p.BackoffCoefficient, float64(attempt-1))
	if p.MaximumInterval > 0 && delay > float64(p.MaximumInterval) {
		return p.MaximumInterval
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
