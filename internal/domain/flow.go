package domain

// WorkflowDef — определение workflow, загруженное из документа.
//
// Определение неизменяемо после старта run: исполнитель и оркестратор
// только читают его.
type WorkflowDef struct {
	// ID — идентификатор workflow (например, "order-fulfilment").
	ID string `json:"id" yaml:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description — описание назначения workflow.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Steps — шаги в порядке объявления.
	// Порядок объявления используется для детерминированного разрешения
	// неоднозначностей при топологической сортировке.
	Steps []StepDef `json:"steps" yaml:"steps"`
}

// Step возвращает определение шага по ID или nil.
func (w *WorkflowDef) Step(id string) *StepDef {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// StepKind — вид шага. Закрытое множество: activity, code, signal.
type StepKind string

const (
	// KindActivity — вызов зарегистрированного handler через substrate.
	KindActivity StepKind = "activity"

	// KindCode — inline-скрипт в песочнице.
	KindCode StepKind = "code"

	// KindSignal — ожидание внешнего сигнала.
	KindSignal StepKind = "signal"
)

// Effective возвращает вид шага с учётом значения по умолчанию.
func (k StepKind) Effective() StepKind {
	if k == "" {
		return KindActivity
	}
	return k
}

// Valid возвращает true для известных видов шагов (включая пустой).
func (k StepKind) Valid() bool {
	switch k.Effective() {
	case KindActivity, KindCode, KindSignal:
		return true
	default:
		return false
	}
}

// StepDef — определение шага.
type StepDef struct {
	// ID — уникальный идентификатор шага в рамках workflow.
	// Используется в dependsOn и в шаблонах ({{ step.<id>.result }}).
	ID string `json:"id" yaml:"id"`

	// Name — человекочитаемое имя шага.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Kind — вид шага, по умолчанию activity.
	Kind StepKind `json:"kind,omitempty" yaml:"kind,omitempty"`

	// HandlerName — имя handler для activity шагов.
	HandlerName string `json:"handlerName,omitempty" yaml:"handlerName,omitempty"`

	// HandlerVersion — major-версия handler. 0 означает "самая старшая".
	HandlerVersion int `json:"handlerVersion,omitempty" yaml:"handlerVersion,omitempty"`

	// InlineScript — тело скрипта для code шагов.
	InlineScript string `json:"inlineScript,omitempty" yaml:"inlineScript,omitempty"`

	// DependsOn — ID шагов, которые должны завершиться до этого шага.
	DependsOn []string `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`

	// Input — дерево значений с шаблонами {{ ... }}.
	Input any `json:"input,omitempty" yaml:"input,omitempty"`

	// Condition — шаблон условия. Ложь: "", "false", "0".
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Timeout — ограничение времени вызова.
	Timeout *TimeoutDef `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Retry — политика повторных попыток.
	Retry *RetryDef `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// TimeoutDef — таймауты шага.
type TimeoutDef struct {
	// StartToClose — максимум на одну попытку вызова.
	StartToClose Duration `json:"startToClose,omitempty" yaml:"startToClose,omitempty"`
}

// RetryDef — политика повторных попыток в терминах документа.
type RetryDef struct {
	// Count — количество дополнительных попыток после первой.
	Count int `json:"count,omitempty" yaml:"count,omitempty"`

	// MaximumAttempts — общее количество попыток. Приоритетнее Count.
	MaximumAttempts int `json:"maximumAttempts,omitempty" yaml:"maximumAttempts,omitempty"`

	// InitialInterval — задержка перед первой повторной попыткой.
	InitialInterval Duration `json:"initialInterval,omitempty" yaml:"initialInterval,omitempty"`

	// BackoffCoefficient — множитель задержки.
	BackoffCoefficient float64 `json:"backoffCoefficient,omitempty" yaml:"backoffCoefficient,omitempty"`

	// MaximumInterval — потолок задержки. Пусто — потолок по умолчанию.
	MaximumInterval Duration `json:"maximumInterval,omitempty" yaml:"maximumInterval,omitempty"`
}

// TimeoutOf возвращает объявленный таймаут шага или 0.
func (s *StepDef) TimeoutOf() Duration {
	if s.Timeout == nil {
		return 0
	}
	return s.Timeout.StartToClose
}
