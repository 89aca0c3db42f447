package domain

// FlowSpec — спецификация пайплайна: шаги, зависимости, настройки retry.
//
// Для таксономического пайплайна FlowSpec строится из Params
// (см. engine.BuildTaxonomyFlow) и сохраняется в Run.Spec, чтобы
// orchestrator мог восстановить DAG без повторного планирования.
type FlowSpec struct {
	// Version — версия формата спецификации.
	Version string `json:"version,omitempty"`

	// Name — имя пайплайна (например, "kaiju_wf").
	Name string `json:"name,omitempty"`

	// Description — описание назначения пайплайна.
	Description string `json:"description,omitempty"`

	// Inputs — описание параметров пайплайна (для отображения пользователю).
	Inputs map[string]InputDef `json:"inputs,omitempty"`

	// Defaults — настройки по умолчанию для всех шагов.
	Defaults *StepDefaults `json:"defaults,omitempty"`

	// Steps — список шагов для выполнения.
	Steps []StepDef `json:"steps"`
}

// InputDef — определение входного параметра.
type InputDef struct {
	// Type — тип параметра: "string", "file", "samples", "enum".
	Type string `json:"type"`

	// DisplayName — имя параметра в интерфейсе запуска.
	DisplayName string `json:"display_name,omitempty"`

	// Required — обязательный ли параметр.
	Required bool `json:"required,omitempty"`

	// Default — значение по умолчанию.
	Default any `json:"default,omitempty"`

	// Enum — допустимые значения (для Type="enum").
	Enum []string `json:"enum,omitempty"`

	// Description — описание параметра.
	Description string `json:"description,omitempty"`
}

// StepDefaults — настройки по умолчанию для шагов.
type StepDefaults struct {
	Retry      *RetryPolicy `json:"retry,omitempty"`
	TimeoutSec int          `json:"timeout_sec,omitempty"`
}

// StepDef — определение шага в пайплайне.
type StepDef struct {
	// ID — уникальный идентификатор шага в рамках пайплайна (или ветки).
	// Используется в depends_on и для ссылок на результаты.
	ID string `json:"id"`

	// Name — человекочитаемое имя шага.
	Name string `json:"name,omitempty"`

	// Type — тип шага: "organize", "kaiju", "kaiju2table", "kaiju2krona",
	// "krona_plot", "aggregate" или "map".
	Type string `json:"type"`

	// DependsOn — список ID шагов, от которых зависит этот шаг.
	// Внутри ветки map ID локальны для ветки.
	DependsOn []string `json:"depends_on,omitempty"`

	// Config — конфигурация шага. Строковые значения могут содержать
	// Go templates со ссылками на outputs предыдущих шагов.
	Config map[string]any `json:"config,omitempty"`

	// Retry — политика повторных попыток для этого шага.
	Retry *RetryPolicy `json:"retry,omitempty"`

	// TimeoutSec — таймаут для этого шага.
	TimeoutSec int `json:"timeout_sec,omitempty"`

	// Branches — независимые подграфы (только для type="map").
	// Одна ветка на образец.
	Branches []Branch `json:"branches,omitempty"`
}

// RetryPolicy — политика повторных попыток.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Backoff — стратегия задержки: "fixed", "exponential".
	Backoff string `json:"backoff,omitempty"`

	// InitialDelayMs — начальная задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty"`
}

// Branch — ветка map-шага: подграф для одного образца.
type Branch struct {
	// ID — идентификатор ветки ("s0", "s1", ...).
	ID string `json:"id"`

	// Sample — имя образца, которому принадлежит ветка.
	Sample string `json:"sample,omitempty"`

	// Steps — шаги внутри ветки.
	Steps []StepDef `json:"steps"`
}
