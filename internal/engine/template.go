package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// Context — контекст для рендеринга конфигураций шагов.
//
// Доступ из шаблонов:
//   - {{ .Inputs.taxon_rank }}
//   - {{ .Steps.organize.Outputs.inputs }}
//   - {{ output "taxonomy.s0.classify" }} (для ID с точками)
type Context struct {
	// Inputs — параметры run в виде JSON-объекта.
	Inputs map[string]any `json:"inputs"`

	// Steps — результаты выполненных шагов по полному ID узла.
	Steps map[string]*StepContext `json:"steps"`
}

// StepContext — результат выполнения шага для использования в шаблонах.
type StepContext struct {
	// Outputs — выходные данные шага.
	Outputs map[string]any `json:"outputs"`

	// Status — статус выполнения: "SUCCEEDED", "FAILED".
	Status string `json:"status"`
}

// NewContext создаёт новый контекст с входными параметрами.
func NewContext(inputs map[string]any) *Context {
	if inputs == nil {
		inputs = make(map[string]any)
	}
	return &Context{
		Inputs: inputs,
		Steps:  make(map[string]*StepContext),
	}
}

// AddStepResult добавляет результат выполнения шага в контекст.
func (c *Context) AddStepResult(stepID string, outputs map[string]any, status string) {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	c.Steps[stepID] = &StepContext{
		Outputs: outputs,
		Status:  status,
	}
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	},

	// default — возвращает значение по умолчанию, если первый аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// join — объединяет слайс строк
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},

	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
}

// Render рендерит строковый шаблон с контекстом.
//
// Помимо templateFuncs доступна функция output, возвращающая outputs
// завершённого шага по полному ID. Ссылка на шаг, которого нет
// в контексте, является ошибкой.
func Render(tmpl string, ctx *Context) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").
		Funcs(templateFuncs).
		Funcs(template.FuncMap{"output": outputFunc(ctx)}).
		Option("missingkey=error").
		Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

func outputFunc(ctx *Context) func(stepID string) (map[string]any, error) {
	return func(stepID string) (map[string]any, error) {
		sc, ok := ctx.Steps[stepID]
		if !ok {
			return nil, fmt.Errorf("step %q has no outputs yet", stepID)
		}
		return sc.Outputs, nil
	}
}

// RenderValue рендерит произвольное значение.
// Рекурсивно обрабатывает map и slice.
//
// Если шаблон отрендерился в JSON объект или массив, результат
// декодируется: так типизированные записи передаются между шагами
// без потери структуры.
func RenderValue(value any, ctx *Context) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return v, nil
		}
		out, err := Render(v, ctx)
		if err != nil {
			return nil, err
		}
		return decodeStructured(out), nil

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		return value, nil
	}
}

// decodeStructured декодирует JSON объект или массив, остальное
// возвращает строкой.
func decodeStructured(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return s
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return s
	}
	return decoded
}

// RenderConfig рендерит конфигурацию шага.
// Это обёртка над RenderValue для map[string]any.
func RenderConfig(config map[string]any, ctx *Context) (map[string]any, error) {
	if config == nil {
		return make(map[string]any), nil
	}

	rendered, err := RenderValue(config, ctx)
	if err != nil {
		return nil, err
	}

	result, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected map, got %T", ErrTemplateRender, rendered)
	}

	return result, nil
}
