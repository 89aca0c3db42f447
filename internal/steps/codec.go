package steps

import (
	"encoding/json"
	"fmt"
)

// Encode переводит запись шага в JSON-объект для outputs и payload.
func Encode(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return m, nil
}

// DecodeField декодирует config[key] в v.
// Отсутствующий ключ или несовместимое значение дают ErrInvalidPayload.
func DecodeField(config map[string]any, key string, v any) error {
	raw, ok := config[key]
	if !ok || raw == nil {
		return fmt.Errorf("%w: missing %q", ErrInvalidPayload, key)
	}

	// Строка после рендеринга шаблона может быть JSON текстом,
	// иначе это обычное строковое значение
	if s, isString := raw.(string); isString && json.Valid([]byte(s)) {
		if err := json.Unmarshal([]byte(s), v); err == nil {
			return nil
		}
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, key, err)
	}

	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, key, err)
	}
	return nil
}

// Decode переводит JSON-объект outputs обратно в запись шага.
func Decode(m map[string]any, v any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
