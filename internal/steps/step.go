package steps

import (
	"context"
	"time"
)

// Step — интерфейс для типов шагов.
//
// Каждый тип шага пайплайна (organize, kaiju, kaiju2table, kaiju2krona,
// krona_plot, aggregate) реализует этот интерфейс поверх Toolkit.
type Step interface {
	// Type возвращает тип шага.
	Type() string

	// Execute выполняет шаг и возвращает результат.
	// Шаги не делают retry: это забота воркера.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request — входные данные для выполнения шага.
type Request struct {
	// StepID — идентификатор узла DAG.
	StepID string

	// Config — отрендеренная конфигурация шага (payload task).
	Config map[string]any

	// Timeout — таймаут выполнения шага. 0 означает без таймаута.
	Timeout time.Duration
}

// Response — результат выполнения шага.
type Response struct {
	// Outputs — запись шага в виде JSON-объекта.
	// Доступна следующим шагам через {{ output "step_id" }}.
	Outputs map[string]any
}

// NewRequest создаёт новый Request.
func NewRequest(stepID string, config map[string]any, timeout time.Duration) *Request {
	if config == nil {
		config = make(map[string]any)
	}
	return &Request{
		StepID:  stepID,
		Config:  config,
		Timeout: timeout,
	}
}

// NewResponse создаёт Response из записи шага.
func NewResponse(record any) (*Response, error) {
	outputs, err := Encode(record)
	if err != nil {
		return nil, err
	}
	return &Response{Outputs: outputs}, nil
}
