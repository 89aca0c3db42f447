package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/steps"
)

// Executor — интерфейс для выполнения конкретного типа шага.
//
// task.Payload содержит отрендеренную конфигурацию шага.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task, timeout time.Duration) (*ExecutionResult, error)
}

// ExecutionResult — результат выполнения task.
type ExecutionResult struct {
	// Outputs — выходная запись шага.
	Outputs map[string]any

	// Error — сообщение об ошибке (логическая ошибка выполнения:
	// ненулевой код выхода, нет артефакта, битый payload).
	// Инфраструктурные ошибки возвращаются через error в Execute().
	Error string

	// Permanent — повтор не поможет (битый payload).
	Permanent bool
}

// StepExecutor выполняет шаг пайплайна из steps.Registry.
type StepExecutor struct {
	step steps.Step
}

// Execute выполняет шаг с таймаутом из StepDef.TimeoutSec.
func (e *StepExecutor) Execute(ctx context.Context, task *domain.Task, timeout time.Duration) (*ExecutionResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := e.step.Execute(ctx, steps.NewRequest(task.StepID, task.Payload, timeout))
	if err == nil {
		return &ExecutionResult{Outputs: resp.Outputs}, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &ExecutionResult{Error: fmt.Sprintf("%v: %v", ErrExecutionTimeout, err)}, nil
	case errors.Is(err, steps.ErrInvalidPayload):
		return &ExecutionResult{Error: err.Error(), Permanent: true}, nil
	case errors.Is(err, steps.ErrCommandFailed), errors.Is(err, steps.ErrMissingOutput):
		return &ExecutionResult{Error: err.Error()}, nil
	default:
		// Отмена и прочее — инфраструктурные
		return nil, err
	}
}

// Registry — реестр executor'ов по типу шага.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry создаёт реестр с executor'ами для всех шагов steps.Registry.
//
// map обрабатывается оркестратором, воркер получает только leaf-tasks.
func NewRegistry(stepRegistry *steps.Registry) *Registry {
	r := &Registry{executors: make(map[string]Executor)}
	for _, typ := range stepRegistry.Types() {
		step, _ := stepRegistry.Get(typ)
		r.Register(typ, &StepExecutor{step: step})
	}
	return r
}

// Register добавляет executor для типа шага.
func (r *Registry) Register(stepType string, executor Executor) {
	r.executors[stepType] = executor
}

// Get возвращает executor для типа шага.
func (r *Registry) Get(stepType string) (Executor, error) {
	executor, ok := r.executors[stepType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStepType, stepType)
	}
	return executor, nil
}
