package orchestrator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/engine"
	"github.com/shaiso/megs/internal/steps"
)

// RunState — состояние выполнения одного run в памяти.
//
// RunState создаётся когда Orchestrator начинает обработку run
// и удаляется когда run завершается (SUCCEEDED/FAILED/CANCELLED).
//
// Содержит:
//   - Run из БД вместе со спланированным графом (Run.Spec)
//   - Построенный DAG
//   - Контекст для шаблонов (с outputs завершённых шагов)
//   - Отслеживание статуса каждого узла
type RunState struct {
	// Run — данные run из БД.
	Run *domain.Run

	// DAG — граф зависимостей шагов.
	DAG *engine.DAG

	// Context — контекст для рендеринга payload.
	// Содержит параметры run и outputs завершённых шагов.
	Context *engine.Context

	// completed — завершённые узлы, включая виртуальные (nodeID → true).
	completed map[string]bool

	// running — шаги в процессе выполнения (nodeID → true).
	running map[string]bool

	// failed — упавшие шаги (nodeID → error).
	failed map[string]string

	// tasks — созданные tasks (nodeID → Task).
	tasks map[string]*domain.Task

	mu sync.RWMutex
}

// NewRunState создаёт новый RunState.
func NewRunState(run *domain.Run) *RunState {
	return &RunState{
		Run:       run,
		completed: make(map[string]bool),
		running:   make(map[string]bool),
		failed:    make(map[string]string),
		tasks:     make(map[string]*domain.Task),
	}
}

// Initialize валидирует Run.Spec, строит DAG и создаёт Context.
func (s *RunState) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec := &s.Run.Spec

	if err := engine.Validate(spec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFlowSpec, err)
	}

	dag, err := engine.BuildDAG(spec)
	if err != nil {
		return fmt.Errorf("build DAG: %w", err)
	}
	s.DAG = dag

	inputs, err := steps.Encode(s.Run.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	s.Context = engine.NewContext(inputs)

	return nil
}

// GetReadySteps возвращает шаги, готовые к выполнению.
// Виртуальные fork и join узлы закрываются здесь же.
func (s *RunState) GetReadySteps() []*engine.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Пока есть упавший шаг, новые не запускаются
	if len(s.failed) > 0 {
		return nil
	}
	return s.DAG.GetReadyNodes(s.completed, s.running)
}

// MarkStepRunning помечает шаг как выполняющийся.
func (s *RunState) MarkStepRunning(stepID string, task *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running[stepID] = true
	s.tasks[stepID] = task
}

// MarkStepCompleted помечает шаг как успешно завершённый.
// Добавляет outputs в Context для использования в следующих шагах.
func (s *RunState) MarkStepCompleted(stepID string, outputs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, stepID)
	s.completed[stepID] = true
	s.Context.AddStepResult(stepID, outputs, string(domain.TaskStatusSucceeded))
}

// MarkStepFailed помечает шаг как упавший.
func (s *RunState) MarkStepFailed(stepID string, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, stepID)
	s.failed[stepID] = errMsg
	s.Context.AddStepResult(stepID, nil, string(domain.TaskStatusFailed))
}

// IsStepRunning проверяет, выполняется ли шаг.
func (s *RunState) IsStepRunning(stepID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running[stepID]
}

// IsStepCompleted проверяет, завершён ли шаг.
func (s *RunState) IsStepCompleted(stepID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed[stepID]
}

// GetTask возвращает task для шага.
func (s *RunState) GetTask(stepID string) *domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[stepID]
}

// IsComplete проверяет, все ли исполняемые шаги завершены успешно.
func (s *RunState) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, node := range s.DAG.GetExecutableNodes() {
		if !s.completed[node.ID] {
			return false
		}
	}
	return true
}

// HasFailed проверяет, есть ли упавшие шаги.
func (s *RunState) HasFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.failed) > 0
}

// GetFailedSteps возвращает отсортированный список упавших шагов.
func (s *RunState) GetFailedSteps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.failed))
	for stepID := range s.failed {
		ids = append(ids, stepID)
	}
	sort.Strings(ids)
	return ids
}

// FailureMessage описывает упавшие шаги и их ошибки.
func (s *RunState) FailureMessage() string {
	ids := s.GetFailedSteps()

	s.mu.RLock()
	defer s.mu.RUnlock()

	msg := fmt.Sprintf("steps failed: %v", ids)
	if len(ids) > 0 && s.failed[ids[0]] != "" {
		msg += ": " + s.failed[ids[0]]
	}
	return msg
}

// Result собирает итоговый Result из outputs шага aggregate.
func (s *RunState) Result() (*domain.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	step, ok := s.Context.Steps[engine.StepAggregate]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, engine.StepAggregate)
	}

	var result domain.Result
	if err := steps.Decode(step.Outputs, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}

// RunID возвращает ID run.
func (s *RunState) RunID() uuid.UUID {
	return s.Run.ID
}

// Stats возвращает статистику выполнения по исполняемым шагам.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := s.DAG.GetExecutableNodes()
	stats := RunStats{TotalSteps: len(nodes)}
	for _, node := range nodes {
		switch {
		case s.completed[node.ID]:
			stats.CompletedSteps++
		case s.running[node.ID]:
			stats.RunningSteps++
		case hasKey(s.failed, node.ID):
			stats.FailedSteps++
		default:
			stats.PendingSteps++
		}
	}
	return stats
}

func hasKey(m map[string]string, k string) bool {
	_, ok := m[k]
	return ok
}

// RunStats — статистика выполнения run.
type RunStats struct {
	TotalSteps     int
	CompletedSteps int
	RunningSteps   int
	FailedSteps    int
	PendingSteps   int
}

// RestoreFromTasks восстанавливает состояние из списка tasks (после рестарта).
func (s *RunState) RestoreFromTasks(tasks []domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range tasks {
		task := &tasks[i]
		s.tasks[task.StepID] = task

		switch task.Status {
		case domain.TaskStatusSucceeded:
			s.completed[task.StepID] = true
			s.Context.AddStepResult(task.StepID, task.Outputs, string(domain.TaskStatusSucceeded))

		case domain.TaskStatusFailed:
			s.failed[task.StepID] = task.Error
			s.Context.AddStepResult(task.StepID, nil, string(domain.TaskStatusFailed))

		case domain.TaskStatusRunning, domain.TaskStatusQueued:
			// Task уже создан — воркер его выполнит
			s.running[task.StepID] = true
		}
	}

	// Закрываем виртуальные узлы, зависимости которых уже выполнены
	if len(s.failed) == 0 {
		s.DAG.GetReadyNodes(s.completed, s.running)
	}
}
