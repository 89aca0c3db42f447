package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/engine"
	"github.com/shaiso/megs/internal/mq"
	"github.com/shaiso/megs/internal/repo"
	"github.com/shaiso/megs/internal/telemetry"
)

// handleRunPending обрабатывает событие о новом pending run.
func (o *Orchestrator) handleRunPending(ctx context.Context, delivery *mq.Delivery) error {
	logger := telemetry.FromContext(ctx)

	payload, err := mq.ParsePayload[mq.RunPendingPayload](&delivery.Message)
	if err != nil {
		logger.Error("failed to parse run.pending payload", "error", err)
		return err
	}

	if o.isRunActive(payload.RunID) {
		logger.Debug("run already active, skipping")
		return nil
	}

	if err := o.processRun(ctx, payload.RunID); err != nil {
		// Повторная доставка уже взятого run — не ошибка
		if errors.Is(err, ErrRunNotPending) || errors.Is(err, ErrRunAlreadyActive) {
			logger.Debug("run not processed", "reason", err)
			return nil
		}
		logger.Error("failed to process run", "error", err)
		return err
	}

	return nil
}

// handleRunCancelled обрабатывает событие об отмене run.
func (o *Orchestrator) handleRunCancelled(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunCancelledPayload](&delivery.Message)
	if err != nil {
		telemetry.FromContext(ctx).Error("failed to parse run.cancelled payload", "error", err)
		return err
	}

	return o.cancelRun(ctx, payload.RunID)
}

// handleTaskCompleted обрабатывает событие о завершённом task.
func (o *Orchestrator) handleTaskCompleted(ctx context.Context, delivery *mq.Delivery) error {
	logger := telemetry.FromContext(ctx)

	payload, err := mq.ParsePayload[mq.TaskCompletedPayload](&delivery.Message)
	if err != nil {
		logger.Error("failed to parse task.completed payload", "error", err)
		return err
	}

	logger.Debug("task completed", "status", payload.Status, "attempt", payload.Attempt)

	if err := o.processTaskCompleted(ctx, payload); err != nil {
		logger.Error("failed to process task completion", "error", err)
		return err
	}

	return nil
}

// processRun берёт pending run в работу.
func (o *Orchestrator) processRun(ctx context.Context, runID uuid.UUID) error {
	run, err := o.runRepo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	if run.Status != domain.RunStatusPending {
		return ErrRunNotPending
	}

	state := NewRunState(run)

	// Валидация графа, DAG, контекст
	if err := state.Initialize(); err != nil {
		return o.failRun(ctx, run, fmt.Sprintf("initialization failed: %v", err))
	}

	if err := o.addActiveRun(state); err != nil {
		return err
	}

	run.MarkRunning()
	if err := o.runRepo.Update(ctx, run); err != nil {
		o.removeActiveRun(runID)
		return fmt.Errorf("update run to running: %w", err)
	}

	o.logger.Info("run started",
		"run_id", runID,
		"name", run.Name,
		"samples", len(run.Params.Samples),
		"steps", len(state.DAG.GetExecutableNodes()),
	)

	return o.advance(ctx, state)
}

// processTaskCompleted обрабатывает завершение task.
func (o *Orchestrator) processTaskCompleted(ctx context.Context, payload mq.TaskCompletedPayload) error {
	state := o.getActiveRun(payload.RunID)

	// Run не в памяти — восстанавливаем после рестарта
	if state == nil {
		var err error
		state, err = o.restoreRunState(ctx, payload.RunID)
		if err != nil {
			return fmt.Errorf("restore run state: %w", err)
		}
		if state == nil {
			o.logger.Debug("run not active and cannot restore", "run_id", payload.RunID)
			return nil
		}
	}

	// Run могли отменить через API, пока шаг выполнялся
	current, err := o.runRepo.GetByID(ctx, payload.RunID)
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	if current.Status == domain.RunStatusCancelled {
		o.dropCancelled(current)
		return nil
	}

	task, err := o.taskRepo.GetByID(ctx, payload.TaskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, payload.TaskID)
		}
		return fmt.Errorf("get task: %w", err)
	}

	stepID := payload.StepID

	if payload.Status == string(domain.TaskStatusSucceeded) {
		state.MarkStepCompleted(stepID, task.Outputs)
		o.logger.Debug("step completed",
			"run_id", payload.RunID,
			"step_id", stepID,
		)
	} else {
		// Worker уже исчерпал попытки по RetryPolicy
		state.MarkStepFailed(stepID, payload.Error)
		o.logger.Warn("step failed",
			"run_id", payload.RunID,
			"step_id", stepID,
			"error", payload.Error,
		)
	}

	return o.advance(ctx, state)
}

// advance завершает run или запускает следующие готовые шаги.
func (o *Orchestrator) advance(ctx context.Context, state *RunState) error {
	if state.HasFailed() {
		return o.completeRun(ctx, state, false)
	}

	if state.IsComplete() {
		return o.completeRun(ctx, state, true)
	}

	if err := o.dispatchReadySteps(ctx, state); err != nil {
		return err
	}

	// Шаг мог упасть ещё при подготовке payload
	if state.HasFailed() {
		return o.completeRun(ctx, state, false)
	}

	return nil
}

// dispatchReadySteps создаёт tasks для готовых шагов и публикует их.
func (o *Orchestrator) dispatchReadySteps(ctx context.Context, state *RunState) error {
	readySteps := state.GetReadySteps()

	if len(readySteps) == 0 {
		return nil
	}

	o.logger.Debug("dispatching ready steps",
		"run_id", state.RunID(),
		"count", len(readySteps),
	)

	for _, node := range readySteps {
		if err := o.dispatchStep(ctx, state, node); err != nil {
			if state.HasFailed() {
				return nil
			}
			o.logger.Error("failed to dispatch step",
				"run_id", state.RunID(),
				"step_id", node.ID,
				"error", err,
			)
			return err
		}
	}

	return nil
}

// dispatchStep создаёт task для шага и публикует его в очередь tier.
func (o *Orchestrator) dispatchStep(ctx context.Context, state *RunState, node *engine.Node) error {
	// Виртуальные узлы закрывает GetReadySteps
	if node.IsJoin || node.IsFork() {
		return nil
	}

	step := node.Step
	if step == nil {
		return fmt.Errorf("%w: node has no step definition", ErrStepNotFound)
	}

	payload, err := engine.RenderConfig(step.Config, state.Context)
	if err != nil {
		// Ошибка шаблона не исправится повтором
		state.MarkStepFailed(node.ID, err.Error())
		return fmt.Errorf("render config for %s: %w", node.ID, err)
	}

	task := &domain.Task{
		ID:        uuid.New(),
		RunID:     state.RunID(),
		StepID:    node.ID,
		Name:      step.Name,
		Type:      step.Type,
		Tier:      node.Tier,
		Attempt:   0,
		Status:    domain.TaskStatusQueued,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	if err := o.taskRepo.Create(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	state.MarkStepRunning(node.ID, task)

	if o.publisher == nil {
		o.logger.Debug("publisher not available, task will be picked up by polling", "task_id", task.ID)
	} else if err := o.publisher.PublishTaskReady(ctx, task.ID, task.RunID, task.Tier); err != nil {
		// Task уже в БД — Worker заберёт его polling'ом
		o.logger.Warn("failed to publish task.ready",
			"task_id", task.ID,
			"run_id", state.RunID(),
			"error", err,
		)
	}

	o.logger.Debug("task dispatched",
		"task_id", task.ID,
		"run_id", state.RunID(),
		"step_id", node.ID,
		"type", step.Type,
		"tier", task.Tier,
		"sample", node.Sample,
	)

	return nil
}

// completeRun завершает run (успешно или с ошибкой).
func (o *Orchestrator) completeRun(ctx context.Context, state *RunState, success bool) error {
	run := state.Run

	if success {
		result, err := state.Result()
		if err != nil {
			return o.finishRun(ctx, run, func() { run.MarkFailed(err.Error()) })
		}
		o.logger.Info("run succeeded",
			"run_id", run.ID,
			"krona_plots", len(result.KronaPlots),
			"duration", run.Duration(),
		)
		return o.finishRun(ctx, run, func() { run.MarkSucceeded(result) })
	}

	msg := state.FailureMessage()
	o.logger.Warn("run failed",
		"run_id", run.ID,
		"failed_steps", state.GetFailedSteps(),
	)
	return o.finishRun(ctx, run, func() { run.MarkFailed(msg) })
}

// finishRun применяет терминальный переход, сохраняет run и снимает его из активных.
func (o *Orchestrator) finishRun(ctx context.Context, run *domain.Run, mark func()) error {
	mark()

	if err := o.runRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("update run status: %w", err)
	}

	telemetry.RunsTotal.WithLabelValues(string(run.Status)).Inc()
	o.removeActiveRun(run.ID)

	return nil
}

// failRun переводит run в статус FAILED до начала выполнения.
func (o *Orchestrator) failRun(ctx context.Context, run *domain.Run, errMsg string) error {
	run.MarkFailed(errMsg)

	if err := o.runRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("update run to failed: %w", err)
	}
	telemetry.RunsTotal.WithLabelValues(string(run.Status)).Inc()

	o.logger.Warn("run failed early",
		"run_id", run.ID,
		"error", errMsg,
	)

	return fmt.Errorf("run failed: %s", errMsg)
}

// cancelRun снимает run с исполнения. Статус CANCELLED выставляет API;
// если событие пришло раньше записи, переход делается здесь.
func (o *Orchestrator) cancelRun(ctx context.Context, runID uuid.UUID) error {
	run, err := o.runRepo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get run: %w", err)
	}

	if !run.IsFinished() {
		run.MarkCancelled()
		if err := o.runRepo.Update(ctx, run); err != nil {
			return fmt.Errorf("update run to cancelled: %w", err)
		}
	}

	if run.Status == domain.RunStatusCancelled {
		o.dropCancelled(run)
	}
	return nil
}

// dropCancelled удаляет отменённый run из активных.
// Уже выданные tasks дорабатывают, их результаты игнорируются.
func (o *Orchestrator) dropCancelled(run *domain.Run) {
	if !o.isRunActive(run.ID) {
		return
	}
	o.removeActiveRun(run.ID)
	telemetry.RunsTotal.WithLabelValues(string(domain.RunStatusCancelled)).Inc()
	o.logger.Info("run cancelled", "run_id", run.ID)
}

// sweepCancelled проверяет активные runs на отмену (fallback для потерянных событий).
func (o *Orchestrator) sweepCancelled(ctx context.Context) {
	for _, id := range o.activeRunIDs() {
		run, err := o.runRepo.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if run.Status == domain.RunStatusCancelled {
			o.dropCancelled(run)
		}
	}
}

// restoreRunState восстанавливает RunState из БД.
// Используется когда task.completed приходит для run, которого нет в памяти
// (после рестарта Orchestrator).
// reconcileActive продвигает активные runs по tasks, завершённым в БД.
func (o *Orchestrator) reconcileActive(ctx context.Context) {
	for _, runID := range o.activeRunIDs() {
		state := o.getActiveRun(runID)
		if state == nil {
			continue
		}

		tasks, err := o.taskRepo.ListByRunID(ctx, runID)
		if err != nil {
			o.logger.Error("failed to list tasks", "run_id", runID, "error", err)
			continue
		}

		for i := range tasks {
			task := &tasks[i]
			if !task.IsFinished() || !state.IsStepRunning(task.StepID) {
				continue
			}

			payload := mq.TaskCompletedPayload{
				TaskID: task.ID,
				RunID:  runID,
				StepID: task.StepID,
				Status: string(task.Status),
				Error:  task.Error,
			}
			if err := o.processTaskCompleted(ctx, payload); err != nil {
				o.logger.Error("failed to reconcile task",
					"run_id", runID,
					"task_id", task.ID,
					"error", err,
				)
			}
			if !o.isRunActive(runID) {
				break
			}
		}
	}
}

func (o *Orchestrator) restoreRunState(ctx context.Context, runID uuid.UUID) (*RunState, error) {
	run, err := o.runRepo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	if run.IsFinished() || run.Status != domain.RunStatusRunning {
		return nil, nil
	}

	state := NewRunState(run)
	if err := state.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize state: %w", err)
	}

	tasks, err := o.taskRepo.ListByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	state.RestoreFromTasks(tasks)

	if err := o.addActiveRun(state); err != nil {
		if errors.Is(err, ErrRunAlreadyActive) {
			return o.getActiveRun(runID), nil
		}
		return nil, err
	}

	o.logger.Info("run state restored",
		"run_id", runID,
		"stats", state.Stats(),
	)

	return state, nil
}
