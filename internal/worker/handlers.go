package worker

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

// handleTaskReady обрабатывает событие о новой task из очереди tasks.ready.<tier>.
func (w *Worker) handleTaskReady(ctx context.Context, delivery *mq.Delivery) error {
	logger := telemetry.FromContext(ctx)

	payload, err := mq.ParsePayload[mq.TaskReadyPayload](&delivery.Message)
	if err != nil {
		logger.Error("failed to parse task.ready payload", "error", err)
		return err
	}

	if err := w.processTask(ctx, payload.TaskID); err != nil {
		// Ожидаемые ситуации — не возвращаем ошибку (ack)
		if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrTaskNotQueued) || errors.Is(err, ErrWrongTier) {
			logger.Debug("task not processed", "reason", err)
			return nil
		}
		logger.Error("failed to process task", "error", err)
		return err
	}

	return nil
}

// processTask загружает task из БД, выполняет и обрабатывает результат.
func (w *Worker) processTask(ctx context.Context, taskID uuid.UUID) error {
	if _, busy := w.inflight.LoadOrStore(taskID, struct{}{}); busy {
		return ErrTaskNotQueued
	}
	defer w.inflight.Delete(taskID)

	task, err := w.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return fmt.Errorf("get task: %w", err)
	}

	if task.Status != domain.TaskStatusQueued {
		return ErrTaskNotQueued
	}
	if task.Tier != "" && task.Tier != w.tier {
		return fmt.Errorf("%w: %s", ErrWrongTier, task.Tier)
	}

	task.MarkRunning()
	if err := w.taskRepo.Update(ctx, task); err != nil {
		return fmt.Errorf("update task to running: %w", err)
	}

	logger := telemetry.WithTaskID(telemetry.WithRunID(w.logger, task.RunID.String()), task.ID.String())
	ctx = telemetry.WithLogger(ctx, logger)

	logger.Info("task started",
		"step_id", task.StepID,
		"type", task.Type,
		"attempt", task.Attempt,
	)

	policy, timeout := w.stepSettings(ctx, task)

	result, execErr := w.executeWithRetry(ctx, task, policy, timeout)

	if execErr == nil && result.Error == "" {
		task.MarkSucceeded(result.Outputs)
		if err := w.taskRepo.Update(ctx, task); err != nil {
			return fmt.Errorf("update task to succeeded: %w", err)
		}

		logger.Info("task succeeded",
			"step_id", task.StepID,
			"attempt", task.Attempt,
			"duration", task.Duration(),
		)

		telemetry.TasksTotal.WithLabelValues(task.Type, string(task.Status)).Inc()
		return w.publishCompletion(ctx, task, "")
	}

	// Воркер остановлен посреди выполнения: возвращаем task в очередь
	if execErr != nil && ctx.Err() != nil {
		task.ResetForRetry()
		if err := w.taskRepo.Update(context.WithoutCancel(ctx), task); err != nil {
			return fmt.Errorf("requeue task: %w", err)
		}
		return execErr
	}

	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	} else {
		errMsg = result.Error
	}

	task.MarkFailed(errMsg)
	if err := w.taskRepo.Update(ctx, task); err != nil {
		return fmt.Errorf("update task to failed: %w", err)
	}

	logger.Warn("task failed",
		"step_id", task.StepID,
		"attempt", task.Attempt,
		"error", errMsg,
	)

	telemetry.TasksTotal.WithLabelValues(task.Type, string(task.Status)).Inc()
	return w.publishCompletion(ctx, task, errMsg)
}

// publishCompletion публикует событие task.completed.
func (w *Worker) publishCompletion(ctx context.Context, task *domain.Task, errMsg string) error {
	if w.publisher == nil {
		w.logger.Warn("publisher not available, skipping task.completed publish",
			"task_id", task.ID,
		)
		return nil
	}

	payload := mq.TaskCompletedPayload{
		TaskID:  task.ID,
		RunID:   task.RunID,
		StepID:  task.StepID,
		Status:  string(task.Status),
		Error:   errMsg,
		Attempt: task.Attempt,
	}

	if err := w.publisher.PublishTaskCompleted(ctx, payload); err != nil {
		w.logger.Warn("failed to publish task.completed",
			"task_id", task.ID,
			"error", err,
		)
		// Не возвращаем ошибку — task обновлён в БД, оркестратор подхватит через polling
	}

	return nil
}

// executeWithRetry выполняет task с retry согласно RetryPolicy.
func (w *Worker) executeWithRetry(ctx context.Context, task *domain.Task, policy *domain.RetryPolicy, timeout time.Duration) (*ExecutionResult, error) {
	if w.registry == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStepType, task.Type)
	}
	executor, err := w.registry.Get(task.Type)
	if err != nil {
		return nil, err
	}

	maxAttempts := 1
	if policy != nil && policy.MaxAttempts > 0 {
		maxAttempts = policy.MaxAttempts
	}

	var lastResult *ExecutionResult
	var lastErr error

	for {
		lastResult, lastErr = executor.Execute(ctx, task, timeout)

		if lastErr == nil && (lastResult == nil || lastResult.Error == "") {
			if lastResult == nil {
				lastResult = &ExecutionResult{}
			}
			return lastResult, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if !task.CanRetry(maxAttempts) {
			break
		}

		if !shouldRetry(lastResult, lastErr, policy) {
			break
		}

		delay := calculateBackoff(task.Attempt, policy)

		w.logger.Debug("retrying task",
			"task_id", task.ID,
			"attempt", task.Attempt,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		task.ResetForRetry()
		task.MarkRunning()
		if err := w.taskRepo.Update(ctx, task); err != nil {
			return nil, fmt.Errorf("update task for retry: %w", err)
		}
	}

	return lastResult, lastErr
}

// shouldRetry определяет, нужно ли делать retry.
func shouldRetry(result *ExecutionResult, execErr error, policy *domain.RetryPolicy) bool {
	// Инфраструктурная ошибка — всегда retry
	if execErr != nil {
		return true
	}

	// Нет policy — нет retry
	if policy == nil {
		return false
	}

	return result == nil || !result.Permanent
}

// calculateBackoff вычисляет задержку перед retry.
func calculateBackoff(attempt int, policy *domain.RetryPolicy) time.Duration {
	if policy == nil {
		return time.Second
	}

	initialDelay := time.Duration(policy.InitialDelayMs) * time.Millisecond
	if initialDelay <= 0 {
		initialDelay = time.Second
	}

	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		// delay = initialDelay * 2^(attempt-1)
		delay = initialDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
				break
			}
		}
	default:
		// "fixed" или неизвестный — используем initialDelay
		delay = initialDelay
	}

	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

// stepSettings загружает RetryPolicy и таймаут шага из графа run.
func (w *Worker) stepSettings(ctx context.Context, task *domain.Task) (*domain.RetryPolicy, time.Duration) {
	if w.runRepo == nil {
		return nil, 0
	}

	run, err := w.runRepo.GetByID(ctx, task.RunID)
	if err != nil {
		w.logger.Debug("failed to load run for step settings", "run_id", task.RunID, "error", err)
		return nil, 0
	}

	var defaults domain.StepDefaults
	if run.Spec.Defaults != nil {
		defaults = *run.Spec.Defaults
	}

	step := findStepDef(run.Spec.Steps, task.StepID)
	if step == nil {
		return defaults.Retry, time.Duration(defaults.TimeoutSec) * time.Second
	}

	policy := step.Retry
	if policy == nil {
		policy = defaults.Retry
	}
	timeoutSec := step.TimeoutSec
	if timeoutSec == 0 {
		timeoutSec = defaults.TimeoutSec
	}
	return policy, time.Duration(timeoutSec) * time.Second
}

// findStepDef ищет StepDef по полному ID узла, включая шаги внутри веток map
// (map_id.branch_id.step_id).
func findStepDef(steps []domain.StepDef, stepID string) *domain.StepDef {
	for i := range steps {
		step := &steps[i]
		if step.ID == stepID {
			return step
		}

		if step.Type != engine.StepTypeMap {
			continue
		}
		for _, branch := range step.Branches {
			for j := range branch.Steps {
				if engine.BranchNodeID(step.ID, branch.ID, branch.Steps[j].ID) == stepID {
					return &branch.Steps[j]
				}
			}
		}
	}
	return nil
}
