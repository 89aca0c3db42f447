package worker

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/mq"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
)

// TaskStore — хранилище tasks, которое нужно воркеру.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	Update(ctx context.Context, task *domain.Task) error
	ListQueued(ctx context.Context, tier domain.ResourceTier, limit int) ([]domain.Task, error)
}

// RunStore — источник спланированного графа run (retry и таймауты шагов).
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
}

// CompletionPublisher публикует события task.completed.
type CompletionPublisher interface {
	PublishTaskCompleted(ctx context.Context, payload mq.TaskCompletedPayload) error
}

// Worker выполняет tasks одного ресурсного tier.
//
// Worker — stateless компонент системы, который:
//   - Получает tasks из очереди tasks.ready.<tier> (event-driven)
//   - Периодически проверяет queued tasks своего tier в БД (polling fallback)
//   - Выполняет шаг пайплайна через Registry
//   - Реализует retry с exponential backoff
//   - Отправляет результат обратно в очередь tasks.completed
//
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди.
type Worker struct {
	tier domain.ResourceTier

	// Stores
	taskRepo TaskStore
	runRepo  RunStore

	// MQ
	publisher CompletionPublisher
	conn      *mq.Connection

	// Executor registry
	registry *Registry

	// Consumer
	consumer *mq.Consumer

	// inflight — tasks, уже взятые consumer'ом или poll (taskID → struct{}).
	inflight sync.Map

	// Configuration
	pollInterval time.Duration
	batchSize    int
	prefetch     int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Tier — ресурсный класс, tasks которого выполняет воркер.
	Tier domain.ResourceTier

	// Stores
	TaskRepo TaskStore
	RunRepo  RunStore

	// MQ
	Publisher CompletionPublisher
	Conn      *mq.Connection

	// Registry — executor'ы шагов.
	Registry *Registry

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество tasks за один poll (default: 50)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	tier := cfg.Tier
	if tier == "" {
		tier = domain.TierLight
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		tier:         tier,
		taskRepo:     cfg.TaskRepo,
		runRepo:      cfg.RunRepo,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		registry:     cfg.Registry,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		prefetch:     mq.TierPrefetch(tier, runtime.NumCPU()),
		logger:       logger.With("tier", tier.String()),
	}
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer для tasks.ready.<tier>
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"queue", mq.ReadyQueue(w.tier),
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"prefetch", w.prefetch,
	)

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Tier:    w.tier,
			Handler: w.handleTaskReady,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("task consumer error", "error", err)
			}
		}()
	} else {
		w.logger.Warn("no RabbitMQ connection, running in polling-only mode")
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	// Ждём завершения горутин
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем tasks созданные пока были выключены)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (w *Worker) poll(ctx context.Context) {
	tasks, err := w.taskRepo.ListQueued(ctx, w.tier, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list queued tasks", "error", err)
		return
	}

	if len(tasks) == 0 {
		return
	}

	w.logger.Debug("poll found queued tasks", "count", len(tasks))

	for i := range tasks {
		if ctx.Err() != nil {
			return
		}
		task := &tasks[i]

		if err := w.processTask(ctx, task.ID); err != nil && !errors.Is(err, ErrTaskNotQueued) {
			w.logger.Error("failed to process task from poll",
				"task_id", task.ID,
				"error", err,
			)
		}
	}
}
