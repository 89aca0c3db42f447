package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/repo"
)

// RunStore — операции над runs, которые нужны API.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	Update(ctx context.Context, run *domain.Run) error
}

// TaskStore — операции над tasks, которые нужны API.
type TaskStore interface {
	ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.Task, error)
}

// EventPublisher публикует события runs для Orchestrator.
type EventPublisher interface {
	PublishRunPending(ctx context.Context, runID uuid.UUID) error
	PublishRunCancelled(ctx context.Context, runID uuid.UUID) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runRepo   RunStore
	taskRepo  TaskStore
	publisher EventPublisher
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	RunRepo   RunStore
	TaskRepo  TaskStore
	Publisher EventPublisher // может быть nil: Orchestrator заберёт run polling'ом
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runRepo:   cfg.RunRepo,
		taskRepo:  cfg.TaskRepo,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}
