package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/engine"
	"github.com/shaiso/megs/internal/launch"
	"github.com/shaiso/megs/internal/repo"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.RunFilter{Limit: defaultListLimit}

	if status := q.Get("status"); status != "" {
		filter.Status = domain.RunStatus(status)
	}

	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}

	if s := q.Get("offset"); s != "" {
		offset, err := strconv.Atoi(s)
		if err != nil || offset < 0 {
			BadRequest(w, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	runs, err := h.runRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// CreateRun планирует граф по параметрам и создаёт pending run.
// POST /api/v1/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	// Повторный запрос с тем же ключом возвращает существующий run
	if req.IdempotencyKey != "" {
		existing, err := h.runRepo.GetByIdempotencyKey(r.Context(), req.IdempotencyKey)
		if err == nil {
			Success(w, RunFromDomain(*existing))
			return
		}
		if !errors.Is(err, repo.ErrNotFound) {
			InternalError(w, h.logger, err)
			return
		}
	}

	params, name, err := resolveParams(req.Params, req.Preset)
	if HandleRepoError(w, h.logger, err, "preset not found") {
		return
	}
	if req.Name != "" {
		name = req.Name
	}

	spec, err := engine.BuildTaxonomyFlow(params)
	if err != nil {
		InvalidParams(w, err)
		return
	}
	if req.Retry != nil || req.TimeoutSec > 0 {
		spec.Defaults = &domain.StepDefaults{Retry: req.Retry, TimeoutSec: req.TimeoutSec}
	}

	run := &domain.Run{
		ID:             uuid.New(),
		Name:           name,
		Status:         domain.RunStatusPending,
		Params:         params,
		Spec:           *spec,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now(),
	}

	if err := h.runRepo.Create(r.Context(), run); err != nil {
		// Гонка двух запросов с одним ключом
		if errors.Is(err, repo.ErrAlreadyExists) && req.IdempotencyKey != "" {
			if existing, getErr := h.runRepo.GetByIdempotencyKey(r.Context(), req.IdempotencyKey); getErr == nil {
				Success(w, RunFromDomain(*existing))
				return
			}
		}
		HandleRepoError(w, h.logger, err, "")
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishRunPending(r.Context(), run.ID); err != nil {
			h.logger.Warn("failed to publish run.pending", "run_id", run.ID, "error", err)
		}
	}

	h.logger.Info("run created",
		"run_id", run.ID,
		"samples", len(params.Samples),
		"rank", params.Rank,
	)

	Created(w, RunFromDomain(*run))
}

// resolveParams возвращает параметры run из тела запроса или из preset.
func resolveParams(params *domain.Params, preset string) (domain.Params, string, error) {
	if params != nil {
		p := *params
		if err := p.Validate(); err != nil {
			return domain.Params{}, "", err
		}
		return p, "", nil
	}

	if preset == "" {
		return domain.Params{}, "", fmt.Errorf("%w: params or preset is required", launch.ErrInvalidPreset)
	}

	p, err := launch.Get(preset)
	if err != nil {
		return domain.Params{}, "", err
	}
	return p.Params, p.DisplayName, nil
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// CancelRun отменяет run. Уже выполняющиеся шаги дорабатывают,
// новые не запускаются.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	if run.IsFinished() {
		InvalidState(w, "run is already finished")
		return
	}

	run.MarkCancelled()

	if err := h.runRepo.Update(r.Context(), run); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishRunCancelled(r.Context(), run.ID); err != nil {
			h.logger.Warn("failed to publish run.cancelled", "run_id", run.ID, "error", err)
		}
	}

	Success(w, RunFromDomain(*run))
}

// ListRunTasks возвращает задачи run.
// GET /api/v1/runs/{id}/tasks
func (h *Handler) ListRunTasks(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	_, err = h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	tasks, err := h.taskRepo.ListByRunID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		result[i] = TaskFromDomain(t)
	}

	List(w, result, len(result))
}
