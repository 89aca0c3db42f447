package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/launch"
)

// Run DTOs

// CreateRunRequest — запрос на создание run.
//
// Параметры берутся из Params или из встроенного preset (Preset).
// Если заданы оба, Params имеют приоритет.
type CreateRunRequest struct {
	Name           string              `json:"name,omitempty"`
	Preset         string              `json:"preset,omitempty"`
	Params         *domain.Params      `json:"params,omitempty"`
	Retry          *domain.RetryPolicy `json:"retry,omitempty"`
	TimeoutSec     int                 `json:"timeout_sec,omitempty"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name,omitempty"`
	Status         string         `json:"status"`
	Params         domain.Params  `json:"params"`
	Steps          int            `json:"steps"`
	Outputs        *domain.Result `json:"outputs,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	Error          string         `json:"error,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:             r.ID,
		Name:           r.Name,
		Status:         string(r.Status),
		Params:         r.Params,
		Steps:          countSteps(r.Spec),
		Outputs:        r.Outputs,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		Error:          r.Error,
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt,
	}
}

// countSteps считает исполняемые шаги графа (шаги веток map — по отдельности).
func countSteps(spec domain.FlowSpec) int {
	n := 0
	for _, s := range spec.Steps {
		if len(s.Branches) == 0 {
			n++
			continue
		}
		for _, b := range s.Branches {
			n += len(b.Steps)
		}
	}
	return n
}

// Task DTOs

// TaskResponse — ответ с task.
type TaskResponse struct {
	ID         uuid.UUID      `json:"id"`
	RunID      uuid.UUID      `json:"run_id"`
	StepID     string         `json:"step_id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Tier       string         `json:"tier"`
	Attempt    int            `json:"attempt"`
	Status     string         `json:"status"`
	Payload    map[string]any `json:"payload,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:         t.ID,
		RunID:      t.RunID,
		StepID:     t.StepID,
		Name:       t.Name,
		Type:       t.Type,
		Tier:       string(t.Tier),
		Attempt:    t.Attempt,
		Status:     string(t.Status),
		Payload:    t.Payload,
		Outputs:    t.Outputs,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
		Error:      t.Error,
		CreatedAt:  t.CreatedAt,
	}
}

// Planning DTOs

// PlanRequest — запрос на планирование графа без создания run.
type PlanRequest struct {
	Preset string         `json:"preset,omitempty"`
	Params *domain.Params `json:"params,omitempty"`
}

// PlanResponse — спланированный граф.
type PlanResponse struct {
	Spec  domain.FlowSpec `json:"spec"`
	Steps int             `json:"steps"`
	Heavy int             `json:"heavy"`
}

// Preset DTOs

// PresetResponse — ответ с launch preset.
type PresetResponse struct {
	Name        string        `json:"name"`
	DisplayName string        `json:"display_name"`
	Description string        `json:"description,omitempty"`
	Params      domain.Params `json:"params"`
}

// PresetFromLaunch конвертирует launch.Preset в PresetResponse.
func PresetFromLaunch(p launch.Preset) PresetResponse {
	return PresetResponse{
		Name:        p.Name,
		DisplayName: p.DisplayName,
		Description: p.Description,
		Params:      p.Params,
	}
}
