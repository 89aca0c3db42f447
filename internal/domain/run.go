package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — один запуск таксономического пайплайна над набором образцов.
//
// Run создаётся через API (POST /api/v1/runs) или CLI (megs submit).
// Params фиксируются при создании, Spec строится из них один раз,
// Outputs заполняются шагом aggregate.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// Name — человекочитаемое имя (например, имя launch preset).
	Name string `json:"name,omitempty"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Params — параметры запуска: образцы, референсы, ранг.
	Params Params `json:"params"`

	// Spec — спланированный граф шагов.
	Spec FlowSpec `json:"spec"`

	// Outputs — итоговый Result (krona_plots, kaiju2table_outs).
	// Nil, пока run не завершился успешно.
	Outputs *Result `json:"outputs,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения (успешного или с ошибкой).
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED.
	Error string `json:"error,omitempty"`

	// IdempotencyKey — ключ идемпотентности для предотвращения дубликатов.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит run в статус SUCCEEDED с итоговым Result.
func (r *Run) MarkSucceeded(result *Result) {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
	r.Outputs = result
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
}
