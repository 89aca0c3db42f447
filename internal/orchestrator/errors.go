package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidFlowSpec — спланированный граф run не прошёл валидацию.
	ErrInvalidFlowSpec = errors.New("invalid flow spec")

	// ErrRunAlreadyActive — run уже обрабатывается.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrRunNotPending — run не в статусе PENDING.
	ErrRunNotPending = errors.New("run is not in PENDING status")

	// ErrTaskNotFound — task не найден.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStepNotFound — шаг не найден в DAG.
	ErrStepNotFound = errors.New("step not found in DAG")
)
