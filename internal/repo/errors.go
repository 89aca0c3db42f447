package repo

import "errors"

// Ошибки хранилища runs и tasks.
var (
	// ErrNotFound — run или task с таким ID нет в БД.
	ErrNotFound = errors.New("run or task not found")

	// ErrAlreadyExists — run с таким idempotency key уже создан.
	ErrAlreadyExists = errors.New("run with this idempotency key already exists")

	// ErrInvalidState — переход статуса run или task недопустим
	// (например, отмена уже завершённого run).
	ErrInvalidState = errors.New("invalid run or task state transition")
)
