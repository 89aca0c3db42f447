package steps

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки шагов.
var (
	// ErrStepNotFound — тип шага не найден в реестре.
	ErrStepNotFound = errors.New("step type not found")

	// ErrInvalidPayload — конфигурация task не декодируется в запись шага.
	ErrInvalidPayload = errors.New("invalid step payload")

	// ErrCommandFailed — внешний инструмент завершился с ненулевым кодом
	// или не запустился.
	ErrCommandFailed = errors.New("external command failed")

	// ErrMissingOutput — инструмент завершился успешно, но не создал
	// объявленный артефакт.
	ErrMissingOutput = errors.New("declared output missing")

	// ErrStepCancelled — выполнение шага отменено.
	ErrStepCancelled = errors.New("step execution cancelled")
)

// CommandError — неудачный вызов внешнего инструмента.
type CommandError struct {
	Tool     string
	ExitCode int // -1, если процесс не запустился
	Stderr   string
}

// Error реализует интерфейс error.
func (e *CommandError) Error() string {
	var b strings.Builder
	if e.ExitCode < 0 {
		fmt.Fprintf(&b, "%s: failed to start", e.Tool)
	} else {
		fmt.Fprintf(&b, "%s: exited with code %d", e.Tool, e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		b.WriteString(": ")
		b.WriteString(s)
	}
	return b.String()
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrCommandFailed).
func (e *CommandError) Unwrap() error {
	return ErrCommandFailed
}
