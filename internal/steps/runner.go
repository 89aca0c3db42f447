package steps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/telemetry"
)

// stderrTail — сколько последних байт stderr сохраняется в CommandError.
const stderrTail = 4 << 10

// Command — вызов внешнего инструмента.
type Command struct {
	// Tool — имя исполняемого файла (ищется в PATH).
	Tool string

	// Args — аргументы в том порядке, в котором передаются инструменту.
	Args []string

	// Outputs — пути, которые должны существовать после успешного вызова.
	Outputs []string

	// Tier — ресурсный класс шага, для метрик.
	Tier domain.ResourceTier

	// Sample — образец, для логов.
	Sample string
}

// String возвращает командную строку целиком.
func (c Command) String() string {
	return strings.Join(append([]string{c.Tool}, c.Args...), " ")
}

// Runner запускает внешние инструменты.
//
// Реализации: ExecRunner (реальные процессы), фейки в тестах.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner запускает инструменты как дочерние процессы.
//
// Ненулевой код выхода превращается в *CommandError, отсутствующий
// объявленный артефакт в ErrMissingOutput.
type ExecRunner struct {
	// Stdout — куда перенаправить stdout инструмента. Nil означает io.Discard.
	Stdout io.Writer

	// Env — дополнительные переменные окружения ("KEY=VALUE").
	Env []string
}

// NewExecRunner создаёт ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run запускает команду и ждёт её завершения.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) error {
	logger := telemetry.FromContext(ctx)
	logger.Debug("running tool", "tool", cmd.Tool, "command", cmd.String())

	proc := exec.CommandContext(ctx, cmd.Tool, cmd.Args...)
	if len(r.Env) > 0 {
		proc.Env = append(os.Environ(), r.Env...)
	}
	proc.Stdout = r.Stdout
	if proc.Stdout == nil {
		proc.Stdout = io.Discard
	}
	stderr := &tailWriter{max: stderrTail}
	proc.Stderr = stderr

	start := time.Now()
	err := proc.Run()
	telemetry.ToolDuration.WithLabelValues(cmd.Tool, cmd.Tier.String()).Observe(time.Since(start).Seconds())

	if err == nil {
		err = checkOutputs(cmd)
	} else {
		err = commandError(ctx, cmd, err, stderr.String())
	}

	status := telemetry.StatusOK
	if err != nil {
		status = telemetry.StatusFailed
	}
	telemetry.ToolInvocations.WithLabelValues(cmd.Tool, cmd.Tier.String(), status).Inc()

	return err
}

func commandError(ctx context.Context, cmd Command, err error, stderr string) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %v", ErrStepCancelled, cmd.Tool, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &CommandError{Tool: cmd.Tool, ExitCode: exitErr.ExitCode(), Stderr: stderr}
	}
	return &CommandError{Tool: cmd.Tool, ExitCode: -1, Stderr: err.Error()}
}

func checkOutputs(cmd Command) error {
	for _, out := range cmd.Outputs {
		if _, err := os.Stat(out); err != nil {
			return fmt.Errorf("%w: %s did not create %s", ErrMissingOutput, cmd.Tool, out)
		}
	}
	return nil
}

// tailWriter хранит последние max байт записанного.
type tailWriter struct {
	max int
	buf []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.max; over > 0 {
		w.buf = w.buf[over:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	return string(w.buf)
}
