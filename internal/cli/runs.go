package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/megs/internal/domain"
)

var runHeaders = []string{"ID", "NAME", "STATUS", "SAMPLES", "STEPS", "CREATED"}

func runRow(r *RunResponse) []string {
	return []string{r.ID, r.Name, r.Status, strconv.Itoa(len(r.Params.Samples)), strconv.Itoa(r.Steps), r.CreatedAt}
}

// NewSubmitCmd создаёт команду отправки run в API.
func NewSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var pf paramsFlags
	var name, idempotencyKey string
	var serverPreset bool
	var timeoutSec, maxAttempts int

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a run to the megs API",
		Long:  "Submits a classification run to the platform.\n\n" + paramsHelp(),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			req := CreateRunRequest{
				Name:           name,
				TimeoutSec:     timeoutSec,
				IdempotencyKey: idempotencyKey,
			}
			if maxAttempts > 1 {
				req.Retry = &domain.RetryPolicy{MaxAttempts: maxAttempts, Backoff: "exponential"}
			}

			if serverPreset {
				if pf.preset == "" {
					return fmt.Errorf("--server-preset requires --preset")
				}
				req.Preset = pf.preset
			} else {
				params, err := pf.resolve()
				if err != nil {
					return err
				}
				req.Params = &params
			}

			run, err := clientFn().CreateRun(cmd.Context(), req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run submitted: %s", run.ID))
			out.Print(runHeaders, [][]string{runRow(run)}, run)
			return nil
		},
	}

	pf.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "Run name")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Return the existing run for a repeated key")
	cmd.Flags().BoolVar(&serverPreset, "server-preset", false, "Resolve --preset on the server")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "Per-step timeout in seconds")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 1, "Attempts per step")

	return cmd
}

// NewRunsCmd создаёт группу команд для runs на платформе.
func NewRunsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and cancel submitted runs",
	}

	cmd.AddCommand(
		newRunsListCmd(clientFn, outputFn),
		newRunsShowCmd(clientFn, outputFn),
		newRunsCancelCmd(clientFn, outputFn),
		newRunsTasksCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunsListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i := range runs {
				rows[i] = runRow(&runs[i])
			}

			outputFn().Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Skip the first N results")

	return cmd
}

func newRunsShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details and outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			run, err := clientFn().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(run)
				return nil
			}

			out.Table(append(runHeaders, "ERROR"), [][]string{append(runRow(run), run.Error)})

			if run.Outputs != nil {
				names := make([]string, len(run.Params.Samples))
				for i, s := range run.Params.Samples {
					names[i] = s.Name
				}
				printResult(out, names, run.Outputs)
			}
			return nil
		},
	}
}

func newRunsCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().CancelRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Run cancelled: %s", run.ID))
			return nil
		},
	}
}

func newRunsTasksCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks RUN_ID",
		Short: "List tasks in a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := clientFn().ListTasks(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "STEP_ID", "TYPE", "TIER", "STATUS", "ATTEMPT", "ERROR"}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = []string{t.ID, t.StepID, t.Type, t.Tier, t.Status, strconv.Itoa(t.Attempt), t.Error}
			}

			outputFn().Print(headers, rows, tasks)
			return nil
		},
	}
}
