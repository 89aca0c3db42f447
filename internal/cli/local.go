package cli

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/engine"
	"github.com/shaiso/megs/internal/pipeline"
	"github.com/shaiso/megs/internal/reads"
	"github.com/shaiso/megs/internal/steps"
	"github.com/shaiso/megs/internal/telemetry"
)

// NewLocalRunCmd создаёт команду локального запуска пайплайна.
func NewLocalRunCmd(outputFn func() *Output) *cobra.Command {
	var pf paramsFlags
	var workDir, namespace string
	var heavySlots, lightSlots int64
	var preflight bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Classify samples locally with kaiju and krona",
		Long: "Runs kaiju, kaiju2table, kaiju2krona and ktImportText for every sample\n" +
			"on this machine. The tools must be on PATH.\n\n" + paramsHelp(),
		Example: "  megs run --preset crohns --workdir /data/out\n" +
			"  megs run --sample S1=S1_1.fq,S1_2.fq --db db.fmi --nodes nodes.dmp --names names.dmp --rank genus",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			params, err := pf.resolve()
			if err != nil {
				return err
			}

			ctx := telemetry.WithLogger(cmd.Context(), telemetry.SetupLogger())

			if preflight {
				if _, err := checkReads(cmd, params); err != nil {
					return err
				}
			}

			p := pipeline.New(
				steps.NewToolkit(steps.NewExecRunner(), steps.NewLayout(workDir, namespace)),
				pipeline.Config{HeavySlots: heavySlots, LightSlots: lightSlots},
			)

			if len(params.Samples) == 1 {
				s := params.Samples[0]
				res, err := p.RunSample(ctx, s, params.References, params.Rank)
				if err != nil {
					return err
				}
				printResult(out, []string{s.Name}, domain.NewResult([]domain.SampleResult{res}))
				return nil
			}

			result, err := p.Run(ctx, params)
			if err != nil {
				return err
			}

			names := make([]string, len(params.Samples))
			for i, s := range params.Samples {
				names[i] = s.Name
			}
			printResult(out, names, result)
			return nil
		},
	}

	pf.register(cmd)
	cmd.Flags().StringVar(&workDir, "workdir", ".", "Directory for tool outputs")
	cmd.Flags().StringVar(&namespace, "namespace", steps.DefaultNamespace, "Publication namespace for artifacts")
	cmd.Flags().Int64Var(&heavySlots, "heavy-slots", 1, "Concurrent kaiju invocations")
	cmd.Flags().Int64Var(&lightSlots, "light-slots", int64(runtime.NumCPU()), "Concurrent light tool invocations")
	cmd.Flags().BoolVar(&preflight, "preflight", false, "Check FASTQ pairs before running")

	return cmd
}

func printResult(out *Output, names []string, res *domain.Result) {
	rows := make([][]string, len(res.KronaPlots))
	for i := range res.KronaPlots {
		rows[i] = []string{names[i], res.KronaPlots[i].String(), res.Tables[i].String()}
	}
	out.Print([]string{"SAMPLE", "KRONA_PLOT", "TABLE"}, rows, res)
}

// NewPlanCmd создаёт команду вывода DAG пайплайна.
func NewPlanCmd(outputFn func() *Output) *cobra.Command {
	var pf paramsFlags

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the step graph for the given samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			params, err := pf.resolve()
			if err != nil {
				return err
			}

			spec, err := engine.BuildTaxonomyFlow(params)
			if err != nil {
				return err
			}
			dag, err := engine.BuildDAG(spec)
			if err != nil {
				return err
			}

			nodes := dag.GetExecutableNodes()
			rows := make([][]string, len(nodes))
			for i, n := range nodes {
				deps := make([]string, 0, len(n.DependsOn))
				for _, d := range n.DependsOn {
					deps = append(deps, d.ID)
				}
				rows[i] = []string{n.ID, n.Step.Type, string(n.Tier), n.Sample, strings.Join(deps, ",")}
			}

			out.Print([]string{"STEP", "TYPE", "TIER", "SAMPLE", "DEPENDS_ON"}, rows, spec)
			return nil
		},
	}

	pf.register(cmd)
	return cmd
}

// NewPreflightCmd создаёт команду проверки FASTQ пар.
func NewPreflightCmd(outputFn func() *Output) *cobra.Command {
	var pf paramsFlags

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Count FASTQ records and check read pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := pf.resolve()
			if err != nil {
				return err
			}
			stats, err := checkReads(cmd, params)
			if err != nil {
				return err
			}

			rows := make([][]string, len(stats))
			for i, s := range stats {
				rows[i] = []string{
					s.SampleName,
					strconv.Itoa(s.Read1.Records),
					strconv.FormatInt(s.Read1.Bases+s.Read2.Bases, 10),
					fmt.Sprintf("%d-%d", min(s.Read1.MinLen, s.Read2.MinLen), max(s.Read1.MaxLen, s.Read2.MaxLen)),
				}
			}
			outputFn().Print([]string{"SAMPLE", "PAIRS", "BASES", "LENGTH"}, rows, stats)
			return nil
		},
	}

	pf.register(cmd)
	return cmd
}

func checkReads(cmd *cobra.Command, params domain.Params) ([]reads.SampleStats, error) {
	stats := make([]reads.SampleStats, 0, len(params.Samples))
	for _, s := range params.Samples {
		st, err := reads.CheckSample(cmd.Context(), s)
		if err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, nil
}
