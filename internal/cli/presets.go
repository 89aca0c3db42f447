package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/megs/internal/launch"
)

// NewPresetsCmd создаёт группу команд для launch presets.
func NewPresetsCmd(outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List and show launch presets",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List embedded presets",
			RunE: func(cmd *cobra.Command, args []string) error {
				presets, err := launch.Presets()
				if err != nil {
					return err
				}

				rows := make([][]string, len(presets))
				for i, p := range presets {
					rows[i] = []string{p.Name, p.DisplayName, strconv.Itoa(len(p.Params.Samples)), string(p.Params.Rank)}
				}
				outputFn().Print([]string{"NAME", "DISPLAY_NAME", "SAMPLES", "RANK"}, rows, presets)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show NAME|FILE",
			Short: "Show preset parameters",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := launch.Resolve(args[0])
				if err != nil {
					return err
				}

				out := outputFn()
				if out.jsonMode {
					out.JSON(p)
					return nil
				}

				refs := p.Params.References
				out.Table([]string{"PARAMETER", "VALUE"}, [][]string{
					{"name", p.Name},
					{"display_name", p.DisplayName},
					{"kaiju_ref_db", refs.DB.String()},
					{"kaiju_ref_nodes", refs.Nodes.String()},
					{"kaiju_ref_names", refs.Names.String()},
					{"taxon_rank", string(p.Params.Rank)},
				})

				rows := make([][]string, len(p.Params.Samples))
				for i, s := range p.Params.Samples {
					rows[i] = []string{s.Name, s.Read1.String(), s.Read2.String()}
				}
				out.Table([]string{"SAMPLE", "READ1", "READ2"}, rows)
				return nil
			},
		},
	)

	return cmd
}
