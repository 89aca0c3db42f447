package steps

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/telemetry"
)

// Organize разворачивает образцы и общие референсы в записи
// ClassificationInput, по одной на образец, в порядке входа.
//
// Входы передаются как есть: битые референсы проявятся на классификации.
func Organize(samples []domain.Sample, refs domain.References, rank domain.TaxonRank) []domain.ClassificationInput {
	inputs := make([]domain.ClassificationInput, 0, len(samples))
	for _, s := range samples {
		inputs = append(inputs, OrganizeOne(s, refs, rank))
	}
	return inputs
}

// OrganizeOne строит ClassificationInput для одного образца.
func OrganizeOne(sample domain.Sample, refs domain.References, rank domain.TaxonRank) domain.ClassificationInput {
	if rank == "" {
		rank = domain.DefaultTaxonRank
	}
	return domain.ClassificationInput{
		SampleName: sample.Name,
		Read1:      sample.Read1,
		Read2:      sample.Read2,
		RefDB:      refs.DB,
		RefNodes:   refs.Nodes,
		RefNames:   refs.Names,
		Rank:       rank,
	}
}

// Toolkit строит и запускает команды внешних инструментов.
type Toolkit struct {
	Runner Runner
	Layout Layout
}

// NewToolkit создаёт Toolkit.
func NewToolkit(runner Runner, layout Layout) *Toolkit {
	return &Toolkit{Runner: runner, Layout: layout}
}

// kaijuThreads — значение -z: все CPU тяжёлого tier.
var kaijuThreads = strconv.Itoa(domain.TierHeavy.Spec().CPU)

// Classify запускает kaiju на паре ридов образца.
//
//	kaiju -t <nodes> -f <db> -i <read1> -j <read2> -z 96 -o <sample>_kaiju.out
func (t *Toolkit) Classify(ctx context.Context, in domain.ClassificationInput) (domain.ClassificationOutput, error) {
	out, err := t.Layout.Artifact(in.SampleName, KaijuOutName(in.SampleName))
	if err != nil {
		return domain.ClassificationOutput{}, err
	}

	cmd := t.command(TypeClassify, in.SampleName,
		[]string{
			"-t", in.RefNodes.Path,
			"-f", in.RefDB.Path,
			"-i", in.Read1.Path,
			"-j", in.Read2.Path,
			"-z", kaijuThreads,
			"-o", out.Path,
		},
		out.Path,
	)

	telemetry.WithSample(telemetry.FromContext(ctx), in.SampleName).
		Info(catalog[TypeClassify].Title, "command", cmd.String())

	if err := t.Runner.Run(ctx, cmd); err != nil {
		return domain.ClassificationOutput{}, fmt.Errorf("classify %s: %w", in.SampleName, err)
	}

	return domain.ClassificationOutput{
		SampleName: in.SampleName,
		KaijuOut:   out,
		RefNodes:   in.RefNodes,
		RefNames:   in.RefNames,
		Rank:       in.Rank,
	}, nil
}

// ExportTable суммирует результат kaiju на заданном ранге,
// с процентами (-p) и неклассифицированными ридами (-e).
//
//	kaiju2table -t <nodes> -n <names> -r <rank> -p -e -o <sample>_kaiju.tsv <kaiju_out>
func (t *Toolkit) ExportTable(ctx context.Context, in domain.ClassificationOutput) (domain.File, error) {
	out, err := t.Layout.Artifact(in.SampleName, TableName(in.SampleName))
	if err != nil {
		return domain.File{}, err
	}

	rank := in.Rank
	if rank == "" {
		rank = domain.DefaultTaxonRank
	}

	cmd := t.command(TypeTable, in.SampleName,
		[]string{
			"-t", in.RefNodes.Path,
			"-n", in.RefNames.Path,
			"-r", rank.String(),
			"-p",
			"-e",
			"-o", out.Path,
			in.KaijuOut.Path,
		},
		out.Path,
	)

	if err := t.Runner.Run(ctx, cmd); err != nil {
		return domain.File{}, fmt.Errorf("kaiju2table %s: %w", in.SampleName, err)
	}
	return out, nil
}

// ConvertKrona переводит результат kaiju в текстовый формат Krona.
//
//	kaiju2krona -t <nodes> -n <names> -i <kaiju_out> -o <sample>_kaiju2krona.out
func (t *Toolkit) ConvertKrona(ctx context.Context, in domain.ClassificationOutput) (domain.KronaInput, error) {
	out, err := t.Layout.Artifact(in.SampleName, KronaTextName(in.SampleName))
	if err != nil {
		return domain.KronaInput{}, err
	}

	cmd := t.command(TypeKrona, in.SampleName,
		[]string{
			"-t", in.RefNodes.Path,
			"-n", in.RefNames.Path,
			"-i", in.KaijuOut.Path,
			"-o", out.Path,
		},
		out.Path,
	)

	if err := t.Runner.Run(ctx, cmd); err != nil {
		return domain.KronaInput{}, fmt.Errorf("kaiju2krona %s: %w", in.SampleName, err)
	}

	return domain.KronaInput{SampleName: in.SampleName, KronaText: out}, nil
}

// PlotKrona рисует интерактивный HTML график.
//
//	ktImportText -o <sample>_krona.html <krona_txt>
func (t *Toolkit) PlotKrona(ctx context.Context, in domain.KronaInput) (domain.File, error) {
	out, err := t.Layout.Artifact(in.SampleName, KronaPlotName(in.SampleName))
	if err != nil {
		return domain.File{}, err
	}

	cmd := t.command(TypeKronaPlot, in.SampleName,
		[]string{"-o", out.Path, in.KronaText.Path},
		out.Path,
	)

	if err := t.Runner.Run(ctx, cmd); err != nil {
		return domain.File{}, fmt.Errorf("ktImportText %s: %w", in.SampleName, err)
	}
	return out, nil
}

func (t *Toolkit) command(stepType, sample string, args []string, outputs ...string) Command {
	meta := catalog[stepType]
	return Command{
		Tool:    meta.Tool,
		Args:    args,
		Outputs: outputs,
		Tier:    meta.Tier,
		Sample:  sample,
	}
}
