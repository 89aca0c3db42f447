package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/steps"
	"github.com/shaiso/megs/internal/telemetry"
)

// Config — настройки локального выполнения.
type Config struct {
	// HeavySlots — сколько kaiju может работать одновременно.
	HeavySlots int64

	// LightSlots — сколько лёгких инструментов может работать одновременно.
	LightSlots int64
}

// Pipeline — локальный исполнитель пайплайна.
type Pipeline struct {
	tk    *steps.Toolkit
	slots *Slots
}

// New создаёт Pipeline поверх Toolkit.
func New(tk *steps.Toolkit, cfg Config) *Pipeline {
	return &Pipeline{
		tk:    tk,
		slots: NewSlots(cfg.HeavySlots, cfg.LightSlots),
	}
}

// Run выполняет пайплайн для списка образцов.
//
// Result упорядочен как params.Samples. Пустой список даёт пустой
// Result без вызовов инструментов.
func (p *Pipeline) Run(ctx context.Context, params domain.Params) (*domain.Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	logger := telemetry.FromContext(ctx)
	logger.Info("starting taxonomy pipeline",
		"samples", len(params.Samples),
		"rank", params.Rank,
	)

	inputs := steps.Organize(params.Samples, params.References, params.Rank)

	results, err := Map(ctx, inputs, 0, func(ctx context.Context, _ int, in domain.ClassificationInput) (domain.SampleResult, error) {
		return p.runSample(ctx, in)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("taxonomy pipeline finished", "samples", len(results))
	return domain.NewResult(results), nil
}

// RunSample выполняет пайплайн для одного образца.
func (p *Pipeline) RunSample(ctx context.Context, sample domain.Sample, refs domain.References, rank domain.TaxonRank) (domain.SampleResult, error) {
	params := domain.Params{Samples: []domain.Sample{sample}, References: refs, Rank: rank}
	if err := params.Validate(); err != nil {
		return domain.SampleResult{}, err
	}
	return p.runSample(ctx, steps.OrganizeOne(sample, refs, params.Rank))
}

// runSample: classify, затем параллельно таблица и krona.
func (p *Pipeline) runSample(ctx context.Context, in domain.ClassificationInput) (domain.SampleResult, error) {
	logger := telemetry.WithSample(telemetry.FromContext(ctx), in.SampleName)
	ctx = telemetry.WithLogger(ctx, logger)

	classified, err := withSlot(ctx, p.slots, domain.TierHeavy, func(ctx context.Context) (domain.ClassificationOutput, error) {
		return p.tk.Classify(ctx, in)
	})
	if err != nil {
		return domain.SampleResult{}, err
	}

	res := domain.SampleResult{SampleName: in.SampleName}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		table, err := withSlot(gctx, p.slots, domain.TierLight, func(ctx context.Context) (domain.File, error) {
			return p.tk.ExportTable(ctx, classified)
		})
		res.Table = table
		return err
	})

	g.Go(func() error {
		krona, err := withSlot(gctx, p.slots, domain.TierLight, func(ctx context.Context) (domain.KronaInput, error) {
			return p.tk.ConvertKrona(ctx, classified)
		})
		if err != nil {
			return err
		}
		plot, err := withSlot(gctx, p.slots, domain.TierLight, func(ctx context.Context) (domain.File, error) {
			return p.tk.PlotKrona(ctx, krona)
		})
		res.KronaPlot = plot
		return err
	})

	if err := g.Wait(); err != nil {
		return domain.SampleResult{}, fmt.Errorf("sample %s: %w", in.SampleName, err)
	}

	logger.Info("sample finished", "krona_plot", res.KronaPlot.String(), "table", res.Table.String())
	return res, nil
}
