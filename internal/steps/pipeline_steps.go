package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/megs/internal/domain"
)

// Ключи payload.
const (
	configInput      = "input"
	configSamples    = "samples"
	configReferences = "references"
	configRank       = "taxon_rank"
	configResults    = "results"
)

// OrganizeStep — шаг organize.
//
// Config: {"samples": [...], "references": {...}, "taxon_rank": "species"}.
// Outputs: {"inputs": [ClassificationInput, ...]}.
type OrganizeStep struct{}

func (s *OrganizeStep) Type() string { return TypeOrganize }

func (s *OrganizeStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	var samples []domain.Sample
	if raw, ok := req.Config[configSamples]; ok && raw != nil {
		if err := DecodeField(req.Config, configSamples, &samples); err != nil {
			return nil, err
		}
	}
	var refs domain.References
	if err := DecodeField(req.Config, configReferences, &refs); err != nil {
		return nil, err
	}
	rank := domain.DefaultTaxonRank
	if raw := req.Config[configRank]; raw != nil && raw != "" {
		var name string
		if err := DecodeField(req.Config, configRank, &name); err != nil {
			return nil, err
		}
		parsed, err := domain.ParseTaxonRank(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		rank = parsed
	}

	return NewResponse(struct {
		Inputs []domain.ClassificationInput `json:"inputs"`
	}{Inputs: Organize(samples, refs, rank)})
}

// ClassifyStep — шаг kaiju.
//
// Config: {"input": ClassificationInput}. Outputs: ClassificationOutput.
type ClassifyStep struct {
	tk *Toolkit
}

func (s *ClassifyStep) Type() string { return TypeClassify }

func (s *ClassifyStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	var in domain.ClassificationInput
	if err := DecodeField(req.Config, configInput, &in); err != nil {
		return nil, err
	}
	out, err := s.tk.Classify(ctx, in)
	if err != nil {
		return nil, err
	}
	return NewResponse(out)
}

// TableStep — шаг kaiju2table.
//
// Config: {"input": ClassificationOutput}.
// Outputs: {"sample_name": ..., "kaiju2table_out": File}.
type TableStep struct {
	tk *Toolkit
}

func (s *TableStep) Type() string { return TypeTable }

func (s *TableStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	var in domain.ClassificationOutput
	if err := DecodeField(req.Config, configInput, &in); err != nil {
		return nil, err
	}
	table, err := s.tk.ExportTable(ctx, in)
	if err != nil {
		return nil, err
	}
	return NewResponse(domain.SampleResult{SampleName: in.SampleName, Table: table})
}

// KronaStep — шаг kaiju2krona.
//
// Config: {"input": ClassificationOutput}. Outputs: KronaInput.
type KronaStep struct {
	tk *Toolkit
}

func (s *KronaStep) Type() string { return TypeKrona }

func (s *KronaStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	var in domain.ClassificationOutput
	if err := DecodeField(req.Config, configInput, &in); err != nil {
		return nil, err
	}
	krona, err := s.tk.ConvertKrona(ctx, in)
	if err != nil {
		return nil, err
	}
	return NewResponse(krona)
}

// PlotStep — шаг krona_plot.
//
// Config: {"input": KronaInput}.
// Outputs: {"sample_name": ..., "krona_plot": File}.
type PlotStep struct {
	tk *Toolkit
}

func (s *PlotStep) Type() string { return TypeKronaPlot }

func (s *PlotStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	var in domain.KronaInput
	if err := DecodeField(req.Config, configInput, &in); err != nil {
		return nil, err
	}
	plot, err := s.tk.PlotKrona(ctx, in)
	if err != nil {
		return nil, err
	}
	return NewResponse(domain.SampleResult{SampleName: in.SampleName, KronaPlot: plot})
}

// AggregateStep — шаг aggregate, собирает Result.
//
// Config: {"results": [SampleResult, ...]} в порядке входных образцов.
// Пустой или отсутствующий список даёт пустой Result.
// Outputs: {"krona_plots": [...], "kaiju2table_outs": [...]}.
type AggregateStep struct{}

func (s *AggregateStep) Type() string { return TypeAggregate }

func (s *AggregateStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	var results []domain.SampleResult
	if raw, ok := req.Config[configResults]; ok && raw != nil {
		if err := DecodeField(req.Config, configResults, &results); err != nil {
			return nil, err
		}
	}
	return NewResponse(domain.NewResult(results))
}
