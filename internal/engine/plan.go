package engine

import (
	"fmt"
	"strconv"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/steps"
)

// Имена пайплайна и его шагов.
const (
	FlowName = "taxonomy"

	StepOrganize  = "organize"
	StepTaxonomy  = "taxonomy"
	StepAggregate = "aggregate"

	// Шаги внутри ветки образца.
	BranchClassify = "classify"
	BranchTable    = "kaiju2table"
	BranchKrona    = "kaiju2krona"
	BranchPlot     = "krona_plot"
)

// BranchID возвращает ID ветки образца по его позиции во входном списке.
func BranchID(i int) string {
	return "s" + strconv.Itoa(i)
}

// BuildTaxonomyFlow строит FlowSpec таксономического пайплайна.
//
// Граф:
//
//	organize → taxonomy (map, ветка на образец) → aggregate
//	ветка:    classify → { kaiju2table, kaiju2krona → krona_plot }
//
// Payload шагов передаются через шаблоны со ссылками на outputs
// предыдущих шагов. Для пустого списка образцов map не создаётся
// и aggregate зависит прямо от organize.
func BuildTaxonomyFlow(params domain.Params) (*domain.FlowSpec, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	organizeCfg, err := steps.Encode(params)
	if err != nil {
		return nil, err
	}

	spec := &domain.FlowSpec{
		Version:     "1",
		Name:        FlowName,
		Description: "Metagenomic taxonomic read classification with Kaiju",
		Inputs:      ParamInputs(),
		Steps: []domain.StepDef{{
			ID:     StepOrganize,
			Name:   "Organize Kaiju inputs",
			Type:   steps.TypeOrganize,
			Config: organizeCfg,
		}},
	}

	aggregate := domain.StepDef{
		ID:        StepAggregate,
		Name:      "Organize final outputs",
		Type:      steps.TypeAggregate,
		DependsOn: []string{StepOrganize},
		Config:    map[string]any{"results": []any{}},
	}

	if len(params.Samples) > 0 {
		taxonomy := domain.StepDef{
			ID:        StepTaxonomy,
			Name:      "Per-sample taxonomy",
			Type:      StepTypeMap,
			DependsOn: []string{StepOrganize},
			Branches:  make([]domain.Branch, len(params.Samples)),
		}
		results := make([]any, len(params.Samples))

		for i, s := range params.Samples {
			taxonomy.Branches[i] = sampleBranch(i, s.Name)
			results[i] = sampleResultConfig(i, s.Name)
		}

		spec.Steps = append(spec.Steps, taxonomy)
		aggregate.DependsOn = []string{StepTaxonomy}
		aggregate.Config = map[string]any{"results": results}
	}

	spec.Steps = append(spec.Steps, aggregate)

	return spec, nil
}

// sampleBranch строит подграф одного образца.
func sampleBranch(i int, sample string) domain.Branch {
	branch := BranchID(i)
	ref := func(stepID string) string {
		return fmt.Sprintf(`{{ output %q | json }}`, BranchNodeID(StepTaxonomy, branch, stepID))
	}

	return domain.Branch{
		ID:     branch,
		Sample: sample,
		Steps: []domain.StepDef{
			{
				ID:   BranchClassify,
				Name: "Kaiju " + sample,
				Type: steps.TypeClassify,
				Config: map[string]any{
					"input": fmt.Sprintf(`{{ index (output %q).inputs %d | json }}`, StepOrganize, i),
				},
			},
			{
				ID:        BranchTable,
				Name:      "kaiju2table " + sample,
				Type:      steps.TypeTable,
				DependsOn: []string{BranchClassify},
				Config:    map[string]any{"input": ref(BranchClassify)},
			},
			{
				ID:        BranchKrona,
				Name:      "kaiju2krona " + sample,
				Type:      steps.TypeKrona,
				DependsOn: []string{BranchClassify},
				Config:    map[string]any{"input": ref(BranchClassify)},
			},
			{
				ID:        BranchPlot,
				Name:      "Krona " + sample,
				Type:      steps.TypeKronaPlot,
				DependsOn: []string{BranchKrona},
				Config:    map[string]any{"input": ref(BranchKrona)},
			},
		},
	}
}

// sampleResultConfig ссылается на артефакты образца для шага aggregate.
func sampleResultConfig(i int, sample string) map[string]any {
	branch := BranchID(i)
	return map[string]any{
		"sample_name": sample,
		"krona_plot": fmt.Sprintf(`{{ (output %q).krona_plot | json }}`,
			BranchNodeID(StepTaxonomy, branch, BranchPlot)),
		"kaiju2table_out": fmt.Sprintf(`{{ (output %q).kaiju2table_out | json }}`,
			BranchNodeID(StepTaxonomy, branch, BranchTable)),
	}
}

// ParamInputs описывает параметры пайплайна для интерфейса запуска.
func ParamInputs() map[string]domain.InputDef {
	return map[string]domain.InputDef{
		"samples": {
			Type:        "samples",
			DisplayName: "Sample data",
			Required:    true,
			Description: "Paired-end FASTQ files",
		},
		"kaiju_ref_db": {
			Type:        "file",
			DisplayName: "Kaiju reference database (FM-index)",
			Required:    true,
			Description: "Kaiju reference database '.fmi' file.",
		},
		"kaiju_ref_nodes": {
			Type:        "file",
			DisplayName: "Kaiju reference database nodes",
			Required:    true,
			Description: "Kaiju reference nodes, 'nodes.dmp' file.",
		},
		"kaiju_ref_names": {
			Type:        "file",
			DisplayName: "Kaiju reference database names",
			Required:    true,
			Description: "Kaiju reference taxon names, 'names.dmp' file.",
		},
		"taxon_rank": {
			Type:        "enum",
			DisplayName: "Taxonomic rank (kaiju2table)",
			Default:     string(domain.DefaultTaxonRank),
			Enum:        domain.RankNames(),
			Description: "Taxonomic rank for summary table output (kaiju2table).",
		},
	}
}
