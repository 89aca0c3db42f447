package domain

// Записи, которые шаги передают друг другу. Каждая несёт имя образца,
// чтобы артефакты на любом этапе именовались согласованно.
// После создания записи не изменяются.

// ClassificationInput — вход шага классификации, по одному на образец.
type ClassificationInput struct {
	SampleName string    `json:"sample_name"`
	Read1      File      `json:"read1"`
	Read2      File      `json:"read2"`
	RefDB      File      `json:"kaiju_ref_db"`
	RefNodes   File      `json:"kaiju_ref_nodes"`
	RefNames   File      `json:"kaiju_ref_names"`
	Rank       TaxonRank `json:"taxon_rank"`
}

// ClassificationOutput — результат kaiju. Переносит дальше ссылки на
// таксономию и ранг, нужные обоим экспортам.
type ClassificationOutput struct {
	SampleName string    `json:"sample_name"`
	KaijuOut   File      `json:"kaiju_out"`
	RefNodes   File      `json:"kaiju_ref_nodes"`
	RefNames   File      `json:"kaiju_ref_names"`
	Rank       TaxonRank `json:"taxon_rank"`
}

// KronaInput — результат kaiju2krona, вход для ktImportText.
type KronaInput struct {
	SampleName string `json:"sample_name"`
	KronaText  File   `json:"krona_txt"`
}

// SampleResult — артефакты одного образца после всех шагов.
type SampleResult struct {
	SampleName string `json:"sample_name"`
	KronaPlot  File   `json:"krona_plot"`
	Table      File   `json:"kaiju2table_out"`
}

// Result — итог пайплайна. Порядок элементов совпадает с порядком
// входных образцов.
type Result struct {
	KronaPlots []File `json:"krona_plots"`
	Tables     []File `json:"kaiju2table_outs"`
}

// NewResult собирает Result из результатов по образцам, сохраняя порядок.
func NewResult(samples []SampleResult) *Result {
	res := &Result{
		KronaPlots: make([]File, 0, len(samples)),
		Tables:     make([]File, 0, len(samples)),
	}
	for _, s := range samples {
		res.KronaPlots = append(res.KronaPlots, s.KronaPlot)
		res.Tables = append(res.Tables, s.Table)
	}
	return res
}
