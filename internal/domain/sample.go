package domain

import (
	"fmt"
	"regexp"
)

// File — ссылка на файл-артефакт.
//
// Path — где файл читается или пишется локально.
// Remote — место публикации в пространстве имён ("latch:///kaiju/S1/S1_kaiju.tsv").
// Для входных файлов Remote пуст.
type File struct {
	Path   string `json:"path" yaml:"path"`
	Remote string `json:"remote,omitempty" yaml:"remote,omitempty"`
}

// String возвращает Remote, если он задан, иначе Path.
func (f File) String() string {
	if f.Remote != "" {
		return f.Remote
	}
	return f.Path
}

// IsZero возвращает true для пустой ссылки.
func (f File) IsZero() bool {
	return f.Path == "" && f.Remote == ""
}

// Sample — образец: пара paired-end FASTQ файлов под общим именем.
type Sample struct {
	Name  string `json:"sample_name" yaml:"sample_name"`
	Read1 File   `json:"read1" yaml:"read1"`
	Read2 File   `json:"read2" yaml:"read2"`
}

// References — общие для всех образцов файлы референсной базы Kaiju.
type References struct {
	// DB — индекс Kaiju (.fmi).
	DB File `json:"kaiju_ref_db" yaml:"kaiju_ref_db"`
	// Nodes — nodes.dmp таксономии.
	Nodes File `json:"kaiju_ref_nodes" yaml:"kaiju_ref_nodes"`
	// Names — names.dmp таксономии.
	Names File `json:"kaiju_ref_names" yaml:"kaiju_ref_names"`
}

// Params — типизированные параметры запуска пайплайна.
type Params struct {
	Samples    []Sample   `json:"samples" yaml:"samples"`
	References References `json:"references" yaml:"references"`
	Rank       TaxonRank  `json:"taxon_rank" yaml:"taxon_rank"`
}

// Имя образца становится сегментом пути, поэтому разрешены только
// безопасные символы.
var sampleNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Validate проверяет параметры запуска.
//
// Существование файлов не проверяется: organizer передаёт входы как есть,
// а ошибки в референсах проявятся на шаге классификации.
func (p *Params) Validate() error {
	if p.Rank == "" {
		p.Rank = DefaultTaxonRank
	}
	if _, err := ParseTaxonRank(string(p.Rank)); err != nil {
		return err
	}

	seen := make(map[string]bool, len(p.Samples))
	for i, s := range p.Samples {
		if err := ValidateSampleName(s.Name); err != nil {
			return fmt.Errorf("samples[%d]: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("samples[%d]: %w: %s", i, ErrDuplicateSample, s.Name)
		}
		seen[s.Name] = true
	}

	return nil
}

// ValidateSampleName проверяет, что имя образца можно использовать в путях.
func ValidateSampleName(name string) error {
	if name == "" || name == "." || name == ".." || !sampleNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidSampleName, name)
	}
	return nil
}
