package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/engine"
	"github.com/shaiso/megs/internal/launch"
)

// paramsFlags — флаги, из которых собираются параметры пайплайна.
//
// База берётся из --preset (имя встроенного preset или путь к YAML),
// отдельные флаги переопределяют её поля.
type paramsFlags struct {
	preset  string
	samples []string
	db      string
	nodes   string
	names   string
	rank    string
}

func (f *paramsFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.preset, "preset", "", "Launch preset name or YAML file")
	fl.StringArrayVar(&f.samples, "sample", nil, "Sample as NAME=READ1,READ2 (repeatable)")
	fl.StringVar(&f.db, "db", "", "Kaiju reference database (.fmi)")
	fl.StringVar(&f.nodes, "nodes", "", "Kaiju reference nodes (nodes.dmp)")
	fl.StringVar(&f.names, "names", "", "Kaiju reference names (names.dmp)")
	fl.StringVar(&f.rank, "rank", "", "Taxonomic rank: "+strings.Join(domain.RankNames(), ", "))
}

// resolve собирает и валидирует параметры.
func (f *paramsFlags) resolve() (domain.Params, error) {
	var params domain.Params

	if f.preset != "" {
		p, err := launch.Resolve(f.preset)
		if err != nil {
			return params, err
		}
		params = p.Params
	}

	if len(f.samples) > 0 {
		params.Samples = make([]domain.Sample, 0, len(f.samples))
		for _, s := range f.samples {
			sample, err := parseSample(s)
			if err != nil {
				return params, err
			}
			params.Samples = append(params.Samples, sample)
		}
	}

	if f.db != "" {
		params.References.DB = domain.File{Path: f.db}
	}
	if f.nodes != "" {
		params.References.Nodes = domain.File{Path: f.nodes}
	}
	if f.names != "" {
		params.References.Names = domain.File{Path: f.names}
	}
	if f.rank != "" {
		rank, err := domain.ParseTaxonRank(f.rank)
		if err != nil {
			return params, err
		}
		params.Rank = rank
	}

	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

// parseSample разбирает "NAME=READ1,READ2".
func parseSample(s string) (domain.Sample, error) {
	name, reads, ok := strings.Cut(s, "=")
	if !ok {
		return domain.Sample{}, fmt.Errorf("invalid sample %q, expected NAME=READ1,READ2", s)
	}
	r1, r2, ok := strings.Cut(reads, ",")
	if !ok || r1 == "" || r2 == "" {
		return domain.Sample{}, fmt.Errorf("invalid sample %q, expected two read files", s)
	}
	return domain.Sample{
		Name:  strings.TrimSpace(name),
		Read1: domain.File{Path: r1},
		Read2: domain.File{Path: r2},
	}, nil
}

// paramsHelp описывает параметры пайплайна для --help.
func paramsHelp() string {
	inputs := engine.ParamInputs()

	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Parameters:\n")
	for _, name := range names {
		def := inputs[name]
		fmt.Fprintf(&b, "  %-16s %s", name, def.DisplayName)
		if def.Default != nil {
			fmt.Fprintf(&b, " (default: %v)", def.Default)
		}
		b.WriteString("\n")
		if def.Description != "" {
			fmt.Fprintf(&b, "  %-16s %s\n", "", def.Description)
		}
	}
	return b.String()
}
