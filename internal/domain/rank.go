package domain

import (
	"fmt"
	"strings"
)

// TaxonRank — уровень таксономической иерархии, на котором
// kaiju2table суммирует результаты.
type TaxonRank string

const (
	RankSuperkingdom TaxonRank = "superkingdom"
	RankPhylum       TaxonRank = "phylum"
	RankClass        TaxonRank = "class"
	RankOrder        TaxonRank = "order"
	RankFamily       TaxonRank = "family"
	RankGenus        TaxonRank = "genus"
	RankSpecies      TaxonRank = "species"
)

// DefaultTaxonRank используется, когда ранг не задан.
const DefaultTaxonRank = RankSpecies

// TaxonRanks перечисляет допустимые ранги от самого общего к частному.
var TaxonRanks = []TaxonRank{
	RankSuperkingdom,
	RankPhylum,
	RankClass,
	RankOrder,
	RankFamily,
	RankGenus,
	RankSpecies,
}

// ParseTaxonRank парсит строку в TaxonRank (без учёта регистра).
func ParseTaxonRank(s string) (TaxonRank, error) {
	r := TaxonRank(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range TaxonRanks {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRank, s)
}

// String возвращает строковое представление TaxonRank.
func (r TaxonRank) String() string {
	return string(r)
}

// RankNames возвращает имена рангов (для подсказок CLI и описания inputs).
func RankNames() []string {
	names := make([]string, len(TaxonRanks))
	for i, r := range TaxonRanks {
		names[i] = string(r)
	}
	return names
}
