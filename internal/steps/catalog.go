package steps

import (
	"sort"

	"github.com/shaiso/megs/internal/domain"
)

// Типы шагов пайплайна.
const (
	TypeOrganize  = "organize"
	TypeClassify  = "kaiju"
	TypeTable     = "kaiju2table"
	TypeKrona     = "kaiju2krona"
	TypeKronaPlot = "krona_plot"
	TypeAggregate = "aggregate"
)

// Meta — статические метаданные типа шага.
type Meta struct {
	Type string
	// Tool — внешний инструмент; пусто для шагов без вызова процесса.
	Tool string
	Tier domain.ResourceTier
	// Title — сообщение о прогрессе для пользователя.
	Title string
}

// catalog — типы шагов и их ресурсные классы.
// Классификация тяжёлая, всё остальное лёгкое.
var catalog = map[string]Meta{
	TypeOrganize: {
		Type:  TypeOrganize,
		Tier:  domain.TierLight,
		Title: "Organizing Kaiju inputs",
	},
	TypeClassify: {
		Type:  TypeClassify,
		Tool:  "kaiju",
		Tier:  domain.TierHeavy,
		Title: "Taxonomically classifying reads with Kaiju",
	},
	TypeTable: {
		Type:  TypeTable,
		Tool:  "kaiju2table",
		Tier:  domain.TierLight,
		Title: "Summarizing Kaiju output into a table",
	},
	TypeKrona: {
		Type:  TypeKrona,
		Tool:  "kaiju2krona",
		Tier:  domain.TierLight,
		Title: "Converting Kaiju output to Krona text",
	},
	TypeKronaPlot: {
		Type:  TypeKronaPlot,
		Tool:  "ktImportText",
		Tier:  domain.TierLight,
		Title: "Plotting Krona chart",
	},
	TypeAggregate: {
		Type:  TypeAggregate,
		Tier:  domain.TierLight,
		Title: "Collecting per-sample results",
	},
}

// Lookup возвращает метаданные типа шага.
func Lookup(stepType string) (Meta, bool) {
	m, ok := catalog[stepType]
	return m, ok
}

// Types возвращает отсортированный список типов шагов.
func Types() []string {
	types := make([]string, 0, len(catalog))
	for t := range catalog {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// TierOf возвращает tier типа шага. Неизвестные типы лёгкие.
func TierOf(stepType string) domain.ResourceTier {
	if m, ok := catalog[stepType]; ok {
		return m.Tier
	}
	return domain.TierLight
}

// Tools возвращает внешние инструменты, которые вызывает пайплайн.
func Tools() []string {
	tools := make([]string, 0, 4)
	for _, t := range Types() {
		if tool := catalog[t].Tool; tool != "" {
			tools = append(tools, tool)
		}
	}
	return tools
}
