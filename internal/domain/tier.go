package domain

import (
	"fmt"
	"strings"
)

// ResourceTier — ресурсный класс шага.
//
// Назначается статически по типу шага при построении графа:
// классификация тяжёлая, всё остальное лёгкое.
type ResourceTier string

const (
	TierLight ResourceTier = "LIGHT"
	TierHeavy ResourceTier = "HEAVY"
)

// ResourceTiers — все tier в порядке от лёгкого к тяжёлому.
var ResourceTiers = []ResourceTier{TierLight, TierHeavy}

// TierSpec — выделение ресурсов для tier.
type TierSpec struct {
	CPU       int `json:"cpu"`
	MemoryGiB int `json:"memory_gib"`
}

// tierSpecs — аллокации по tier.
var tierSpecs = map[ResourceTier]TierSpec{
	TierLight: {CPU: 2, MemoryGiB: 4},
	TierHeavy: {CPU: 96, MemoryGiB: 192},
}

// Spec возвращает аллокацию ресурсов tier.
func (t ResourceTier) Spec() TierSpec {
	return tierSpecs[t]
}

// String возвращает строковое представление tier.
func (t ResourceTier) String() string {
	return string(t)
}

// Queue возвращает суффикс очереди для tier ("light", "heavy").
func (t ResourceTier) Queue() string {
	return strings.ToLower(string(t))
}

// ParseResourceTier парсит строку в ResourceTier (без учёта регистра).
func ParseResourceTier(s string) (ResourceTier, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIGHT":
		return TierLight, nil
	case "HEAVY":
		return TierHeavy, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
}
