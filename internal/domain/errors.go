package domain

import "errors"

// Ошибки валидации параметров запуска.
var (
	// ErrInvalidRank — ранг не из перечисления TaxonRanks.
	ErrInvalidRank = errors.New("invalid taxon rank")

	// ErrInvalidSampleName — имя образца пустое или содержит недопустимые символы.
	ErrInvalidSampleName = errors.New("invalid sample name")

	// ErrDuplicateSample — два образца с одинаковым именем перезаписали бы
	// артефакты друг друга.
	ErrDuplicateSample = errors.New("duplicate sample name")

	// ErrInvalidTier — неизвестный ресурсный класс.
	ErrInvalidTier = errors.New("invalid resource tier")
)
