package pipeline

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/shaiso/megs/internal/domain"
)

// Slots ограничивает число одновременных вызовов по tier.
type Slots struct {
	heavy *semaphore.Weighted
	light *semaphore.Weighted
}

// NewSlots создаёт слоты. Значения <= 0 заменяются значениями по умолчанию:
// один тяжёлый слот и NumCPU лёгких.
func NewSlots(heavy, light int64) *Slots {
	if heavy <= 0 {
		heavy = 1
	}
	if light <= 0 {
		light = int64(runtime.NumCPU())
	}
	return &Slots{
		heavy: semaphore.NewWeighted(heavy),
		light: semaphore.NewWeighted(light),
	}
}

func (s *Slots) sem(tier domain.ResourceTier) *semaphore.Weighted {
	if tier == domain.TierHeavy {
		return s.heavy
	}
	return s.light
}

// withSlot выполняет fn, удерживая слот tier.
func withSlot[T any](ctx context.Context, s *Slots, tier domain.ResourceTier, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	sem := s.sem(tier)
	if err := sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer sem.Release(1)

	return fn(ctx)
}
