package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map применяет fn к каждому элементу items параллельно и возвращает
// результаты в порядке items.
//
// Каждый элемент обрабатывается своей горутиной, результат пишется в
// слот с тем же индексом. limit <= 0 означает без ограничения.
// Первая ошибка отменяет ctx остальных вызовов и возвращается из Map.
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, i int, item T) (R, error)) ([]R, error) {
	results := make([]R, len(items))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, item := range items {
		g.Go(func() error {
			r, err := fn(gctx, i, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
