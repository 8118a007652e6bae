package jobs

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Outcome is the isolated result of one fanned-out item.
type Outcome[O any] struct {
	Value O
	Err   error
}

func (o Outcome[O]) Ok() bool {
	return o.Err == nil
}

// MapConcurrent runs op for every item with at most limit calls in flight.
// Items start in input order and may finish in any order. A failing or
// panicking item never stops its siblings, and the result always holds one
// outcome per item at the item's index.
func MapConcurrent[I, O any](ctx context.Context, items []I, limit int, op func(ctx context.Context, item I) (O, error)) []Outcome[O] {
	outcomes := make([]Outcome[O], len(items))
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = Outcome[O]{Err: err}
				return nil
			}

			v, err := guard(ctx, func(ctx context.Context) (O, error) {
				return op(ctx, item)
			})
			outcomes[i] = Outcome[O]{Value: v, Err: err}

			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}

// MapOrDefault maps failed items to fallback and reports how many items
// actually succeeded.
func MapOrDefault[I, O any](ctx context.Context, items []I, limit int, op func(ctx context.Context, item I) (O, error),
	fallback O) ([]O, int) {
	outcomes := MapConcurrent(ctx, items, limit, op)

	values := make([]O, len(outcomes))
	done := 0
	for i, o := range outcomes {
		if !o.Ok() {
			values[i] = fallback
			continue
		}
		values[i] = o.Value
		done++
	}

	return values, done
}

// MapOptional maps failed items to nil.
func MapOptional[I, O any](ctx context.Context, items []I, limit int, op func(ctx context.Context, item I) (O, error)) []*O {
	outcomes := MapConcurrent(ctx, items, limit, op)

	values := make([]*O, len(outcomes))
	for i, o := range outcomes {
		if o.Ok() {
			v := o.Value
			values[i] = &v
		}
	}

	return values
}
