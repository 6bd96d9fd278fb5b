// Package workpool runs a fixed number of workers over one shared cursor.
package workpool

import (
	"context"
	"sync/atomic"

	"github.com/sourcegraph/conc"
)

// Cursor hands out items of a fixed slice exactly once across goroutines.
type Cursor[T any] struct {
	items []T
	next  atomic.Int64
}

// NewCursor wraps items. The slice must not be modified afterwards.
func NewCursor[T any](items []T) *Cursor[T] {
	return &Cursor[T]{items: items}
}

// Next returns the next unclaimed item, or false when exhausted.
func (c *Cursor[T]) Next() (T, bool) {
	i := c.next.Add(1) - 1
	if i >= int64(len(c.items)) {
		var zero T
		return zero, false
	}
	return c.items[i], true
}

// Len is the total number of items.
func (c *Cursor[T]) Len() int {
	return len(c.items)
}

// Run starts max(1, n) workers that pull from cursor until it is exhausted,
// fn returns false, or ctx is done. It blocks until every worker returns.
// A false from fn stops only the worker that returned it.
func Run[T any](ctx context.Context, n int, cursor *Cursor[T], fn func(ctx context.Context, item T) bool) {
	if n < 1 {
		n = 1
	}
	if n > cursor.Len() && cursor.Len() > 0 {
		n = cursor.Len()
	}

	var wg conc.WaitGroup
	for i := 0; i < n; i++ {
		wg.Go(func() {
			for {
				if ctx.Err() != nil {
					return
				}
				item, ok := cursor.Next()
				if !ok {
					return
				}
				if !fn(ctx, item) {
					return
				}
			}
		})
	}
	wg.Wait()
}
