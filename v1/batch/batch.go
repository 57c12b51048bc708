package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultSize is the chunk size used when Run receives a non-positive size.
const DefaultSize = 5

// Run splits items into contiguous chunks of at most size, invokes fn once
// per chunk concurrently, and concatenates the chunk results in input order.
// If any chunk fails, the remaining chunks are cancelled through the group
// context and the first error is returned with no partial results.
func Run[T, R any](ctx context.Context, items []T, fn func(context.Context, []T) ([]R, error), size int) ([]R, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if len(items) == 0 {
		return nil, nil
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}

	results := make([][]R, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			out, err := fn(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	flat := make([]R, 0, len(items))
	for _, out := range results {
		flat = append(flat, out...)
	}
	return flat, nil
}
