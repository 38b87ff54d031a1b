// Package stage runs one pipeline stage: a bounded-concurrency fan-out of
// one worker per input row, with per-item failure isolation. A worker error
// never aborts the stage; the item's result slot is filled by the fallback
// instead, so the output table always has one row per input row.
package stage

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/autograder/internal/resilience"
)

// Options configures a stage run.
type Options struct {
	// Name labels progress and failure logs.
	Name string

	// Concurrency bounds the number of workers running at once.
	// Defaults to 10.
	Concurrency int
}

// Run executes worker over items, at most Options.Concurrency at a time.
// Results are keyed by input index, not completion order. A worker error is
// logged and replaced by fallback(item, err).
//
// The only error Run returns is context cancellation, so a half-finished
// stage is never mistaken for a complete table of failures.
func Run[I, O any](
	ctx context.Context,
	opts Options,
	items []I,
	worker func(ctx context.Context, item I) (O, error),
	fallback func(item I, err error) O,
) ([]O, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}

	log := zap.L().With(zap.String("stage", opts.Name), zap.Int("total", len(items)))
	log.Info("stage started", zap.Int("concurrency", opts.Concurrency))

	results := make([]O, len(items))
	var completed, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i, item := range items {
		g.Go(func() error {
			out, err := worker(gctx, item)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				log.Warn("stage item failed",
					zap.Int("index", i),
					zap.Bool("transient", resilience.IsTransient(err)),
					zap.Error(err),
				)
				out = fallback(item, err)
			}
			results[i] = out

			done := completed.Add(1)
			log.Info("stage progress", zap.Int64("completed", done))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("stage complete", zap.Int64("failed_items", failed.Load()))
	return results, nil
}
