// Package batch runs several named list requests concurrently.
package batch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/websyro/prismapilot/pkg/observability/logger"
	"github.com/websyro/prismapilot/pkg/query"
)

// Results maps each request name to its response.
type Results map[string]*query.Response

// Options tunes a batch run.
type Options struct {
	// Concurrency caps in-flight requests. Zero or less means no cap.
	Concurrency int
	// Logger records the name of a failing request.
	Logger logger.Logger
}

// Run executes every request through runner. The first failure cancels the
// remaining requests and fails the whole batch with that error unchanged.
func Run(ctx context.Context, runner query.Runner, reqs map[string]query.Request, opts ...Options) (Results, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Logger == nil {
		o.Logger = logger.NewNopLogger()
	}

	g, gctx := errgroup.WithContext(ctx)
	if o.Concurrency > 0 {
		g.SetLimit(o.Concurrency)
	}

	var mu sync.Mutex
	results := make(Results, len(reqs))
	for name, req := range reqs {
		g.Go(func() error {
			resp, err := runner.Run(gctx, req)
			if err != nil {
				if gctx.Err() == nil {
					o.Logger.Warn("batch request failed", "name", name, "model", req.Model, "error", err)
				}
				return err
			}
			mu.Lock()
			results[name] = resp
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
