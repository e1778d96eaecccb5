// Package scope narrows requests before they run: soft-deleted rows are
// hidden and tenant rows are isolated by injecting predicates into
// Request.Where.
package scope

import (
	"context"

	"github.com/websyro/prismapilot/pkg/query"
)

// Scope rewrites a request before it runs.
type Scope interface {
	Apply(ctx context.Context, req query.Request) (query.Request, error)
}

// Apply runs every scope over req in order. The first failure stops it.
func Apply(ctx context.Context, req query.Request, scopes ...Scope) (query.Request, error) {
	var err error
	for _, s := range scopes {
		if s == nil {
			continue
		}
		if req, err = s.Apply(ctx, req); err != nil {
			return query.Request{}, err
		}
	}
	return req, nil
}

// Middleware applies scopes to every request. Scope failures are returned
// without running the request.
func Middleware(scopes ...Scope) query.Middleware {
	return func(next query.Runner) query.Runner {
		return query.RunnerFunc(func(ctx context.Context, req query.Request) (*query.Response, error) {
			scoped, err := Apply(ctx, req, scopes...)
			if err != nil {
				return nil, err
			}
			return next.Run(ctx, scoped)
		})
	}
}

type contextKey string

const (
	visibilityKey contextKey = "scope.visibility"
	tenantKey     contextKey = "scope.tenant"
)
