package query

import "context"

// Runner executes one list request.
type Runner interface {
	Run(ctx context.Context, req Request) (*Response, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req Request) (*Response, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware decorates a Runner.
type Middleware func(Runner) Runner

// Chain wraps base with the middlewares. The first middleware is the
// outermost.
func Chain(base Runner, middlewares ...Middleware) Runner {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			base = middlewares[i](base)
		}
	}
	return base
}
