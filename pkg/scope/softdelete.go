package scope

import (
	"context"

	"github.com/websyro/prismapilot/pkg/query"
	"github.com/websyro/prismapilot/pkg/query/predicate"
)

// DefaultSoftDeleteField holds the deletion timestamp.
const DefaultSoftDeleteField = "deletedAt"

// Visibility selects which rows a soft-delete scope lets through. When both
// flags are set IncludeTrashed wins.
type Visibility struct {
	IncludeTrashed bool
	TrashedOnly    bool
}

// WithVisibility overrides the visibility of soft-delete scopes for requests
// run with ctx.
func WithVisibility(ctx context.Context, v Visibility) context.Context {
	return context.WithValue(ctx, visibilityKey, v)
}

func visibilityFrom(ctx context.Context) (Visibility, bool) {
	v, ok := ctx.Value(visibilityKey).(Visibility)
	return v, ok
}

// SoftDelete hides rows whose Field is set.
type SoftDelete struct {
	Field string
	Visibility
}

// Where returns the predicate injected for v, or nil when nothing is added.
func (s SoftDelete) Where(v Visibility) *predicate.Node {
	field := s.Field
	if field == "" {
		field = DefaultSoftDeleteField
	}
	switch {
	case v.IncludeTrashed:
		return nil
	case v.TrashedOnly:
		return predicate.Not(predicate.Leaf(field, predicate.OpEq, nil))
	default:
		return predicate.Leaf(field, predicate.OpEq, nil)
	}
}

// Apply ANDs the soft-delete predicate into req. Visibility from ctx takes
// precedence over the scope's own.
func (s SoftDelete) Apply(ctx context.Context, req query.Request) (query.Request, error) {
	v := s.Visibility
	if override, ok := visibilityFrom(ctx); ok {
		v = override
	}
	return req.WithWhere(s.Where(v)), nil
}
