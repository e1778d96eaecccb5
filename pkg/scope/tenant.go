package scope

import (
	"context"

	"github.com/websyro/prismapilot/pkg/query"
	"github.com/websyro/prismapilot/pkg/query/predicate"
)

// DefaultTenantField holds the owning tenant id.
const DefaultTenantField = "tenantId"

// WithTenant attaches a tenant id to ctx.
func WithTenant(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantKey, id)
}

// TenantFromContext returns the tenant id attached to ctx.
func TenantFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantKey).(string)
	return id, ok && id != ""
}

// Tenant restricts rows to one tenant. An empty ID reads the tenant from the
// request context.
type Tenant struct {
	Field string
	ID    string
}

// Where returns the tenant equality predicate.
func (t Tenant) Where(id string) (*predicate.Node, error) {
	if id == "" {
		return nil, query.InvalidArgument("tenant id is required")
	}
	field := t.Field
	if field == "" {
		field = DefaultTenantField
	}
	return predicate.Leaf(field, predicate.OpEq, id), nil
}

// Apply ANDs the tenant predicate into req.
func (t Tenant) Apply(ctx context.Context, req query.Request) (query.Request, error) {
	id := t.ID
	if id == "" {
		id, _ = TenantFromContext(ctx)
	}
	where, err := t.Where(id)
	if err != nil {
		return query.Request{}, err
	}
	return req.WithWhere(where), nil
}
