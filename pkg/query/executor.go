package query

import "context"

// Executor runs plans against a backing store. Errors are returned to the
// caller of the engine unchanged.
type Executor interface {
	Find(ctx context.Context, plan *Plan) ([]Record, error)
	Count(ctx context.Context, plan *Plan) (int64, error)
	Aggregate(ctx context.Context, plan *AggregatePlan) (Aggregates, error)
	GroupBy(ctx context.Context, plan *GroupByPlan) ([]Record, error)
}
