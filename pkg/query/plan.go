package query

import (
	"github.com/websyro/prismapilot/pkg/query/pagination"
	"github.com/websyro/prismapilot/pkg/query/predicate"
)

// Order is one ordering key of a plan.
type Order struct {
	Field     string    `json:"field"`
	Direction SortOrder `json:"direction"`
}

// Plan is the backend-agnostic query handed to an Executor. Take and Skip are
// zero for count plans. In cursor mode Take includes one lookahead row.
type Plan struct {
	Model      string             `json:"model,omitempty"`
	Where      *predicate.Node    `json:"where,omitempty"`
	OrderBy    []Order            `json:"orderBy,omitempty"`
	Take       int                `json:"take,omitempty"`
	Skip       int                `json:"skip,omitempty"`
	Cursor     *pagination.Anchor `json:"cursor,omitempty"`
	Projection *Projection        `json:"projection,omitempty"`
}

// AggregateKind names an aggregation function.
type AggregateKind string

// Aggregation functions.
const (
	AggSum   AggregateKind = "sum"
	AggAvg   AggregateKind = "avg"
	AggMin   AggregateKind = "min"
	AggMax   AggregateKind = "max"
	AggCount AggregateKind = "count"
)

// AllRows is the field name counting every row under AggCount.
const AllRows = "_all"

// Aggregations lists the fields each aggregation function applies to.
type Aggregations map[AggregateKind][]string

// Aggregates holds aggregation results keyed by kind then field.
type Aggregates map[AggregateKind]map[string]any

// AggregatePlan is a where-only plan with the aggregations to compute.
type AggregatePlan struct {
	Model        string          `json:"model,omitempty"`
	Where        *predicate.Node `json:"where,omitempty"`
	Aggregations Aggregations    `json:"aggregations"`
}

// GroupByPlan groups the rows matching Where by the given fields. Having keys
// use the "_<kind>.<field>" form, for example "_count._all" or "_sum.price".
type GroupByPlan struct {
	Model        string            `json:"model,omitempty"`
	By           []string          `json:"by"`
	Where        *predicate.Node   `json:"where,omitempty"`
	Aggregations Aggregations      `json:"aggregations,omitempty"`
	Having       predicate.Filters `json:"having,omitempty"`
}

// HavingKey builds the Having key of an aggregated field.
func HavingKey(kind AggregateKind, field string) string {
	return "_" + string(kind) + "." + field
}
