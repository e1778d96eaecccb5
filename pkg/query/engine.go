package query

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/websyro/prismapilot/pkg/observability/logger"
	"github.com/websyro/prismapilot/pkg/query/pagination"
	"github.com/websyro/prismapilot/pkg/query/predicate"
)

// Engine compiles requests into plans and runs them on an Executor.
type Engine struct {
	exec        Executor
	log         logger.Logger
	sortField   string
	sortOrder   SortOrder
	cursorField string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithDefaultSort overrides the ordering used when a request has no SortBy.
func WithDefaultSort(field string, order SortOrder) Option {
	return func(e *Engine) {
		if field != "" {
			e.sortField = field
		}
		if order != "" {
			e.sortOrder = order
		}
	}
}

// WithCursorField overrides the default cursor field.
func WithCursorField(field string) Option {
	return func(e *Engine) {
		if field != "" {
			e.cursorField = field
		}
	}
}

// NewEngine creates an engine over exec.
func NewEngine(exec Executor, opts ...Option) (*Engine, error) {
	if exec == nil {
		return nil, errors.New("executor is required")
	}
	e := &Engine{
		exec:        exec,
		log:         logger.NewNopLogger(),
		sortField:   DefaultSortField,
		sortOrder:   DefaultSortOrder,
		cursorField: DefaultCursorField,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Executor returns the executor the engine runs plans on.
func (e *Engine) Executor() Executor { return e.exec }

// Where compiles the predicate part of a request: filters, relation filters,
// search and the injected Where, ANDed.
func Where(req Request) *predicate.Node {
	return predicate.And(
		predicate.CompileFilters(req.Filters),
		predicate.CompileRelations(req.Relations),
		predicate.CompileSearch(req.Search, req.SearchFields),
		req.Where,
	)
}

func (e *Engine) cursorFieldOf(req Request) string {
	if req.CursorField != "" {
		return req.CursorField
	}
	return e.cursorField
}

func (e *Engine) orderOf(req Request) []Order {
	field := req.SortBy
	if field == "" {
		field = e.sortField
	}
	order := req.SortOrder
	if order == "" {
		order = e.sortOrder
	}
	orderBy := []Order{{Field: field, Direction: order}}
	if req.IsCursor() {
		if cf := e.cursorFieldOf(req); cf != field {
			orderBy = append(orderBy, Order{Field: cf, Direction: order})
		}
	}
	return orderBy
}

// Assemble compiles a request into a plan. Offset and cursor requests share
// the predicate and ordering path and differ only in the window.
func (e *Engine) Assemble(req Request) *Plan {
	plan := &Plan{
		Model:      req.Model,
		Where:      Where(req),
		OrderBy:    e.orderOf(req),
		Projection: req.Projection,
	}
	if req.IsCursor() {
		w := pagination.ComputeCursorWindow(req.Cursor, pagination.NormalizeLimit(req.Limit), e.cursorFieldOf(req))
		plan.Take, plan.Skip, plan.Cursor = w.Take, w.Skip, w.Cursor
	} else {
		w := pagination.ComputeOffset(req.Page, req.Limit)
		plan.Take, plan.Skip = w.Take, w.Skip
	}
	e.log.Debug("plan assembled", "model", plan.Model, "where", plan.Where.String(), "take", plan.Take, "skip", plan.Skip)
	return plan
}

// Run executes a request in whichever mode it selects.
func (e *Engine) Run(ctx context.Context, req Request) (*Response, error) {
	if req.IsCursor() {
		return e.FindCursor(ctx, req)
	}
	return e.FindPage(ctx, req)
}

// FindPage runs an offset request. The page fetch and the count run
// concurrently and are not guaranteed to observe the same snapshot.
func (e *Engine) FindPage(ctx context.Context, req Request) (*Response, error) {
	req.Mode = ModeOffset
	plan := e.Assemble(req)

	var (
		rows  []Record
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = e.exec.Find(gctx, plan)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = e.exec.Count(gctx, &Plan{Model: plan.Model, Where: plan.Where})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ShapeOffset(rows, total, pagination.NormalizePage(req.Page), plan.Take), nil
}

// FindCursor runs a cursor request.
func (e *Engine) FindCursor(ctx context.Context, req Request) (*Response, error) {
	req.Mode = ModeCursor
	plan := e.Assemble(req)
	rows, err := e.exec.Find(ctx, plan)
	if err != nil {
		return nil, err
	}
	return ShapeCursor(rows, plan.Take-1, e.cursorFieldOf(req)), nil
}

// Count returns the number of rows matching the request predicate.
func (e *Engine) Count(ctx context.Context, req Request) (int64, error) {
	return e.exec.Count(ctx, &Plan{Model: req.Model, Where: Where(req)})
}

// Aggregate computes aggregations over the rows matching the request
// predicate. The executor result is returned as-is.
func (e *Engine) Aggregate(ctx context.Context, req Request, aggs Aggregations) (Aggregates, error) {
	if len(aggs) == 0 {
		return nil, InvalidArgument("at least one aggregation is required")
	}
	return e.exec.Aggregate(ctx, &AggregatePlan{Model: req.Model, Where: Where(req), Aggregations: aggs})
}

// GroupByRequest groups the rows matching Request.
type GroupByRequest struct {
	Request
	By           []string          `json:"by"`
	Aggregations Aggregations      `json:"aggregations,omitempty"`
	Having       predicate.Filters `json:"having,omitempty"`
}

// GroupBy forwards a group-by to the executor without paging or sorting.
func (e *Engine) GroupBy(ctx context.Context, req GroupByRequest) ([]Record, error) {
	if len(req.By) == 0 {
		return nil, InvalidArgument("group by requires at least one field")
	}
	return e.exec.GroupBy(ctx, &GroupByPlan{
		Model:        req.Model,
		By:           req.By,
		Where:        Where(req.Request),
		Aggregations: req.Aggregations,
		Having:       req.Having,
	})
}
