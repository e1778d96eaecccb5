// Package sqlexec implements query.Executor for SQL databases. Plans are
// translated with squirrel; relation predicates become EXISTS subqueries and
// cursor anchors become keyset conditions.
package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/websyro/prismapilot/pkg/observability/logger"
	"github.com/websyro/prismapilot/pkg/observability/tracing"
	"github.com/websyro/prismapilot/pkg/query"
	"github.com/websyro/prismapilot/pkg/query/predicate"
)

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Executor runs plans against a SQL database. Models map to table names.
type Executor struct {
	db        Queryer
	dialect   Dialect
	relations map[string]map[string]Relation
	log       logger.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRelation registers a relation of model usable in relation filters.
func WithRelation(model, name string, rel Relation) Option {
	return func(e *Executor) {
		if e.relations[model] == nil {
			e.relations[model] = map[string]Relation{}
		}
		e.relations[model][name] = rel
	}
}

// WithLogger sets the logger used to trace generated SQL at debug level.
func WithLogger(log logger.Logger) Option {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// New creates an executor over db.
func New(db Queryer, dialect Dialect, opts ...Option) *Executor {
	e := &Executor{
		db:        db,
		dialect:   dialect,
		relations: map[string]map[string]Relation{},
		log:       logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) builder() *whereBuilder {
	return &whereBuilder{dialect: e.dialect, relations: e.relations}
}

func (e *Executor) where(model string, n *predicate.Node) (sq.Sqlizer, error) {
	return e.builder().build(scope{table: model}, n)
}

// SelectSQL renders the SELECT statement of a find plan.
func (e *Executor) SelectSQL(plan *query.Plan) (string, []interface{}, error) {
	table, err := e.dialect.Quote(plan.Model)
	if err != nil {
		return "", nil, err
	}
	columns := []string{"*"}
	if plan.Projection != nil && len(plan.Projection.Select) > 0 {
		columns = make([]string, len(plan.Projection.Select))
		for i, field := range plan.Projection.Select {
			if columns[i], err = e.dialect.Quote(field); err != nil {
				return "", nil, err
			}
		}
	}

	where, err := e.where(plan.Model, plan.Where)
	if err != nil {
		return "", nil, err
	}
	if plan.Cursor != nil {
		keyset, err := e.keyset(table, plan)
		if err != nil {
			return "", nil, err
		}
		if where == nil {
			where = keyset
		} else {
			where = sq.And{where, keyset}
		}
	}

	b := sq.Select(columns...).From(table).PlaceholderFormat(e.dialect.Placeholder)
	if where != nil {
		b = b.Where(where)
	}
	for _, o := range plan.OrderBy {
		col, err := e.dialect.Quote(o.Field)
		if err != nil {
			return "", nil, err
		}
		b = b.OrderBy(col + " " + strings.ToUpper(string(o.Direction)))
	}
	if plan.Take > 0 {
		b = b.Limit(uint64(plan.Take))
	}
	if plan.Skip > 0 {
		b = b.Offset(uint64(plan.Skip))
	}
	return b.ToSql()
}

// keyset restricts rows to those at or after the anchor in plan order. The
// anchor's sort values are read by subquery, so an unknown anchor matches
// nothing.
func (e *Executor) keyset(table string, plan *query.Plan) (sq.Sqlizer, error) {
	anchorCol, err := e.dialect.Quote(plan.Cursor.Field)
	if err != nil {
		return nil, err
	}
	order := plan.OrderBy
	if len(order) == 0 || order[len(order)-1].Field != plan.Cursor.Field {
		order = append(append([]query.Order(nil), order...), query.Order{Field: plan.Cursor.Field, Direction: query.SortAsc})
	}

	anchorValue := func(col string) string {
		return fmt.Sprintf("(SELECT %s FROM %s WHERE %s = ?)", col, table, anchorCol)
	}

	terms := make(sq.Or, 0, len(order))
	for i, o := range order {
		conj := sq.And{}
		for _, prev := range order[:i] {
			col, err := e.dialect.Quote(prev.Field)
			if err != nil {
				return nil, err
			}
			conj = append(conj, sq.Expr(col+" = "+anchorValue(col), plan.Cursor.Value))
		}
		col, err := e.dialect.Quote(o.Field)
		if err != nil {
			return nil, err
		}
		op := ">"
		if o.Direction == query.SortDesc {
			op = "<"
		}
		if i == len(order)-1 {
			op += "="
		}
		conj = append(conj, sq.Expr(col+" "+op+" "+anchorValue(col), plan.Cursor.Value))
		terms = append(terms, conj)
	}
	return terms, nil
}

// Find runs a find plan.
func (e *Executor) Find(ctx context.Context, plan *query.Plan) ([]query.Record, error) {
	stmt, args, err := e.SelectSQL(plan)
	if err != nil {
		return nil, err
	}
	return e.query(ctx, plan.Model, stmt, args)
}

// Count runs SELECT COUNT(*) over the plan predicate.
func (e *Executor) Count(ctx context.Context, plan *query.Plan) (int64, error) {
	table, err := e.dialect.Quote(plan.Model)
	if err != nil {
		return 0, err
	}
	where, err := e.where(plan.Model, plan.Where)
	if err != nil {
		return 0, err
	}
	b := sq.Select("COUNT(*) AS total").From(table).PlaceholderFormat(e.dialect.Placeholder)
	if where != nil {
		b = b.Where(where)
	}
	stmt, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	rows, err := e.query(ctx, plan.Model, stmt, args)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toInt64(rows[0]["total"])
}

type aggColumn struct {
	kind  query.AggregateKind
	field string
	alias string
	expr  string
}

func (e *Executor) aggColumns(aggs query.Aggregations) ([]aggColumn, error) {
	kinds := make([]string, 0, len(aggs))
	for k := range aggs {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	var cols []aggColumn
	for _, k := range kinds {
		kind := query.AggregateKind(k)
		for _, field := range aggs[kind] {
			expr, err := e.aggExpr(kind, field)
			if err != nil {
				return nil, err
			}
			cols = append(cols, aggColumn{kind: kind, field: field, alias: fmt.Sprintf("agg_%d", len(cols)), expr: expr})
		}
	}
	return cols, nil
}

func (e *Executor) aggExpr(kind query.AggregateKind, field string) (string, error) {
	if kind == query.AggCount && field == query.AllRows {
		return "COUNT(*)", nil
	}
	col, err := e.dialect.Quote(field)
	if err != nil {
		return "", err
	}
	switch kind {
	case query.AggCount, query.AggSum, query.AggAvg, query.AggMin, query.AggMax:
		return strings.ToUpper(string(kind)) + "(" + col + ")", nil
	}
	return "", fmt.Errorf("unsupported aggregation %q", kind)
}

// Aggregate computes the aggregations in a single SELECT.
func (e *Executor) Aggregate(ctx context.Context, plan *query.AggregatePlan) (query.Aggregates, error) {
	table, err := e.dialect.Quote(plan.Model)
	if err != nil {
		return nil, err
	}
	cols, err := e.aggColumns(plan.Aggregations)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return query.Aggregates{}, nil
	}
	selects := make([]string, len(cols))
	for i, c := range cols {
		selects[i] = c.expr + " AS " + c.alias
	}
	where, err := e.where(plan.Model, plan.Where)
	if err != nil {
		return nil, err
	}
	b := sq.Select(selects...).From(table).PlaceholderFormat(e.dialect.Placeholder)
	if where != nil {
		b = b.Where(where)
	}
	stmt, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := e.query(ctx, plan.Model, stmt, args)
	if err != nil {
		return nil, err
	}

	out := query.Aggregates{}
	for _, c := range cols {
		if out[c.kind] == nil {
			out[c.kind] = map[string]any{}
		}
		var v any
		if len(rows) > 0 {
			v = rows[0][c.alias]
		}
		out[c.kind][c.field] = v
	}
	return out, nil
}

// GroupBy groups by the plan fields. Having keys reference aggregates as
// "_<kind>.<field>".
func (e *Executor) GroupBy(ctx context.Context, plan *query.GroupByPlan) ([]query.Record, error) {
	table, err := e.dialect.Quote(plan.Model)
	if err != nil {
		return nil, err
	}
	cols, err := e.aggColumns(plan.Aggregations)
	if err != nil {
		return nil, err
	}

	by := make([]string, len(plan.By))
	selects := make([]string, 0, len(plan.By)+len(cols))
	for i, field := range plan.By {
		if by[i], err = e.dialect.Quote(field); err != nil {
			return nil, err
		}
		selects = append(selects, by[i])
	}
	for _, c := range cols {
		selects = append(selects, c.expr+" AS "+c.alias)
	}

	where, err := e.where(plan.Model, plan.Where)
	if err != nil {
		return nil, err
	}
	b := sq.Select(selects...).From(table).PlaceholderFormat(e.dialect.Placeholder)
	if where != nil {
		b = b.Where(where)
	}
	b = b.GroupBy(by...)

	having, err := e.having(plan.Having)
	if err != nil {
		return nil, err
	}
	if having != nil {
		b = b.Having(having)
	}
	b = b.OrderBy(by...)

	stmt, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := e.query(ctx, plan.Model, stmt, args)
	if err != nil {
		return nil, err
	}

	out := make([]query.Record, len(rows))
	for i, row := range rows {
		rec := query.Record{}
		for _, field := range plan.By {
			rec[field] = row[field]
		}
		for _, c := range cols {
			key := "_" + string(c.kind)
			group, _ := rec[key].(map[string]any)
			if group == nil {
				group = map[string]any{}
				rec[key] = group
			}
			group[c.field] = row[c.alias]
		}
		out[i] = rec
	}
	return out, nil
}

func (e *Executor) having(filters predicate.Filters) (sq.Sqlizer, error) {
	b := &whereBuilder{
		dialect: e.dialect,
		column: func(_ scope, field string) (string, error) {
			kind, name, ok := strings.Cut(strings.TrimPrefix(field, "_"), ".")
			if !ok || !strings.HasPrefix(field, "_") {
				return "", fmt.Errorf("invalid having key %q", field)
			}
			return e.aggExpr(query.AggregateKind(kind), name)
		},
	}
	return b.build(scope{}, predicate.CompileFilters(filters))
}

func (e *Executor) query(ctx context.Context, table, stmt string, args []interface{}) ([]query.Record, error) {
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBQuery,
		tracing.WithDBTable(table),
		tracing.WithDBSystem(e.dialect.Name),
		tracing.WithDBStatement(stmt),
	)
	defer span.End()

	e.log.Debug("executing sql", "sql", stmt, "args", len(args))
	rows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	defer rows.Close()
	records, err := scanRows(rows)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return records, nil
}

func scanRows(rows *sql.Rows) ([]query.Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []query.Record{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(query.Record, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
			} else {
				rec[col] = values[i]
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		var out int64
		_, err := fmt.Sscan(n, &out)
		return out, err
	}
	return 0, fmt.Errorf("unexpected count type %T", v)
}
