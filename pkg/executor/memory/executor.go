// Package memory implements query.Executor over in-process record slices.
// It evaluates plans directly and serves as the reference executor.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/websyro/prismapilot/pkg/query"
)

// Executor holds records per model.
type Executor struct {
	mu     sync.RWMutex
	models map[string][]query.Record
}

// New creates an empty executor.
func New() *Executor {
	return &Executor{models: make(map[string][]query.Record)}
}

// NewFromFile loads a JSON document of the form {"model": [rows...]}.
func NewFromFile(path string) (*Executor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	var models map[string][]query.Record
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}
	e := New()
	for model, rows := range models {
		e.Insert(model, rows...)
	}
	return e, nil
}

// Insert appends rows to a model.
func (e *Executor) Insert(model string, rows ...query.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.models[model] = append(e.models[model], rows...)
}

// Models returns the known model names, sorted.
func (e *Executor) Models() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.models))
	for name := range e.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Executor) filter(model string, where func(query.Record) bool) []query.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []query.Record
	for _, row := range e.models[model] {
		if where(row) {
			out = append(out, row)
		}
	}
	return out
}

// Find evaluates the plan. A cursor whose anchor row is not in the filtered
// set yields no rows.
func (e *Executor) Find(ctx context.Context, plan *query.Plan) ([]query.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows := e.filter(plan.Model, func(r query.Record) bool { return matches(plan.Where, r) })
	sortRows(rows, plan.OrderBy)

	if plan.Cursor != nil {
		start := -1
		for i, r := range rows {
			if v, _ := lookup(r, plan.Cursor.Field); equalValues(v, plan.Cursor.Value) {
				start = i
				break
			}
		}
		if start < 0 {
			return []query.Record{}, nil
		}
		rows = rows[start:]
	}

	rows = window(rows, plan.Skip, plan.Take)
	out := make([]query.Record, len(rows))
	for i, r := range rows {
		out[i] = project(r, plan.Projection)
	}
	return out, nil
}

// Count returns the number of rows matching the plan predicate.
func (e *Executor) Count(ctx context.Context, plan *query.Plan) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rows := e.filter(plan.Model, func(r query.Record) bool { return matches(plan.Where, r) })
	return int64(len(rows)), nil
}

// Aggregate computes the requested aggregations over the matching rows.
func (e *Executor) Aggregate(ctx context.Context, plan *query.AggregatePlan) (query.Aggregates, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows := e.filter(plan.Model, func(r query.Record) bool { return matches(plan.Where, r) })
	return aggregate(rows, plan.Aggregations), nil
}

// GroupBy groups the matching rows and applies Having to the aggregated
// groups. Groups are returned ordered by their key values.
func (e *Executor) GroupBy(ctx context.Context, plan *query.GroupByPlan) ([]query.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows := e.filter(plan.Model, func(r query.Record) bool { return matches(plan.Where, r) })

	type group struct {
		key  query.Record
		rows []query.Record
	}
	var (
		order  []string
		groups = map[string]*group{}
	)
	for _, r := range rows {
		key := query.Record{}
		parts := make([]string, len(plan.By))
		for i, field := range plan.By {
			v, _ := lookup(r, field)
			key[field] = v
			parts[i] = fmt.Sprintf("%T:%v", v, v)
		}
		id := strings.Join(parts, "\x00")
		g, ok := groups[id]
		if !ok {
			g = &group{key: key}
			groups[id] = g
			order = append(order, id)
		}
		g.rows = append(g.rows, r)
	}

	out := make([]query.Record, 0, len(order))
	for _, id := range order {
		g := groups[id]
		result := query.Record{}
		for k, v := range g.key {
			result[k] = v
		}
		aggs := aggregate(g.rows, withGroupCount(plan.Aggregations))
		for kind, fields := range aggs {
			if _, requested := plan.Aggregations[kind]; requested {
				result["_"+string(kind)] = fields
			}
		}
		if !matches(havingNode(plan.Having), flattenAggregates(aggs)) {
			continue
		}
		out = append(out, result)
	}

	orderBy := make([]query.Order, len(plan.By))
	for i, field := range plan.By {
		orderBy[i] = query.Order{Field: field, Direction: query.SortAsc}
	}
	sortRows(out, orderBy)
	return out, nil
}

func sortRows(rows []query.Record, orderBy []query.Order) {
	if len(orderBy) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range orderBy {
			a, _ := lookup(rows[i], o.Field)
			b, _ := lookup(rows[j], o.Field)
			cmp := sortCompare(a, b)
			if cmp == 0 {
				continue
			}
			if o.Direction == query.SortDesc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func window(rows []query.Record, skip, take int) []query.Record {
	if skip >= len(rows) {
		return []query.Record{}
	}
	if skip > 0 {
		rows = rows[skip:]
	}
	if take > 0 && take < len(rows) {
		rows = rows[:take]
	}
	return rows
}

func project(row query.Record, p *query.Projection) query.Record {
	out := query.Record{}
	if p == nil || len(p.Select) == 0 {
		for k, v := range row {
			out[k] = v
		}
	} else {
		for _, field := range p.Select {
			if v, ok := row[field]; ok {
				out[field] = v
			}
		}
	}
	if p != nil {
		for field := range p.Include {
			if v, ok := row[field]; ok {
				out[field] = v
			}
		}
	}
	return out
}
