package memory

import (
	"github.com/websyro/prismapilot/pkg/query"
	"github.com/websyro/prismapilot/pkg/query/predicate"
)

func aggregate(rows []query.Record, aggs query.Aggregations) query.Aggregates {
	out := query.Aggregates{}
	for kind, fields := range aggs {
		values := make(map[string]any, len(fields))
		for _, field := range fields {
			values[field] = aggregateField(rows, kind, field)
		}
		out[kind] = values
	}
	return out
}

func aggregateField(rows []query.Record, kind query.AggregateKind, field string) any {
	if kind == query.AggCount {
		if field == query.AllRows {
			return int64(len(rows))
		}
		var n int64
		for _, r := range rows {
			if v, ok := lookup(r, field); ok && !isNil(v) {
				n++
			}
		}
		return n
	}

	var (
		sum     float64
		numeric int
		best    any
	)
	for _, r := range rows {
		v, ok := lookup(r, field)
		if !ok || isNil(v) {
			continue
		}
		if f, ok := toFloat(v); ok {
			sum += f
			numeric++
		}
		if best == nil {
			best = v
			continue
		}
		cmp, _ := compareValues(v, best)
		if (kind == query.AggMin && cmp < 0) || (kind == query.AggMax && cmp > 0) {
			best = v
		}
	}

	switch kind {
	case query.AggSum:
		if numeric == 0 {
			return nil
		}
		return sum
	case query.AggAvg:
		if numeric == 0 {
			return nil
		}
		return sum / float64(numeric)
	case query.AggMin, query.AggMax:
		return best
	}
	return nil
}

// withGroupCount makes sure the row count of a group is computed so that
// Having can reference it.
func withGroupCount(aggs query.Aggregations) query.Aggregations {
	out := make(query.Aggregations, len(aggs)+1)
	for kind, fields := range aggs {
		out[kind] = fields
	}
	for _, f := range out[query.AggCount] {
		if f == query.AllRows {
			return out
		}
	}
	out[query.AggCount] = append(append([]string(nil), out[query.AggCount]...), query.AllRows)
	return out
}

func flattenAggregates(aggs query.Aggregates) map[string]any {
	out := make(map[string]any, len(aggs))
	for kind, fields := range aggs {
		out["_"+string(kind)] = fields
	}
	return out
}

func havingNode(having predicate.Filters) *predicate.Node {
	return predicate.CompileFilters(having)
}
