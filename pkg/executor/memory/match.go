package memory

import (
	"strings"

	"github.com/websyro/prismapilot/pkg/query"
	"github.com/websyro/prismapilot/pkg/query/predicate"
)

// lookup resolves a dotted path against nested maps.
func lookup(row map[string]any, path string) (any, bool) {
	var cur any = row
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case query.Record:
		return m, true
	}
	return nil, false
}

// related returns the rows of a relation field. A single embedded object
// counts as a one-element relation.
func related(v any) []map[string]any {
	switch r := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]map[string]any, 0, len(r))
		for _, item := range r {
			if m, ok := asMap(item); ok {
				out = append(out, m)
			}
		}
		return out
	case []map[string]any:
		return r
	case []query.Record:
		out := make([]map[string]any, len(r))
		for i := range r {
			out[i] = r[i]
		}
		return out
	}
	if m, ok := asMap(v); ok {
		return []map[string]any{m}
	}
	return nil
}

// matches evaluates a predicate against a row. A nil node matches everything.
func matches(n *predicate.Node, row map[string]any) bool {
	if n == nil {
		return true
	}
	switch n.Kind {
	case predicate.NodeAnd:
		for _, c := range n.Children {
			if !matches(c, row) {
				return false
			}
		}
		return true
	case predicate.NodeOr:
		for _, c := range n.Children {
			if matches(c, row) {
				return true
			}
		}
		return false
	case predicate.NodeNot:
		for _, c := range n.Children {
			if !matches(c, row) {
				return true
			}
		}
		return len(n.Children) == 0
	}
	return matchLeaf(n, row)
}

func matchLeaf(n *predicate.Node, row map[string]any) bool {
	actual, _ := lookup(row, n.Field)
	switch n.Op {
	case predicate.OpEq:
		return equalValues(actual, n.Value)
	case predicate.OpIn:
		values, _ := n.Value.([]any)
		for _, v := range values {
			if equalValues(actual, v) {
				return true
			}
		}
		return false
	case predicate.OpGte:
		cmp, ok := compareValues(actual, n.Value)
		return ok && cmp >= 0
	case predicate.OpLte:
		cmp, ok := compareValues(actual, n.Value)
		return ok && cmp <= 0
	case predicate.OpContains:
		s, ok := actual.(string)
		term, _ := n.Value.(string)
		return ok && strings.Contains(strings.ToLower(s), strings.ToLower(term))
	case predicate.OpSome:
		for _, r := range related(actual) {
			if matches(n.Sub, r) {
				return true
			}
		}
		return false
	case predicate.OpNone:
		for _, r := range related(actual) {
			if matches(n.Sub, r) {
				return false
			}
		}
		return true
	case predicate.OpEvery:
		for _, r := range related(actual) {
			if !matches(n.Sub, r) {
				return false
			}
		}
		return true
	}
	return false
}
