package mongoexec

import (
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/websyro/prismapilot/pkg/query"
	"github.com/websyro/prismapilot/pkg/query/predicate"
)

// Filter translates a predicate into a MongoDB query document. Relations are
// expected to be embedded arrays of sub-documents.
func Filter(n *predicate.Node) (bson.M, error) {
	f, err := translate(n, nil)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return bson.M{}, nil
	}
	return f, nil
}

// translate returns nil for "no constraint". field maps predicate fields to
// document paths; nil keeps them as-is.
func translate(n *predicate.Node, field func(string) (string, error)) (bson.M, error) {
	if n == nil {
		return nil, nil
	}
	switch n.Kind {
	case predicate.NodeAnd, predicate.NodeOr:
		parts := bson.A{}
		for _, c := range n.Children {
			part, err := translate(c, field)
			if err != nil {
				return nil, err
			}
			if part == nil {
				if n.Kind == predicate.NodeOr {
					return nil, nil
				}
				continue
			}
			parts = append(parts, part)
		}
		switch {
		case len(parts) == 0:
			return nil, nil
		case len(parts) == 1:
			return parts[0].(bson.M), nil
		case n.Kind == predicate.NodeOr:
			return bson.M{"$or": parts}, nil
		default:
			return bson.M{"$and": parts}, nil
		}
	case predicate.NodeNot:
		inner, err := translate(predicate.And(n.Children...), field)
		if err != nil {
			return nil, err
		}
		if inner == nil {
			return bson.M{"$expr": false}, nil
		}
		return bson.M{"$nor": bson.A{inner}}, nil
	}

	path := n.Field
	if field != nil {
		var err error
		if path, err = field(n.Field); err != nil {
			return nil, err
		}
	}

	switch n.Op {
	case predicate.OpEq:
		return bson.M{path: bson.M{"$eq": n.Value}}, nil
	case predicate.OpIn:
		values, _ := n.Value.([]any)
		if values == nil {
			values = []any{}
		}
		return bson.M{path: bson.M{"$in": values}}, nil
	case predicate.OpGte:
		return bson.M{path: bson.M{"$gte": n.Value}}, nil
	case predicate.OpLte:
		return bson.M{path: bson.M{"$lte": n.Value}}, nil
	case predicate.OpContains:
		return bson.M{path: bson.M{"$regex": regexp.QuoteMeta(fmt.Sprint(n.Value)), "$options": "i"}}, nil
	case predicate.OpSome, predicate.OpNone, predicate.OpEvery:
		return relation(path, n)
	}
	return nil, fmt.Errorf("unsupported operator %q", n.Op)
}

func relation(path string, n *predicate.Node) (bson.M, error) {
	sub, err := translate(n.Sub, nil)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case predicate.OpSome:
		if sub == nil {
			return bson.M{path + ".0": bson.M{"$exists": true}}, nil
		}
		return bson.M{path: bson.M{"$elemMatch": sub}}, nil
	case predicate.OpNone:
		if sub == nil {
			return bson.M{path + ".0": bson.M{"$exists": false}}, nil
		}
		return bson.M{path: bson.M{"$not": bson.M{"$elemMatch": sub}}}, nil
	default:
		if sub == nil {
			return nil, nil
		}
		return bson.M{path: bson.M{"$not": bson.M{"$elemMatch": bson.M{"$nor": bson.A{sub}}}}}, nil
	}
}

// Sort converts plan ordering to a sort document.
func Sort(order []query.Order) bson.D {
	d := bson.D{}
	for _, o := range order {
		dir := 1
		if o.Direction == query.SortDesc {
			dir = -1
		}
		d = append(d, bson.E{Key: o.Field, Value: dir})
	}
	return d
}

// Projection converts a plan projection. Select and Include keys are both
// kept; nil means the whole document.
func Projection(p *query.Projection) bson.M {
	if p == nil || len(p.Select) == 0 {
		return nil
	}
	out := bson.M{}
	for _, f := range p.Select {
		out[f] = 1
	}
	for f := range p.Include {
		out[f] = 1
	}
	return out
}

// Keyset restricts documents to those at or after anchor in order. anchor
// holds the sort values of the cursor document.
func Keyset(order []query.Order, anchor map[string]any) bson.M {
	terms := bson.A{}
	for i, o := range order {
		term := bson.M{}
		for _, prev := range order[:i] {
			term[prev.Field] = bson.M{"$eq": anchor[prev.Field]}
		}
		op := "$gt"
		if o.Direction == query.SortDesc {
			op = "$lt"
		}
		if i == len(order)-1 {
			op += "e"
		}
		term[o.Field] = bson.M{op: anchor[o.Field]}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return terms[0].(bson.M)
	}
	return bson.M{"$or": terms}
}
