package sqlexec

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/websyro/prismapilot/pkg/query/predicate"
)

// Relation describes how a related table joins its parent.
type Relation struct {
	// Table is the related table.
	Table string
	// LocalKey is the parent column, ForeignKey the related column.
	LocalKey   string
	ForeignKey string
}

type notExpr struct {
	inner sq.Sqlizer
}

func (n notExpr) ToSql() (string, []interface{}, error) {
	s, args, err := n.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + s + ")", args, nil
}

// scope is the table a predicate is evaluated against. Columns of nested
// scopes are qualified with their alias.
type scope struct {
	table string
	alias string
	depth int
}

type whereBuilder struct {
	dialect   Dialect
	relations map[string]map[string]Relation
	column    func(s scope, field string) (string, error)
}

func (b *whereBuilder) quoteColumn(s scope, field string) (string, error) {
	if b.column != nil {
		return b.column(s, field)
	}
	col, err := b.dialect.Quote(field)
	if err != nil {
		return "", err
	}
	if s.alias == "" {
		return col, nil
	}
	return s.alias + "." + col, nil
}

// build translates a predicate tree. A nil result means no constraint.
func (b *whereBuilder) build(s scope, n *predicate.Node) (sq.Sqlizer, error) {
	if n == nil {
		return nil, nil
	}
	switch n.Kind {
	case predicate.NodeAnd, predicate.NodeOr:
		parts := make([]sq.Sqlizer, 0, len(n.Children))
		for _, c := range n.Children {
			part, err := b.build(s, c)
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
		if len(parts) == 0 {
			if n.Kind == predicate.NodeOr {
				return sq.Expr("1=0"), nil
			}
			return nil, nil
		}
		if n.Kind == predicate.NodeOr {
			return sq.Or(parts), nil
		}
		return sq.And(parts), nil
	case predicate.NodeNot:
		inner, err := b.build(s, predicate.And(n.Children...))
		if err != nil {
			return nil, err
		}
		if inner == nil {
			return sq.Expr("1=0"), nil
		}
		return notExpr{inner: inner}, nil
	}
	if n.Op.IsRelation() {
		return b.relation(s, n)
	}

	col, err := b.quoteColumn(s, n.Field)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case predicate.OpEq:
		return sq.Eq{col: n.Value}, nil
	case predicate.OpIn:
		values, _ := n.Value.([]any)
		if len(values) == 0 {
			return sq.Expr("1=0"), nil
		}
		return sq.Eq{col: values}, nil
	case predicate.OpGte:
		return sq.GtOrEq{col: n.Value}, nil
	case predicate.OpLte:
		return sq.LtOrEq{col: n.Value}, nil
	case predicate.OpContains:
		term, ok := n.Value.(string)
		if !ok {
			term = fmt.Sprint(n.Value)
		}
		return b.dialect.contains(col, likePattern(term)), nil
	}
	return nil, fmt.Errorf("unsupported operator %q", n.Op)
}

func (b *whereBuilder) relation(s scope, n *predicate.Node) (sq.Sqlizer, error) {
	rel, ok := b.relations[s.table][n.Field]
	if !ok {
		return nil, fmt.Errorf("unknown relation %q on %q", n.Field, s.table)
	}
	table, err := b.dialect.Quote(rel.Table)
	if err != nil {
		return nil, err
	}
	child := scope{table: rel.Table, alias: fmt.Sprintf("r%d", s.depth+1), depth: s.depth + 1}

	parentTable := s.alias
	if parentTable == "" {
		if parentTable, err = b.dialect.Quote(s.table); err != nil {
			return nil, err
		}
	}
	local, err := b.dialect.Quote(rel.LocalKey)
	if err != nil {
		return nil, err
	}
	foreign, err := b.dialect.Quote(rel.ForeignKey)
	if err != nil {
		return nil, err
	}

	sub, err := b.build(child, n.Sub)
	if err != nil {
		return nil, err
	}
	if n.Op == predicate.OpEvery {
		if sub == nil {
			return nil, nil
		}
		sub = notExpr{inner: sub}
	}

	conds := sq.And{sq.Expr(fmt.Sprintf("%s.%s = %s.%s", child.alias, foreign, parentTable, local))}
	if sub != nil {
		conds = append(conds, sub)
	}
	subquery, args, err := sq.Select("1").From(table + " AS " + child.alias).Where(conds).ToSql()
	if err != nil {
		return nil, err
	}
	if n.Op == predicate.OpSome {
		return sq.Expr("EXISTS ("+subquery+")", args...), nil
	}
	return sq.Expr("NOT EXISTS ("+subquery+")", args...), nil
}
