// Package predicate compiles loosely typed filter and search input into a
// predicate tree of AND/OR/NOT nodes over atomic field conditions.
//
// A nil *Node means "no constraint". Combinators never produce empty AND/OR
// nodes and never wrap a single child.
package predicate

import (
	"fmt"
	"strings"
)

// NodeKind identifies the role of a node in the predicate tree.
type NodeKind string

// Node kinds.
const (
	NodeAnd  NodeKind = "and"
	NodeOr   NodeKind = "or"
	NodeNot  NodeKind = "not"
	NodeLeaf NodeKind = "leaf"
)

// Operator is the comparison applied by a leaf.
type Operator string

// Leaf operators. Some, None and Every are relation existence predicates whose
// nested constraint lives in Node.Sub.
const (
	OpEq       Operator = "eq"
	OpIn       Operator = "in"
	OpGte      Operator = "gte"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
	OpSome     Operator = "some"
	OpNone     Operator = "none"
	OpEvery    Operator = "every"
)

// IsRelation reports whether the operator quantifies over related records.
func (o Operator) IsRelation() bool {
	return o == OpSome || o == OpNone || o == OpEvery
}

// Node is one element of a predicate tree.
type Node struct {
	Kind     NodeKind `json:"kind"`
	Children []*Node  `json:"children,omitempty"`
	Field    string   `json:"field,omitempty"`
	Op       Operator `json:"op,omitempty"`
	Value    any      `json:"value,omitempty"`
	Sub      *Node    `json:"sub,omitempty"`
}

// Leaf builds an atomic field comparison.
func Leaf(field string, op Operator, value any) *Node {
	return &Node{Kind: NodeLeaf, Field: field, Op: op, Value: value}
}

// Relation builds a relation existence leaf. A nil sub matches any related
// record.
func Relation(field string, op Operator, sub *Node) *Node {
	return &Node{Kind: NodeLeaf, Field: field, Op: op, Sub: sub}
}

// And combines nodes with conjunction semantics. Nil inputs are ignored; no
// input yields nil and a single input is returned unwrapped.
func And(nodes ...*Node) *Node {
	return combine(NodeAnd, nodes)
}

// Or combines nodes with alternative-match semantics, following the same
// unwrapping rules as And.
func Or(nodes ...*Node) *Node {
	return combine(NodeOr, nodes)
}

// Not negates the conjunction of nodes. Negating nothing yields nil, not a
// contradiction.
func Not(nodes ...*Node) *Node {
	inner := And(nodes...)
	if inner == nil {
		return nil
	}
	return &Node{Kind: NodeNot, Children: []*Node{inner}}
}

func combine(kind NodeKind, nodes []*Node) *Node {
	kept := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			kept = append(kept, n)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &Node{Kind: kind, Children: kept}
	}
}

// String renders the tree in a compact prefix notation used in logs and tests,
// for example and(eq(status,"active"),gte(age,18)).
func (n *Node) String() string {
	if n == nil {
		return "true"
	}
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n *Node) write(b *strings.Builder) {
	switch n.Kind {
	case NodeAnd, NodeOr, NodeNot:
		b.WriteString(string(n.Kind))
		b.WriteByte('(')
		for i, child := range n.Children {
			if i > 0 {
				b.WriteByte(',')
			}
			child.write(b)
		}
		b.WriteByte(')')
	default:
		b.WriteString(string(n.Op))
		b.WriteByte('(')
		b.WriteString(n.Field)
		if n.Op.IsRelation() {
			if n.Sub != nil {
				b.WriteByte(',')
				n.Sub.write(b)
			}
		} else {
			fmt.Fprintf(b, ",%s", formatValue(n.Value))
		}
		b.WriteByte(')')
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", t)
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprintf("%v", t)
	}
}
