package predicate

import "sort"

// CompileFilters compiles every present condition into one subtree per field
// and ANDs them. Fields are visited in sorted order so that equal inputs
// always compile to equal trees.
func CompileFilters(filters Filters) *Node {
	if len(filters) == 0 {
		return nil
	}
	nodes := make([]*Node, 0, len(filters))
	for _, field := range filters.Fields() {
		nodes = append(nodes, CompileCondition(field, filters[field]))
	}
	return And(nodes...)
}

// CompileCondition compiles a single field condition. Absent conditions and
// ranges without bounds compile to nil.
func CompileCondition(field string, c Condition) *Node {
	switch c.Kind {
	case CondExact, CondBool:
		return Leaf(field, OpEq, c.Value)
	case CondIn:
		values := c.Values
		if values == nil {
			values = []any{}
		}
		return Leaf(field, OpIn, values)
	case CondRange:
		var bounds []*Node
		if c.From != nil {
			bounds = append(bounds, Leaf(field, OpGte, c.From))
		}
		if c.To != nil {
			bounds = append(bounds, Leaf(field, OpLte, c.To))
		}
		return And(bounds...)
	default:
		return nil
	}
}

// CompileRelations compiles one existence leaf per quantifier of every
// relation, ANDed across relations.
func CompileRelations(relations RelationFilters) *Node {
	if len(relations) == 0 {
		return nil
	}
	names := make([]string, 0, len(relations))
	for name := range relations {
		names = append(names, name)
	}
	sort.Strings(names)

	nodes := make([]*Node, 0, len(relations))
	for _, name := range names {
		rf := relations[name]
		if rf.Some != nil {
			nodes = append(nodes, Relation(name, OpSome, CompileFilters(rf.Some)))
		}
		if rf.None != nil {
			nodes = append(nodes, Relation(name, OpNone, CompileFilters(rf.None)))
		}
		if rf.Every != nil {
			nodes = append(nodes, Relation(name, OpEvery, CompileFilters(rf.Every)))
		}
	}
	return And(nodes...)
}

// CompileSearch ORs a case-insensitive substring match of term across fields.
// An empty term or an empty field list is no constraint.
func CompileSearch(term string, fields []string) *Node {
	if term == "" || len(fields) == 0 {
		return nil
	}
	nodes := make([]*Node, 0, len(fields))
	for _, field := range fields {
		if field == "" {
			continue
		}
		nodes = append(nodes, Leaf(field, OpContains, term))
	}
	return Or(nodes...)
}
