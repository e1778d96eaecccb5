package predicate

import (
	"encoding/json"
	"reflect"
	"sort"
)

// ConditionKind discriminates the shape of a filter condition.
type ConditionKind int

// Condition kinds. The zero value marks an absent condition which is dropped
// during compilation.
const (
	CondAbsent ConditionKind = iota
	CondExact
	CondIn
	CondRange
	CondBool
)

// String returns the kind name.
func (k ConditionKind) String() string {
	switch k {
	case CondExact:
		return "exact"
	case CondIn:
		return "in"
	case CondRange:
		return "range"
	case CondBool:
		return "bool"
	default:
		return "absent"
	}
}

// Condition is a single field constraint resolved from loosely typed input.
type Condition struct {
	Kind   ConditionKind
	Value  any
	Values []any
	From   any
	To     any
}

// Eq matches a field exactly. A nil value matches null fields.
func Eq(value any) Condition {
	return Condition{Kind: CondExact, Value: value}
}

// In matches a field against any of the given values.
func In(values ...any) Condition {
	if values == nil {
		values = []any{}
	}
	return Condition{Kind: CondIn, Values: values}
}

// Between matches from <= field <= to. Either bound may be nil.
func Between(from, to any) Condition {
	return Condition{Kind: CondRange, From: from, To: to}
}

// AtLeast matches field >= from.
func AtLeast(from any) Condition {
	return Between(from, nil)
}

// AtMost matches field <= to.
func AtMost(to any) Condition {
	return Between(nil, to)
}

// Is matches a boolean flag.
func Is(flag bool) Condition {
	return Condition{Kind: CondBool, Value: flag}
}

// IsAbsent reports whether the condition carries no constraint at all.
func (c Condition) IsAbsent() bool {
	return c.Kind == CondAbsent
}

// Resolve classifies a raw filter value by its shape: arrays become In,
// objects exposing from/to become Range, booleans become Bool and every other
// value (including unrecognized objects) is forwarded as Exact.
func Resolve(raw any) Condition {
	switch v := raw.(type) {
	case Condition:
		return v
	case nil:
		return Eq(nil)
	case bool:
		return Is(v)
	case []any:
		return In(v...)
	case map[string]any:
		from, hasFrom := v["from"]
		to, hasTo := v["to"]
		if hasFrom || hasTo {
			return Between(from, to)
		}
		return Eq(v)
	}

	rv := reflect.ValueOf(raw)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
		values := make([]any, rv.Len())
		for i := range values {
			values[i] = rv.Index(i).Interface()
		}
		return In(values...)
	}
	return Eq(raw)
}

// MarshalJSON writes the condition back in the loose input shape so that a
// decoded condition resolves to the same kind.
func (c Condition) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case CondIn:
		values := c.Values
		if values == nil {
			values = []any{}
		}
		return json.Marshal(values)
	case CondRange:
		return json.Marshal(map[string]any{"from": c.From, "to": c.To})
	case CondExact, CondBool:
		return json.Marshal(c.Value)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON resolves the condition shape once, at ingestion.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Resolve(raw)
	return nil
}

// Filters maps field names to conditions. Independently named keys are ANDed.
type Filters map[string]Condition

// ParseFilters resolves every raw value of a loosely typed filter map.
func ParseFilters(raw map[string]any) Filters {
	if raw == nil {
		return nil
	}
	out := make(Filters, len(raw))
	for field, value := range raw {
		out[field] = Resolve(value)
	}
	return out
}

// Fields returns the filter keys in sorted order.
func (f Filters) Fields() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON skips absent conditions.
func (f Filters) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	out := make(map[string]Condition, len(f))
	for k, c := range f {
		if c.IsAbsent() {
			continue
		}
		out[k] = c
	}
	return json.Marshal(out)
}

// RelationKind is the existence quantifier of a relation filter.
type RelationKind string

// Relation quantifiers.
const (
	RelationSome  RelationKind = "some"
	RelationNone  RelationKind = "none"
	RelationEvery RelationKind = "every"
)

// RelationFilter constrains the records reachable through a relation. A nil
// quantifier is unset; an empty non-nil one only asserts existence.
type RelationFilter struct {
	Some  Filters
	None  Filters
	Every Filters
}

// Some matches when at least one related record satisfies where.
func Some(where Filters) RelationFilter {
	if where == nil {
		where = Filters{}
	}
	return RelationFilter{Some: where}
}

// None matches when no related record satisfies where.
func None(where Filters) RelationFilter {
	if where == nil {
		where = Filters{}
	}
	return RelationFilter{None: where}
}

// Every matches when all related records satisfy where.
func Every(where Filters) RelationFilter {
	if where == nil {
		where = Filters{}
	}
	return RelationFilter{Every: where}
}

// ResolveRelation reads a relation filter from loose input. An object without
// a some/none/every discriminator is a direct match against the nested fields
// and behaves like some.
func ResolveRelation(raw map[string]any) RelationFilter {
	var rf RelationFilter
	discriminated := false
	for kind, value := range raw {
		nested, _ := value.(map[string]any)
		switch RelationKind(kind) {
		case RelationSome:
			rf.Some = nonNil(ParseFilters(nested))
			discriminated = true
		case RelationNone:
			rf.None = nonNil(ParseFilters(nested))
			discriminated = true
		case RelationEvery:
			rf.Every = nonNil(ParseFilters(nested))
			discriminated = true
		}
	}
	if !discriminated && len(raw) > 0 {
		rf.Some = ParseFilters(raw)
	}
	return rf
}

// UnmarshalJSON accepts both the discriminated and the implicit form.
func (rf *RelationFilter) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*rf = ResolveRelation(raw)
	return nil
}

// MarshalJSON always writes the discriminated form.
func (rf RelationFilter) MarshalJSON() ([]byte, error) {
	out := map[string]Filters{}
	if rf.Some != nil {
		out[string(RelationSome)] = rf.Some
	}
	if rf.None != nil {
		out[string(RelationNone)] = rf.None
	}
	if rf.Every != nil {
		out[string(RelationEvery)] = rf.Every
	}
	return json.Marshal(out)
}

// RelationFilters maps relation names to their filters.
type RelationFilters map[string]RelationFilter

func nonNil(f Filters) Filters {
	if f == nil {
		return Filters{}
	}
	return f
}
