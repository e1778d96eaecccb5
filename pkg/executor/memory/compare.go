package memory

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// compareValues orders a and b: numbers numerically, times chronologically,
// everything else by string form. ok is false when either side is nil.
func compareValues(a, b any) (cmp int, ok bool) {
	if isNil(a) || isNil(b) {
		return 0, false
	}
	if f1, ok1 := toFloat(a); ok1 {
		if f2, ok2 := toFloat(b); ok2 {
			return compareOrdered(f1, f2), true
		}
	}
	_, aIsTime := a.(time.Time)
	_, bIsTime := b.(time.Time)
	if aIsTime || bIsTime {
		t1, ok1 := toTime(a)
		t2, ok2 := toTime(b)
		if ok1 && ok2 {
			return t1.Compare(t2), true
		}
	}
	if b1, ok1 := a.(bool); ok1 {
		if b2, ok2 := b.(bool); ok2 {
			switch {
			case b1 == b2:
				return 0, true
			case !b1:
				return -1, true
			default:
				return 1, true
			}
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)), true
}

func compareOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func equalValues(a, b any) bool {
	if isNil(a) || isNil(b) {
		return isNil(a) && isNil(b)
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	switch a.(type) {
	case map[string]any, []any:
		return false
	}
	if !comparableKinds(a, b) {
		return false
	}
	cmp, ok := compareValues(a, b)
	return ok && cmp == 0
}

// sortCompare orders values with nil first.
func sortCompare(a, b any) int {
	switch {
	case isNil(a) && isNil(b):
		return 0
	case isNil(a):
		return -1
	case isNil(b):
		return 1
	}
	cmp, _ := compareValues(a, b)
	return cmp
}

type valueKind int

const (
	kindOther valueKind = iota
	kindNumber
	kindString
	kindBool
	kindTime
)

func kindOf(v any) valueKind {
	if _, ok := toFloat(v); ok {
		return kindNumber
	}
	switch v.(type) {
	case string:
		return kindString
	case bool:
		return kindBool
	case time.Time, *time.Time:
		return kindTime
	}
	return kindOther
}

// comparableKinds reports whether a and b may be equal. Primitives of
// different kinds never are, except a time against its RFC 3339 string.
func comparableKinds(a, b any) bool {
	ka, kb := kindOf(a), kindOf(b)
	if ka == kb || ka == kindOther || kb == kindOther {
		return true
	}
	return (ka == kindTime && kb == kindString) || (ka == kindString && kb == kindTime)
}
