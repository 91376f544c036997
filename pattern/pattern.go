// Package pattern implements structural matching over decoded JSON values.
//
// A Pattern is one of Literal, Predicate, Wildcard, Nested or a composition built
// with AnyOf / AllOf. Values are expected in the shape produced by encoding/json
// when decoding into an `any` (map[string]any, []any, string, float64, bool, nil);
// other Go values are normalised through a JSON round trip before comparison.
package pattern

import (
	"encoding/json"
	"reflect"
	"strconv"
)

// Pattern is a node of a structural query.
type Pattern interface {
	isPattern()
}

// Literal matches values equal to Value.
type Literal struct {
	Value any
}

// Predicate matches values for which the function returns true.
type Predicate func(value any) bool

// Nested matches objects (and arrays, keyed by decimal index) that contain every
// field of the pattern. In exact mode the key sets must be equal.
type Nested map[string]Pattern

type wildcard struct{}

type anyOf []Pattern

type allOf []Pattern

func (Literal) isPattern()   {}
func (Predicate) isPattern() {}
func (Nested) isPattern()    {}
func (wildcard) isPattern()  {}
func (anyOf) isPattern()     {}
func (allOf) isPattern()     {}

// Wildcard matches any value.
var Wildcard Pattern = wildcard{}

// Eq returns a Literal for v.
func Eq(v any) Pattern {
	return Literal{Value: Normalize(v)}
}

// AnyOf matches when at least one alternative matches.
func AnyOf(alternatives ...Pattern) Pattern {
	return anyOf(alternatives)
}

// AllOf matches when every alternative matches.
func AllOf(alternatives ...Pattern) Pattern {
	return allOf(alternatives)
}

// Matches reports whether value satisfies p.
func Matches(value any, p Pattern, exact bool) bool {
	switch p := p.(type) {
	case wildcard:
		return true
	case Predicate:
		return p != nil && p(value)
	case anyOf:
		for _, alt := range p {
			if Matches(value, alt, exact) {
				return true
			}
		}
		return false
	case allOf:
		for _, alt := range p {
			if !Matches(value, alt, exact) {
				return false
			}
		}
		return true
	case Nested:
		fields, ok := entries(value)
		if !ok {
			return false
		}
		if exact && len(fields) != len(p) {
			return false
		}
		for key, sub := range p {
			v, ok := fields[key]
			if !ok {
				return false
			}
			if !Matches(v, sub, exact) {
				return false
			}
		}
		return true
	case Literal:
		return equal(value, p.Value)
	case nil:
		return value == nil
	}
	return false
}

// FromValue lifts a value into a pattern tree: objects and arrays become Nested,
// everything else a Literal. Patterns are returned unchanged.
func FromValue(v any) Pattern {
	if p, ok := v.(Pattern); ok {
		return p
	}
	switch v := Normalize(v).(type) {
	case map[string]any:
		out := make(Nested, len(v))
		for key, item := range v {
			out[key] = FromValue(item)
		}
		return out
	case []any:
		out := make(Nested, len(v))
		for i, item := range v {
			out[strconv.Itoa(i)] = FromValue(item)
		}
		return out
	default:
		return Literal{Value: v}
	}
}

// ValueOf lowers a literal-only pattern back into a value. It returns false when
// the tree contains a predicate, wildcard or composition.
func ValueOf(p Pattern) (any, bool) {
	switch p := p.(type) {
	case Literal:
		return p.Value, true
	case Nested:
		out := make(map[string]any, len(p))
		for key, sub := range p {
			v, ok := ValueOf(sub)
			if !ok {
				return nil, false
			}
			out[key] = v
		}
		return out, true
	}
	return nil, false
}

// Normalize converts v into the generic JSON value space.
func Normalize(v any) any {
	switch v := v.(type) {
	case nil, bool, string, float64:
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Normalize(item)
		}
		return out
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil
		}
		return out
	case Pattern:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func entries(value any) (map[string]any, bool) {
	switch v := Normalize(value).(type) {
	case map[string]any:
		return v, true
	case []any:
		out := make(map[string]any, len(v))
		for i, item := range v {
			out[strconv.Itoa(i)] = item
		}
		return out, true
	}
	return nil, false
}

func equal(a, b any) bool {
	a, b = Normalize(a), Normalize(b)
	switch a.(type) {
	case nil, bool, string, float64:
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
