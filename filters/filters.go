// Package filters maintains the inclusion queries that decide which renderer
// resources the debugger lists.
package filters

import (
	"fmt"
	"slices"

	"hard-bridge/pattern"
)

// Type names a resource category.
type Type int

const (
	RenderTarget Type = iota
	Mesh
	Image
	Material
)

var typeNames = map[Type]string{
	RenderTarget: "RenderTarget",
	Mesh:         "Mesh",
	Image:        "Image",
	Material:     "Material",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType resolves a category name such as "Mesh".
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown filter type %q", name)
}

// State is the filter configuration. Each list holds queries in insertion
// order and never holds an entry matching another one added later.
type State struct {
	Enabled       bool
	RenderTargets []pattern.Pattern
	Meshes        []pattern.Pattern
	Images        []pattern.Pattern
	Materials     []pattern.Pattern
}

// List returns the queries of one category.
func (s State) List(t Type) []pattern.Pattern {
	switch t {
	case RenderTarget:
		return s.RenderTargets
	case Mesh:
		return s.Meshes
	case Image:
		return s.Images
	case Material:
		return s.Materials
	}
	return nil
}

func (s *State) set(t Type, list []pattern.Pattern) {
	switch t {
	case RenderTarget:
		s.RenderTargets = list
	case Mesh:
		s.Meshes = list
	case Image:
		s.Images = list
	case Material:
		s.Materials = list
	}
}

// Includes reports whether a resource passes the filters: always when
// filtering is disabled, otherwise when any query of its category matches.
// Materials are identified by {id, signature} and matched exactly.
func (s State) Includes(t Type, value any) bool {
	if !s.Enabled {
		return true
	}
	exact := t == Material
	for _, q := range s.List(t) {
		if pattern.Matches(value, q, exact) {
			return true
		}
	}
	return false
}

// IncludesMaterial reports whether the material with the given id is listed:
// always when filtering is disabled, otherwise when any stored material query
// names that id, whatever its signature.
func (s State) IncludesMaterial(id any) bool {
	if !s.Enabled {
		return true
	}
	query := pattern.Nested{"id": pattern.Eq(id), "signature": pattern.Wildcard}
	for _, item := range s.Materials {
		if covers(item, query) {
			return true
		}
	}
	return false
}

// Action is a filter store mutation.
type Action interface {
	apply(State) State
}

type Enable struct {
	Mode bool
}

type Add struct {
	Type  Type
	Query pattern.Pattern
}

// BulkAdd adds every query of every category with the same rule as Add.
type BulkAdd struct {
	RenderTargets []pattern.Pattern
	Meshes        []pattern.Pattern
	Images        []pattern.Pattern
	Materials     []pattern.Pattern
}

type Remove struct {
	Type  Type
	Query pattern.Pattern
}

// Clear empties one category, or all of them when Type is nil.
type Clear struct {
	Type *Type
}

// Reduce applies action to state and returns the new state. The input state is
// never modified.
func Reduce(state State, action Action) State {
	if action == nil {
		return state
	}
	return action.apply(state)
}

func (a Enable) apply(s State) State {
	s.Enabled = a.Mode
	return s
}

func (a Add) apply(s State) State {
	s.set(a.Type, add(s.List(a.Type), a.Query))
	return s
}

func (a BulkAdd) apply(s State) State {
	for t, queries := range map[Type][]pattern.Pattern{
		RenderTarget: a.RenderTargets,
		Mesh:         a.Meshes,
		Image:        a.Images,
		Material:     a.Materials,
	} {
		list := s.List(t)
		for _, q := range queries {
			list = add(list, q)
		}
		s.set(t, list)
	}
	return s
}

func (a Remove) apply(s State) State {
	list := s.List(a.Type)
	kept := make([]pattern.Pattern, 0, len(list))
	for _, item := range list {
		if !covers(item, a.Query) {
			kept = append(kept, item)
		}
	}
	if len(kept) == len(list) {
		return s
	}
	s.set(a.Type, kept)
	return s
}

func (a Clear) apply(s State) State {
	if a.Type == nil {
		s.RenderTargets, s.Meshes, s.Images, s.Materials = nil, nil, nil, nil
		return s
	}
	s.set(*a.Type, nil)
	return s
}

func add(list []pattern.Pattern, query pattern.Pattern) []pattern.Pattern {
	if slices.ContainsFunc(list, func(item pattern.Pattern) bool { return covers(item, query) }) {
		return list
	}
	out := make([]pattern.Pattern, len(list), len(list)+1)
	copy(out, list)
	return append(out, query)
}

// covers reports whether a stored query matches query. The stored query is
// compared as a value: literals by value, nested queries field by field, and
// any other pattern as itself, so a stored wildcard is only matched by a
// wildcard.
func covers(item, query pattern.Pattern) bool {
	return pattern.Matches(asValue(item), query, false)
}

func asValue(p pattern.Pattern) any {
	switch p := p.(type) {
	case pattern.Literal:
		return p.Value
	case pattern.Nested:
		out := make(map[string]any, len(p))
		for key, sub := range p {
			out[key] = asValue(sub)
		}
		return out
	}
	return p
}
