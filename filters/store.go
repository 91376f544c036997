package filters

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"hard-bridge/pattern"
)

// Store holds the current filter state and applies actions to it.
type Store struct {
	log *slog.Logger

	mu    sync.RWMutex
	state State
}

// NewStore creates a new Store with filtering disabled.
func NewStore(log *slog.Logger) *Store {
	return &Store{log: log.With("component", "filters")}
}

// Dispatch reduces the state with action and returns the new state.
func (s *Store) Dispatch(action Action) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, action)
	s.log.Debug("filters dispatched", "action", fmt.Sprintf("%T", action), "enabled", s.state.Enabled)
	return s.state
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Count returns the number of queries in one category.
func (s *Store) Count(t Type) int {
	return len(s.State().List(t))
}

func (s *Store) Includes(t Type, value any) bool {
	return s.State().Includes(t, value)
}

func (s *Store) IncludesMaterial(id any) bool {
	return s.State().IncludesMaterial(id)
}

// wireAction is the JSON form of an action:
//
//	{"action": "Add", "type": "Mesh", "query": "m1"}
//	{"action": "Add", "type": "Material", "query": {"id": "x", "signature": {"$any": true}}}
//	{"action": "BulkAdd", "meshes": ["m1"], "materials": [{"id": "x", "signature": 1}]}
//	{"action": "Enable", "mode": true}
//	{"action": "Clear"}
type wireAction struct {
	Action        string `json:"action"`
	Type          string `json:"type,omitempty"`
	Query         any    `json:"query,omitempty"`
	Mode          bool   `json:"mode,omitempty"`
	RenderTargets []any  `json:"render_targets,omitempty"`
	Meshes        []any  `json:"meshes,omitempty"`
	Images        []any  `json:"images,omitempty"`
	Materials     []any  `json:"materials,omitempty"`
}

// AnyMarker is the key of the JSON object {"$any": true} that stands for a
// wildcard inside a query.
const AnyMarker = "$any"

// DecodeAction parses the JSON form of an action. Queries are lifted into
// literal patterns, with {"$any": true} lifted into a wildcard.
func DecodeAction(data []byte) (Action, error) {
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode filter action: %w", err)
	}

	switch w.Action {
	case "Enable":
		return Enable{Mode: w.Mode}, nil
	case "Add", "Remove":
		t, err := ParseType(w.Type)
		if err != nil {
			return nil, err
		}
		if w.Query == nil {
			return nil, fmt.Errorf("%s action requires a query", w.Action)
		}
		if w.Action == "Add" {
			return Add{Type: t, Query: liftQuery(w.Query)}, nil
		}
		return Remove{Type: t, Query: liftQuery(w.Query)}, nil
	case "BulkAdd":
		return BulkAdd{
			RenderTargets: lift(w.RenderTargets),
			Meshes:        lift(w.Meshes),
			Images:        lift(w.Images),
			Materials:     lift(w.Materials),
		}, nil
	case "Clear":
		if w.Type == "" {
			return Clear{}, nil
		}
		t, err := ParseType(w.Type)
		if err != nil {
			return nil, err
		}
		return Clear{Type: &t}, nil
	}
	return nil, fmt.Errorf("unknown filter action %q", w.Action)
}

func lift(values []any) []pattern.Pattern {
	if len(values) == 0 {
		return nil
	}
	out := make([]pattern.Pattern, 0, len(values))
	for _, v := range values {
		out = append(out, liftQuery(v))
	}
	return out
}

func liftQuery(v any) pattern.Pattern {
	switch v := pattern.Normalize(v).(type) {
	case map[string]any:
		if len(v) == 1 && v[AnyMarker] == true {
			return pattern.Wildcard
		}
		out := make(pattern.Nested, len(v))
		for key, item := range v {
			out[key] = liftQuery(item)
		}
		return out
	case []any:
		out := make(pattern.Nested, len(v))
		for i, item := range v {
			out[strconv.Itoa(i)] = liftQuery(item)
		}
		return out
	default:
		return pattern.FromValue(v)
	}
}

// View is the JSON form of a state. Wildcards are rendered as {"$any": true}
// and other queries that are not plain values as "<pattern>".
type View struct {
	Enabled       bool  `json:"enabled"`
	RenderTargets []any `json:"render_targets"`
	Meshes        []any `json:"meshes"`
	Images        []any `json:"images"`
	Materials     []any `json:"materials"`
}

func (s State) View() View {
	return View{
		Enabled:       s.Enabled,
		RenderTargets: lower(s.RenderTargets),
		Meshes:        lower(s.Meshes),
		Images:        lower(s.Images),
		Materials:     lower(s.Materials),
	}
}

func lower(list []pattern.Pattern) []any {
	out := make([]any, 0, len(list))
	for _, p := range list {
		if v, ok := lowerQuery(p); ok {
			out = append(out, v)
			continue
		}
		out = append(out, "<pattern>")
	}
	return out
}

func lowerQuery(p pattern.Pattern) (any, bool) {
	if p == pattern.Wildcard {
		return map[string]any{AnyMarker: true}, true
	}
	if n, ok := p.(pattern.Nested); ok {
		out := make(map[string]any, len(n))
		for key, sub := range n {
			v, ok := lowerQuery(sub)
			if !ok {
				return nil, false
			}
			out[key] = v
		}
		return out, true
	}
	return pattern.ValueOf(p)
}
