package filters

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"hard-bridge/pattern"
)

func newTestStore() *Store {
	return NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func dispatchJSON(t *testing.T, s *Store, raw string) State {
	t.Helper()
	action, err := DecodeAction([]byte(raw))
	require.NoError(t, err)
	return s.Dispatch(action)
}

func TestFilters_Type_ParseAndString(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{RenderTarget, Mesh, Image, Material} {
		parsed, err := ParseType(typ.String())
		require.NoError(t, err)
		require.Equal(t, typ, parsed)
	}
	_, err := ParseType("Shader")
	require.Error(t, err)
	require.Equal(t, "Type(9)", Type(9).String())
}

func TestFilters_Reduce_AddIsIdempotent(t *testing.T) {
	t.Parallel()

	once := Reduce(State{}, Add{Type: Mesh, Query: pattern.Eq("m1")})
	twice := Reduce(once, Add{Type: Mesh, Query: pattern.Eq("m1")})
	require.Equal(t, once, twice)
	require.Equal(t, []any{"m1"}, twice.View().Meshes)
}

func TestFilters_Reduce_AddSkipsCoveredQueries(t *testing.T) {
	t.Parallel()

	s := Reduce(State{}, Add{Type: Material, Query: pattern.FromValue(map[string]any{"id": "mat", "signature": 1})})
	// A broader query covering the stored one is not added.
	s = Reduce(s, Add{Type: Material, Query: pattern.Nested{"id": pattern.Eq("mat")}})
	require.Len(t, s.Materials, 1)

	s = Reduce(s, Add{Type: Material, Query: pattern.FromValue(map[string]any{"id": "mat", "signature": 2})})
	require.Len(t, s.Materials, 2)
}

func TestFilters_Reduce_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	base := Reduce(State{}, Add{Type: Mesh, Query: pattern.Eq("m1")})
	base = Reduce(base, Add{Type: Mesh, Query: pattern.Eq("m2")})

	next := Reduce(base, Add{Type: Mesh, Query: pattern.Eq("m3")})
	require.Len(t, base.Meshes, 2)
	require.Len(t, next.Meshes, 3)

	removed := Reduce(base, Remove{Type: Mesh, Query: pattern.Eq("m1")})
	require.Equal(t, []any{"m1", "m2"}, base.View().Meshes)
	require.Equal(t, []any{"m2"}, removed.View().Meshes)
}

func TestFilters_Reduce_RemoveDeletesEveryMatchPreservingOrder(t *testing.T) {
	t.Parallel()

	s := Reduce(State{}, BulkAdd{Images: []pattern.Pattern{
		pattern.Eq("a1"), pattern.Eq("b1"), pattern.Eq("a2"), pattern.Eq("b2"),
	}})
	startsWithA := pattern.Predicate(func(v any) bool {
		str, ok := v.(string)
		return ok && len(str) > 0 && str[0] == 'a'
	})
	s = Reduce(s, Remove{Type: Image, Query: startsWithA})
	require.Equal(t, []any{"b1", "b2"}, s.View().Images)
}

func TestFilters_Reduce_BulkAddPerCategory(t *testing.T) {
	t.Parallel()

	s := Reduce(State{}, Add{Type: Mesh, Query: pattern.Eq("m1")})
	s = Reduce(s, BulkAdd{
		RenderTargets: []pattern.Pattern{pattern.Eq(1)},
		Meshes:        []pattern.Pattern{pattern.Eq("m1"), pattern.Eq("m2"), pattern.Eq("m2")},
		Materials:     []pattern.Pattern{pattern.FromValue(map[string]any{"id": "x", "signature": 0})},
	})
	v := s.View()
	require.Equal(t, []any{1.0}, v.RenderTargets)
	require.Equal(t, []any{"m1", "m2"}, v.Meshes)
	require.Empty(t, v.Images)
	require.Equal(t, []any{map[string]any{"id": "x", "signature": 0.0}}, v.Materials)
}

func TestFilters_Reduce_Clear(t *testing.T) {
	t.Parallel()

	full := Reduce(State{Enabled: true}, BulkAdd{
		RenderTargets: []pattern.Pattern{pattern.Eq(1)},
		Meshes:        []pattern.Pattern{pattern.Eq("m1")},
		Images:        []pattern.Pattern{pattern.Eq(2)},
		Materials:     []pattern.Pattern{pattern.FromValue(map[string]any{"id": "x", "signature": 0})},
	})

	mesh := Mesh
	s := Reduce(full, Clear{Type: &mesh})
	require.Empty(t, s.Meshes)
	require.Len(t, s.Images, 1)
	require.Equal(t, s, Reduce(s, Remove{Type: Mesh, Query: pattern.Wildcard}))
	require.False(t, s.Includes(Mesh, "m1"))

	s = Reduce(full, Clear{})
	require.Empty(t, s.RenderTargets)
	require.Empty(t, s.Meshes)
	require.Empty(t, s.Images)
	require.Empty(t, s.Materials)
	require.True(t, s.Enabled)
}

func TestFilters_State_Includes(t *testing.T) {
	t.Parallel()

	s := Reduce(State{}, Add{Type: Mesh, Query: pattern.Eq("m1")})
	require.True(t, s.Includes(Mesh, "m2"), "disabled filtering includes everything")

	s = Reduce(s, Enable{Mode: true})
	require.True(t, s.Includes(Mesh, "m1"))
	require.False(t, s.Includes(Mesh, "m2"))
	require.False(t, s.Includes(Image, "m1"))

	s = Reduce(s, Add{Type: Material, Query: pattern.FromValue(map[string]any{"id": "mat", "signature": 3})})
	require.True(t, s.Includes(Material, map[string]any{"id": "mat", "signature": 3}))
	require.False(t, s.Includes(Material, map[string]any{"id": "mat", "signature": 4}))
	require.False(t, s.Includes(Material, map[string]any{"id": "mat", "signature": 3, "extra": true}))
	require.Equal(t, s, Reduce(s, nil))
}

func TestFilters_Store_DispatchAddTwiceThenRemove(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	dispatchJSON(t, s, `{"action":"Add","type":"Mesh","query":"m1"}`)
	state := dispatchJSON(t, s, `{"action":"Add","type":"Mesh","query":"m1"}`)
	require.Equal(t, []any{"m1"}, state.View().Meshes)
	require.Equal(t, 1, s.Count(Mesh))

	state = dispatchJSON(t, s, `{"action":"Remove","type":"Mesh","query":"m1"}`)
	require.Empty(t, state.Meshes)
	require.Zero(t, s.Count(Mesh))
}

func TestFilters_Store_DecodeAction(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	dispatchJSON(t, s, `{"action":"Enable","mode":true}`)
	dispatchJSON(t, s, `{"action":"BulkAdd","images":[7],"materials":[{"id":"x","signature":1}]}`)
	require.True(t, s.State().Enabled)
	require.True(t, s.Includes(Image, 7))
	require.True(t, s.Includes(Material, map[string]any{"id": "x", "signature": 1}))

	dispatchJSON(t, s, `{"action":"Clear","type":"Image"}`)
	require.Zero(t, s.Count(Image))
	require.Equal(t, 1, s.Count(Material))
	dispatchJSON(t, s, `{"action":"Clear"}`)
	require.Zero(t, s.Count(Material))

	for _, raw := range []string{
		`{"action":"Explode"}`,
		`{"action":"Add","type":"Shader","query":1}`,
		`{"action":"Add","type":"Mesh"}`,
		`{"action":"Clear","type":"Nope"}`,
		`not json`,
	} {
		_, err := DecodeAction([]byte(raw))
		require.Error(t, err, raw)
	}
}

func TestFilters_State_ViewRendersOpaquePatterns(t *testing.T) {
	t.Parallel()

	s := Reduce(State{}, Add{Type: Mesh, Query: pattern.Predicate(func(any) bool { return true })})
	require.Equal(t, []any{"<pattern>"}, s.View().Meshes)
}

func TestFilters_Store_MaterialWideQueryOverJSON(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	dispatchJSON(t, s, `{"action":"Enable","mode":true}`)
	state := dispatchJSON(t, s, `{"action":"Add","type":"Material","query":{"id":"mat","signature":{"$any":true}}}`)
	require.Equal(t, []any{map[string]any{"id": "mat", "signature": map[string]any{"$any": true}}}, state.View().Materials)

	// Every baked version of the material passes.
	require.True(t, s.Includes(Material, map[string]any{"id": "mat", "signature": map[string]any{"domain": "surface"}}))
	require.True(t, s.Includes(Material, map[string]any{"id": "mat", "signature": 9}))
	require.False(t, s.Includes(Material, map[string]any{"id": "other", "signature": 9}))

	// The same query again is a no-op, and a specific version is not removed by it.
	dispatchJSON(t, s, `{"action":"Add","type":"Material","query":{"id":"mat","signature":{"$any":true}}}`)
	require.Equal(t, 1, s.Count(Material))
	dispatchJSON(t, s, `{"action":"Remove","type":"Material","query":{"id":"mat","signature":9}}`)
	require.Equal(t, 1, s.Count(Material))

	state = dispatchJSON(t, s, `{"action":"Remove","type":"Material","query":{"id":"mat","signature":{"$any":true}}}`)
	require.Empty(t, state.Materials)
	require.False(t, s.Includes(Material, map[string]any{"id": "mat", "signature": 9}))
}

func TestFilters_State_IncludesMaterialIgnoresSignature(t *testing.T) {
	t.Parallel()

	s := Reduce(State{}, Add{Type: Material, Query: pattern.FromValue(map[string]any{"id": "mat", "signature": "stale"})})
	require.True(t, s.IncludesMaterial("other"), "disabled filtering includes everything")

	s = Reduce(s, Enable{Mode: true})
	require.True(t, s.IncludesMaterial("mat"))
	require.False(t, s.IncludesMaterial("other"))

	s = Reduce(s, Add{Type: Material, Query: pattern.Nested{"id": pattern.Eq(100), "signature": pattern.Wildcard}})
	require.True(t, s.IncludesMaterial(100))
	require.True(t, s.IncludesMaterial(100.0))
}
