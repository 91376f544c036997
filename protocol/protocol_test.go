package protocol

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestProtocol_Kinds_Classification(t *testing.T) {
	t.Parallel()

	require.True(t, IsRequest(KindQueryMeshVertexData))
	require.False(t, IsRequest(KindMeshDoesNotExists))
	require.True(t, IsFailure(KindMeshDoesNotExists))
	require.False(t, IsFailure(KindQueryMesh))
	require.False(t, IsRequest(KindSnapshotChanged))
	require.Len(t, RequestKinds(), 21)

	kinds := RequestKinds()
	kinds[0] = "mutated"
	require.Equal(t, KindCheckPulse, RequestKinds()[0])
}

func TestProtocol_KindLabel_BoundsUnknownKinds(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindQueryMesh, KindLabel(KindQueryMesh))
	require.Equal(t, KindMeshDoesNotExists, KindLabel(KindMeshDoesNotExists))
	require.Equal(t, KindSnapshotChanged, KindLabel(KindSnapshotChanged))
	require.Equal(t, "unknown", KindLabel("QueryMesh\x00garbage"))
	require.Equal(t, "unknown", KindLabel(""))
}

func TestProtocol_Packer_RangesSliceBackToOriginalBytes(t *testing.T) {
	t.Parallel()

	var p Packer
	require.Nil(t, p.Bytes())

	chunks := [][]byte{{1, 2, 3}, {}, {4}, {5, 6}}
	ranges := make([]ByteRange, len(chunks))
	for i, c := range chunks {
		ranges[i] = p.Pack(c)
	}
	require.Equal(t, []ByteRange{{0, 3}, {3, 3}, {3, 4}, {4, 6}}, ranges)

	buf := p.Bytes()
	for i, r := range ranges {
		got, err := r.Slice(buf)
		require.NoError(t, err)
		require.Equal(t, len(chunks[i]), r.Len())
		require.True(t, cmp.Equal(chunks[i], got, cmp.Comparer(func(a, b []byte) bool { return string(a) == string(b) })))
	}
}

func TestProtocol_ByteRange_SliceOutOfBounds(t *testing.T) {
	t.Parallel()

	buf := []byte{1, 2, 3}
	for _, r := range []ByteRange{{-1, 1}, {2, 1}, {0, 4}} {
		_, err := r.Slice(buf)
		require.Error(t, err)
	}

	got, err := ByteRange{1, 3}.Slice(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{2, 3}, got)
	require.Equal(t, 2, cap(got))
}

func TestProtocol_ByteRange_WireShape(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(ColorData{ID: 1.0, AttachmentIndex: 0, Width: 2, Height: 2, ValueType: "Color", BytesRange: ByteRange{Start: 4, End: 20}})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":1,"attachment_index":0,"width":2,"height":2,"value_type":"Color","bytes_range":{"start":4,"end":20}}`, string(raw))
}

func TestProtocol_MaterialKey_TupleEncoding(t *testing.T) {
	t.Parallel()

	var res PipelineResources
	require.NoError(t, json.Unmarshal([]byte(`{"id":"p","render_targets":[],"meshes":["m1"],"images":[],"materials":[["mat",7]]}`), &res))
	require.Equal(t, []MaterialKey{{ID: "mat", Signature: 7.0}}, res.Materials)
	require.Equal(t, map[string]any{"id": "mat", "signature": 7.0}, res.Materials[0].Filter())

	raw, err := json.Marshal(res.Materials[0])
	require.NoError(t, err)
	require.JSONEq(t, `["mat",7]`, string(raw))

	var bad MaterialKey
	require.Error(t, json.Unmarshal([]byte(`["only-id"]`), &bad))
	require.Error(t, json.Unmarshal([]byte(`{"id":1}`), &bad))
}

func TestProtocol_MeshData_DerivedBuffers(t *testing.T) {
	t.Parallel()

	var data MeshData
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "m1",
		"layout": {"buffers": [{"stride": 12}, {"stride": 8}]},
		"draw_mode": "Triangles",
		"vertex_bytes_ranges": [{"start": 0, "end": 12}, {"start": 12, "end": 20}],
		"index_bytes_range": {"start": 20, "end": 26}
	}`), &data))

	vd, ok := data.VertexData(1)
	require.True(t, ok)
	require.Equal(t, VertexData{
		ID:          "m1",
		BufferIndex: 1,
		Layout:      map[string]any{"stride": 8.0},
		BytesRange:  ByteRange{Start: 12, End: 20},
	}, vd)

	_, ok = data.VertexData(2)
	require.False(t, ok)
	_, ok = data.VertexData(-1)
	require.False(t, ok)

	require.Equal(t, IndexData{ID: "m1", DrawMode: "Triangles", BytesRange: ByteRange{Start: 20, End: 26}}, data.IndexData())
}
