package responder

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hard-bridge/bridge"
	"hard-bridge/medium"
	"hard-bridge/pattern"
	"hard-bridge/protocol"
)

func loadTestScene(t *testing.T) *Scene {
	t.Helper()
	scene, err := LoadScene("testdata/scene.yaml")
	require.NoError(t, err)
	return scene
}

func newTestResponder(t *testing.T) *Responder {
	t.Helper()
	return &Responder{scene: loadTestScene(t)}
}

func TestResponder_Scene_DecodesBytes(t *testing.T) {
	t.Parallel()

	scene := loadTestScene(t)
	require.Len(t, scene.Meshes, 2)
	require.Equal(t, Bytes{0, 0, 0, 1}, scene.Meshes[0].Vertices[0])
	require.Equal(t, Bytes{1, 2, 3}, scene.Meshes[0].Vertices[1])
	require.Equal(t, Bytes{0, 1, 2}, scene.Meshes[0].Indices)
	require.Nil(t, scene.RenderTargets[0].Color[1].Data)
	require.Nil(t, scene.Meshes[1].Indices)
}

func TestResponder_Scene_RejectsMalformedInput(t *testing.T) {
	t.Parallel()

	_, err := ParseScene([]byte("materials:\n  - id: 1\n    versions: [[\"only-signature\"]]\n"))
	require.ErrorContains(t, err, "pair")

	_, err = ParseScene([]byte("meshes:\n  - id: 1\n    indices: \"not base64!\"\n"))
	require.ErrorContains(t, err, "base64")

	_, err = LoadScene("testdata/missing.yaml")
	require.Error(t, err)
}

func TestResponder_Respond_Lists(t *testing.T) {
	t.Parallel()

	r := newTestResponder(t)

	resp := r.Respond(protocol.KindListMeshes, nil)
	require.Equal(t, protocol.KindListMeshes, resp.Kind)
	require.Equal(t, []any{"m1", "m2"}, resp.Data)

	resp = r.Respond(protocol.KindListStages, nil)
	require.Equal(t, []protocol.Stage{
		{StageName: "main", TypeName: "ForwardRenderStage"},
		{StageName: "ui", TypeName: "OverlayStage"},
	}, resp.Data)

	resp = r.Respond(protocol.KindCheckPulse, nil)
	require.Equal(t, Response{Kind: protocol.KindCheckPulse}, resp)
}

func TestResponder_Respond_UnknownKind(t *testing.T) {
	t.Parallel()

	resp := newTestResponder(t).Respond("QueryEverything", nil)
	require.Equal(t, protocol.KindUnknownRequest, resp.Kind)
	require.Equal(t, "QueryEverything", resp.Data)
}

func TestResponder_Respond_PipelineResources(t *testing.T) {
	t.Parallel()

	r := newTestResponder(t)

	resp := r.Respond(protocol.KindQueryPipelineResources, float64(1))
	require.Equal(t, protocol.KindQueryPipelineResources, resp.Kind)
	require.Equal(t, map[string]any{
		"id":             float64(1),
		"render_targets": []any{float64(10)},
		"meshes":         []any{"m1", "m2"},
		// 201 comes from the material default values, 200 from the uniform override.
		"images":    []any{float64(201), float64(200)},
		"materials": []any{[]any{float64(100), "sig-a"}},
	}, pattern.Normalize(resp.Data))

	resp = r.Respond(protocol.KindQueryPipelineResources, float64(2))
	require.Equal(t, map[string]any{
		"id":             float64(2),
		"render_targets": []any{float64(10), float64(11)},
		"meshes":         []any{},
		"images":         []any{float64(201)},
		"materials":      []any{[]any{float64(100), "sig-a"}},
	}, pattern.Normalize(resp.Data))
}

func TestResponder_Respond_PipelineFailures(t *testing.T) {
	t.Parallel()

	r := newTestResponder(t)
	r.scene.Pipelines = append(r.scene.Pipelines, ScenePipeline{ID: 3, Stages: []any{nil}})

	resp := r.Respond(protocol.KindQueryPipeline, float64(99))
	require.Equal(t, Response{Kind: protocol.KindPipelineDoesNotExists, Data: float64(99)}, resp)

	resp = r.Respond(protocol.KindQueryPipelineResources, float64(3))
	require.Equal(t, protocol.KindPipelineStageDoesNotExists, resp.Kind)
	require.Equal(t, protocol.StageRequest{ID: 3, StageIndex: 0}, resp.Data)

	resp = r.Respond(protocol.KindQueryPipelineStageRenderQueue, map[string]any{"id": float64(1), "stage_index": float64(4)})
	require.Equal(t, protocol.KindPipelineStageDoesNotExists, resp.Kind)
}

func TestResponder_Respond_StageRenderQueue(t *testing.T) {
	t.Parallel()

	r := newTestResponder(t)
	req := map[string]any{"id": float64(2), "stage_index": float64(0)}

	resp := r.Respond(protocol.KindQueryPipelineStageRenderQueue, req)
	require.Equal(t, protocol.KindQueryPipelineStageRenderQueue, resp.Kind)
	queue := resp.Data.(protocol.RenderQueue)
	require.Equal(t, 0, queue.StageIndex)
	require.True(t, pattern.Matches(queue.RenderQueue, pattern.Nested{"size": pattern.Eq(2), "persistent": pattern.Eq(true)}, false))

	resp = r.Respond(protocol.KindQueryPipelineStageRenderQueueResources, req)
	require.Equal(t, protocol.KindQueryPipelineStageRenderQueueResources, resp.Kind)
	res := resp.Data.(protocol.RenderQueueResources)
	require.Empty(t, res.Meshes)
	require.Equal(t, []any{float64(201)}, res.Images)
	require.Equal(t, []protocol.MaterialKey{{ID: float64(100), Signature: "sig-a"}}, res.Materials)
}

func TestResponder_Respond_ColorData(t *testing.T) {
	t.Parallel()

	r := newTestResponder(t)
	req := func(att int) map[string]any {
		return map[string]any{"id": float64(10), "attachment_index": float64(att)}
	}

	resp := r.Respond(protocol.KindQueryRenderTargetColorData, req(0))
	require.Equal(t, protocol.KindQueryRenderTargetColorData, resp.Kind)
	data := resp.Data.(protocol.ColorData)
	require.Equal(t, 2, data.Width)
	require.Equal(t, protocol.ByteRange{Start: 0, End: 8}, data.BytesRange)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, resp.Binary)

	resp = r.Respond(protocol.KindQueryRenderTargetColorData, req(1))
	require.Equal(t, protocol.KindRenderTargetHasNoGpuResource, resp.Kind)

	resp = r.Respond(protocol.KindQueryRenderTargetColorData, req(5))
	require.Equal(t, protocol.KindRenderTargetHasNoColorBuffer, resp.Kind)
	require.Equal(t, protocol.ColorDataRequest{ID: 10, AttachmentIndex: 5}, resp.Data)

	resp = r.Respond(protocol.KindQueryRenderTargetColorData, map[string]any{"id": float64(12), "attachment_index": float64(0)})
	require.Equal(t, protocol.KindRenderTargetDoesNotExists, resp.Kind)

	r.scene.NoContext = true
	resp = r.Respond(protocol.KindQueryRenderTargetColorData, req(0))
	require.Equal(t, Response{Kind: protocol.KindRendererHasNoContext}, resp)
}

func TestResponder_Respond_MeshBuffers(t *testing.T) {
	t.Parallel()

	r := newTestResponder(t)

	resp := r.Respond(protocol.KindQueryMeshVertexData, map[string]any{"id": "m1", "buffer_index": float64(1)})
	require.Equal(t, protocol.KindQueryMeshVertexData, resp.Kind)
	vd := resp.Data.(protocol.VertexData)
	require.Equal(t, protocol.ByteRange{Start: 0, End: 3}, vd.BytesRange)
	require.Equal(t, map[string]any{"attributes": []any{"color"}}, vd.Layout)
	require.Equal(t, []byte{1, 2, 3}, resp.Binary)

	resp = r.Respond(protocol.KindQueryMeshVertexData, map[string]any{"id": "m1", "buffer_index": float64(2)})
	require.Equal(t, protocol.KindMeshVertexBufferDoesNotExists, resp.Kind)
	require.Equal(t, protocol.VertexDataRequest{ID: "m1", BufferIndex: 2}, resp.Data)

	resp = r.Respond(protocol.KindQueryMeshIndexData, "m1")
	require.Equal(t, protocol.IndexData{ID: "m1", DrawMode: "Triangles", BytesRange: protocol.ByteRange{Start: 0, End: 3}}, resp.Data)
	require.Equal(t, []byte{0, 1, 2}, resp.Binary)

	resp = r.Respond(protocol.KindQueryMeshData, "m1")
	md := resp.Data.(protocol.MeshData)
	require.Len(t, md.VertexBytesRanges, 2)
	indices, err := md.IndexBytesRange.Slice(resp.Binary)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 1, 2}, indices)

	resp = r.Respond(protocol.KindQueryMesh, "m9")
	require.Equal(t, Response{Kind: protocol.KindMeshDoesNotExists, Data: "m9"}, resp)
}

func TestResponder_Respond_ImagesAndMaterials(t *testing.T) {
	t.Parallel()

	r := newTestResponder(t)

	resp := r.Respond(protocol.KindQueryImageData, float64(201))
	data := resp.Data.(protocol.ImageData)
	require.Equal(t, 2, data.Depth)
	require.Equal(t, "Luminance", data.Format)
	require.Equal(t, []byte{9, 9}, resp.Binary)

	resp = r.Respond(protocol.KindQueryImage, float64(5))
	require.Equal(t, protocol.KindImageDoesNotExists, resp.Kind)

	resp = r.Respond(protocol.KindQueryMaterial, float64(100))
	mat := resp.Data.(protocol.Material)
	require.Len(t, mat.Info.Versions, 1)
	require.Equal(t, "sig-a", mat.Info.Versions[0][0])
	require.Contains(t, mat.Info.DefaultValues, "tint")

	resp = r.Respond(protocol.KindQueryMaterial, float64(101))
	require.Equal(t, protocol.KindMaterialDoesNotExists, resp.Kind)
}

func TestResponder_Respond_TakeSnapshot(t *testing.T) {
	t.Parallel()

	resp := newTestResponder(t).Respond(protocol.KindTakeSnapshot, nil)
	require.Equal(t, protocol.KindTakeSnapshot, resp.Kind)
	data := resp.Data.(protocol.TakeSnapshot)

	require.Len(t, data.Stages, 2)
	require.Len(t, data.Pipelines, 2)
	require.Len(t, data.PipelinesRenderQueues, 2)
	require.Len(t, data.RenderTargets, 2)
	// Only the first attachment of render target 10 has a GPU resource.
	require.Len(t, data.RenderTargetsColorData, 1)
	require.Len(t, data.MeshesData, 2)
	require.Len(t, data.ImagesData, 2)
	require.Len(t, data.Materials, 1)

	vertices, err := data.MeshesData[0].VertexBytesRanges[1].Slice(resp.Binary)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, vertices)

	pixels, err := data.ImagesData[0].BytesRange.Slice(resp.Binary)
	require.NoError(t, err)
	require.Equal(t, []byte{255, 0, 0, 255}, pixels)
}

func TestResponder_IsResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		kind  string
		value any
		want  bool
	}{
		{name: "list request", kind: protocol.KindListMeshes, value: nil, want: false},
		{name: "list response", kind: protocol.KindListMeshes, value: []any{"m1"}, want: true},
		{name: "pulse", kind: protocol.KindCheckPulse, value: nil, want: false},
		{name: "query request", kind: protocol.KindQueryMesh, value: "m1", want: false},
		{name: "query response", kind: protocol.KindQueryMesh, value: map[string]any{"id": "m1", "info": nil}, want: true},
		{name: "object id request", kind: protocol.KindQueryImage, value: map[string]any{"id": float64(1)}, want: false},
		{name: "unknown kind", kind: "Bogus", value: []any{}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, isResponse(tt.kind, tt.value))
		})
	}
}

func TestResponder_AnswersOverBridge(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := medium.NewLocalHub()
	rendererMedium := hub.Join("renderer")
	debuggerMedium := hub.Join("renderer")
	t.Cleanup(func() { _ = rendererMedium.Close(); _ = debuggerMedium.Close() })

	rendererBridge, err := bridge.New(&bridge.Config{Logger: log, Medium: rendererMedium, Version: protocol.Version})
	require.NoError(t, err)
	t.Cleanup(rendererBridge.Close)
	debuggerBridge, err := bridge.New(&bridge.Config{Logger: log, Medium: debuggerMedium, Version: protocol.Version})
	require.NoError(t, err)
	t.Cleanup(debuggerBridge.Close)

	r, err := New(&Config{Logger: log, Bridge: rendererBridge, Scene: loadTestScene(t)})
	require.NoError(t, err)
	t.Cleanup(r.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, err := debuggerBridge.Request(ctx, protocol.KindListMeshes, nil, pattern.Predicate(func(v any) bool { return v != nil }))
	require.NoError(t, err)
	ev, err := p.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []any{"m1", "m2"}, ev.Value())

	unknown := debuggerBridge.Receive(protocol.KindUnknownRequest, pattern.Eq("Bogus"))
	require.NoError(t, debuggerBridge.Send(ctx, "Bogus", nil, nil))
	_, err = unknown.Wait(ctx)
	require.NoError(t, err)
}

func TestResponder_ConfigValidate(t *testing.T) {
	t.Parallel()

	_, err := New(&Config{})
	require.ErrorContains(t, err, "logger is required")

	_, err = New(&Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.ErrorContains(t, err, "bridge is required")
}
