// Package responder answers debugger requests from a static Scene, speaking
// the same protocol as an instrumented renderer.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hard-bridge/bridge"
	"hard-bridge/metrics"
	"hard-bridge/pattern"
	"hard-bridge/protocol"
)

const sendTimeout = 5 * time.Second

type Config struct {
	Logger *slog.Logger
	Bridge *bridge.Bridge
	Scene  *Scene
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Bridge == nil {
		return errors.New("bridge is required")
	}
	if c.Scene == nil {
		return errors.New("scene is required")
	}
	return nil
}

// Responder answers every request it sees on its bridge.
type Responder struct {
	log   *slog.Logger
	cfg   *Config
	scene *Scene

	unsubscribe func()
}

// Response is a reply ready to be sent.
type Response struct {
	Kind   string
	Data   any
	Binary []byte
}

// New creates a new Responder and starts answering requests.
func New(cfg *Config) (*Responder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	r := &Responder{
		log:   cfg.Logger.With("component", "responder"),
		cfg:   cfg,
		scene: cfg.Scene,
	}
	r.unsubscribe = cfg.Bridge.Subscribe(bridge.AllKinds, r.handle)
	return r, nil
}

// Close stops answering requests.
func (r *Responder) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

func (r *Responder) handle(ev *bridge.Event) {
	if ev.Kind == protocol.KindSnapshotChanged || protocol.IsFailure(ev.Kind) {
		return
	}
	if isResponse(ev.Kind, ev.Value()) {
		return
	}
	resp := r.Respond(ev.Kind, ev.Value())
	metrics.ResponderRequests.WithLabelValues(protocol.KindLabel(ev.Kind)).Inc()
	r.log.Debug("request answered", "request", ev.Kind, "response", resp.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := r.cfg.Bridge.Send(ctx, resp.Kind, resp.Data, resp.Binary); err != nil {
		r.log.Warn("failed to send response", "kind", resp.Kind, "error", err)
	}
}

// Respond computes the reply to a request of kind with the given decoded payload.
func (r *Responder) Respond(kind string, request any) Response {
	s := r.scene
	switch kind {
	case protocol.KindCheckPulse:
		return Response{Kind: kind}
	case protocol.KindTakeSnapshot:
		var packer protocol.Packer
		data := r.takeSnapshot(&packer)
		return Response{Kind: kind, Data: data, Binary: packer.Bytes()}
	case protocol.KindListStages:
		return Response{Kind: kind, Data: r.stages()}
	case protocol.KindListPipelines:
		return Response{Kind: kind, Data: collectIDs(s.Pipelines, func(p ScenePipeline) any { return p.ID })}
	case protocol.KindListRenderTargets:
		return Response{Kind: kind, Data: collectIDs(s.RenderTargets, func(t SceneRenderTarget) any { return t.ID })}
	case protocol.KindListMeshes:
		return Response{Kind: kind, Data: collectIDs(s.Meshes, func(m SceneMesh) any { return m.ID })}
	case protocol.KindListImages:
		return Response{Kind: kind, Data: collectIDs(s.Images, func(i SceneImage) any { return i.ID })}
	case protocol.KindListMaterials:
		return Response{Kind: kind, Data: collectIDs(s.Materials, func(m SceneMaterial) any { return m.ID })}
	case protocol.KindQueryPipeline:
		return r.queryPipeline(request)
	case protocol.KindQueryPipelineResources:
		return r.queryPipelineResources(request)
	case protocol.KindQueryPipelineStageRenderQueue:
		return r.queryRenderQueue(stageRequest(request))
	case protocol.KindQueryPipelineStageRenderQueueResources:
		return r.queryRenderQueueResources(stageRequest(request))
	case protocol.KindQueryRenderTarget:
		return r.queryRenderTarget(request)
	case protocol.KindQueryRenderTargetColorData:
		var packer protocol.Packer
		resp := r.queryColorData(fieldOf(request, "id"), intField(request, "attachment_index"), &packer)
		resp.Binary = packer.Bytes()
		return resp
	case protocol.KindQueryMesh:
		return r.queryMesh(request)
	case protocol.KindQueryMeshVertexData:
		return r.queryVertexData(fieldOf(request, "id"), intField(request, "buffer_index"))
	case protocol.KindQueryMeshIndexData:
		return r.queryIndexData(request)
	case protocol.KindQueryMeshData:
		var packer protocol.Packer
		resp := r.queryMeshData(request, &packer)
		resp.Binary = packer.Bytes()
		return resp
	case protocol.KindQueryImage:
		return r.queryImage(request)
	case protocol.KindQueryImageData:
		var packer protocol.Packer
		resp := r.queryImageData(request, &packer)
		resp.Binary = packer.Bytes()
		return resp
	case protocol.KindQueryMaterial:
		return r.queryMaterial(request)
	}
	return Response{Kind: protocol.KindUnknownRequest, Data: kind}
}

func (r *Responder) stages() []protocol.Stage {
	out := make([]protocol.Stage, 0, len(r.scene.Stages))
	for _, st := range r.scene.Stages {
		out = append(out, protocol.Stage{StageName: st.Name, TypeName: st.Type})
	}
	return out
}

func (r *Responder) takeSnapshot(packer *protocol.Packer) protocol.TakeSnapshot {
	s := r.scene
	data := protocol.TakeSnapshot{Stages: r.stages()}
	for _, p := range s.Pipelines {
		data.Pipelines = append(data.Pipelines, protocol.Pipeline{ID: p.ID, Info: p.Info})
		for i, q := range p.Stages {
			if q != nil {
				data.PipelinesRenderQueues = append(data.PipelinesRenderQueues, protocol.RenderQueue{ID: p.ID, StageIndex: i, RenderQueue: q})
			}
		}
	}
	for _, t := range s.RenderTargets {
		data.RenderTargets = append(data.RenderTargets, protocol.RenderTarget{ID: t.ID, Info: t.Info})
		for i := range t.Color {
			if resp := r.queryColorData(t.ID, i, packer); resp.Kind == protocol.KindQueryRenderTargetColorData {
				data.RenderTargetsColorData = append(data.RenderTargetsColorData, resp.Data.(protocol.ColorData))
			}
		}
	}
	for _, m := range s.Meshes {
		data.Meshes = append(data.Meshes, protocol.Mesh{ID: m.ID, Info: m.Info})
		data.MeshesData = append(data.MeshesData, meshData(m, packer))
	}
	for _, img := range s.Images {
		data.Images = append(data.Images, protocol.Image{ID: img.ID, Info: img.Info})
		data.ImagesData = append(data.ImagesData, imageData(img, packer))
	}
	for _, m := range s.Materials {
		data.Materials = append(data.Materials, material(m))
	}
	return data
}

func (r *Responder) queryPipeline(id any) Response {
	p, ok := findByID(r.scene.Pipelines, id, func(p ScenePipeline) any { return p.ID })
	if !ok {
		return Response{Kind: protocol.KindPipelineDoesNotExists, Data: id}
	}
	return Response{Kind: protocol.KindQueryPipeline, Data: protocol.Pipeline{ID: p.ID, Info: p.Info}}
}

func (r *Responder) queryPipelineResources(id any) Response {
	p, ok := findByID(r.scene.Pipelines, id, func(p ScenePipeline) any { return p.ID })
	if !ok {
		return Response{Kind: protocol.KindPipelineDoesNotExists, Data: id}
	}
	res := protocol.PipelineResources{
		ID:            p.ID,
		RenderTargets: appendUnique(nil, p.RenderTargets...),
		Meshes:        []any{},
		Images:        []any{},
		Materials:     []protocol.MaterialKey{},
	}
	for i, q := range p.Stages {
		if q == nil {
			return Response{Kind: protocol.KindPipelineStageDoesNotExists, Data: protocol.StageRequest{ID: p.ID, StageIndex: i}}
		}
		used := r.collect(q)
		res.Meshes = appendUnique(res.Meshes, used.meshes...)
		res.Images = appendUnique(res.Images, used.images...)
		res.Materials = appendUniqueMaterials(res.Materials, used.materials...)
	}
	if res.RenderTargets == nil {
		res.RenderTargets = []any{}
	}
	return Response{Kind: protocol.KindQueryPipelineResources, Data: res}
}

func (r *Responder) stage(req protocol.StageRequest) (ScenePipeline, any, *Response) {
	p, ok := findByID(r.scene.Pipelines, req.ID, func(p ScenePipeline) any { return p.ID })
	if !ok {
		return p, nil, &Response{Kind: protocol.KindPipelineDoesNotExists, Data: req.ID}
	}
	if req.StageIndex < 0 || req.StageIndex >= len(p.Stages) || p.Stages[req.StageIndex] == nil {
		return p, nil, &Response{Kind: protocol.KindPipelineStageDoesNotExists, Data: protocol.StageRequest{ID: p.ID, StageIndex: req.StageIndex}}
	}
	return p, p.Stages[req.StageIndex], nil
}

func (r *Responder) queryRenderQueue(req protocol.StageRequest) Response {
	p, q, failed := r.stage(req)
	if failed != nil {
		return *failed
	}
	return Response{Kind: protocol.KindQueryPipelineStageRenderQueue, Data: protocol.RenderQueue{ID: p.ID, StageIndex: req.StageIndex, RenderQueue: q}}
}

func (r *Responder) queryRenderQueueResources(req protocol.StageRequest) Response {
	p, q, failed := r.stage(req)
	if failed != nil {
		return *failed
	}
	used := r.collect(q)
	return Response{Kind: protocol.KindQueryPipelineStageRenderQueueResources, Data: protocol.RenderQueueResources{
		ID:         p.ID,
		StageIndex: req.StageIndex,
		Meshes:     appendUnique([]any{}, used.meshes...),
		Images:     appendUnique([]any{}, used.images...),
		Materials:  appendUniqueMaterials([]protocol.MaterialKey{}, used.materials...),
	}}
}

func (r *Responder) queryRenderTarget(id any) Response {
	t, ok := findByID(r.scene.RenderTargets, id, func(t SceneRenderTarget) any { return t.ID })
	if !ok {
		return Response{Kind: protocol.KindRenderTargetDoesNotExists, Data: id}
	}
	return Response{Kind: protocol.KindQueryRenderTarget, Data: protocol.RenderTarget{ID: t.ID, Info: t.Info}}
}

func (r *Responder) queryColorData(id any, attachment int, packer *protocol.Packer) Response {
	t, ok := findByID(r.scene.RenderTargets, id, func(t SceneRenderTarget) any { return t.ID })
	if !ok {
		return Response{Kind: protocol.KindRenderTargetDoesNotExists, Data: id}
	}
	if r.scene.NoContext {
		return Response{Kind: protocol.KindRendererHasNoContext}
	}
	if attachment < 0 || attachment >= len(t.Color) {
		return Response{Kind: protocol.KindRenderTargetHasNoColorBuffer, Data: protocol.ColorDataRequest{ID: t.ID, AttachmentIndex: attachment}}
	}
	buffer := t.Color[attachment]
	if buffer.Data == nil {
		return Response{Kind: protocol.KindRenderTargetHasNoGpuResource, Data: t.ID}
	}
	return Response{Kind: protocol.KindQueryRenderTargetColorData, Data: protocol.ColorData{
		ID:              t.ID,
		AttachmentIndex: attachment,
		Width:           t.Width,
		Height:          t.Height,
		ValueType:       buffer.ValueType,
		BytesRange:      packer.Pack(buffer.Data),
	}}
}

func (r *Responder) findMesh(id any) (SceneMesh, bool) {
	return findByID(r.scene.Meshes, id, func(m SceneMesh) any { return m.ID })
}

func (r *Responder) queryMesh(id any) Response {
	m, ok := r.findMesh(id)
	if !ok {
		return Response{Kind: protocol.KindMeshDoesNotExists, Data: id}
	}
	return Response{Kind: protocol.KindQueryMesh, Data: protocol.Mesh{ID: m.ID, Info: m.Info}}
}

func (r *Responder) queryVertexData(id any, buffer int) Response {
	m, ok := r.findMesh(id)
	if !ok {
		return Response{Kind: protocol.KindMeshDoesNotExists, Data: id}
	}
	var packer protocol.Packer
	data := meshData(m, &packer)
	vd, ok := data.VertexData(buffer)
	if !ok {
		return Response{Kind: protocol.KindMeshVertexBufferDoesNotExists, Data: protocol.VertexDataRequest{ID: m.ID, BufferIndex: buffer}}
	}
	all := packer.Bytes()
	chunk, _ := vd.BytesRange.Slice(all)
	vd.BytesRange = protocol.ByteRange{Start: 0, End: len(chunk)}
	return Response{Kind: protocol.KindQueryMeshVertexData, Data: vd, Binary: chunk}
}

func (r *Responder) queryIndexData(id any) Response {
	m, ok := r.findMesh(id)
	if !ok {
		return Response{Kind: protocol.KindMeshDoesNotExists, Data: id}
	}
	var packer protocol.Packer
	rng := packer.Pack(m.Indices)
	return Response{
		Kind:   protocol.KindQueryMeshIndexData,
		Data:   protocol.IndexData{ID: m.ID, DrawMode: m.DrawMode, BytesRange: rng},
		Binary: packer.Bytes(),
	}
}

func (r *Responder) queryMeshData(id any, packer *protocol.Packer) Response {
	m, ok := r.findMesh(id)
	if !ok {
		return Response{Kind: protocol.KindMeshDoesNotExists, Data: id}
	}
	return Response{Kind: protocol.KindQueryMeshData, Data: meshData(m, packer)}
}

func (r *Responder) queryImage(id any) Response {
	img, ok := findByID(r.scene.Images, id, func(i SceneImage) any { return i.ID })
	if !ok {
		return Response{Kind: protocol.KindImageDoesNotExists, Data: id}
	}
	return Response{Kind: protocol.KindQueryImage, Data: protocol.Image{ID: img.ID, Info: img.Info}}
}

func (r *Responder) queryImageData(id any, packer *protocol.Packer) Response {
	img, ok := findByID(r.scene.Images, id, func(i SceneImage) any { return i.ID })
	if !ok {
		return Response{Kind: protocol.KindImageDoesNotExists, Data: id}
	}
	return Response{Kind: protocol.KindQueryImageData, Data: imageData(img, packer)}
}

func (r *Responder) queryMaterial(id any) Response {
	m, ok := findByID(r.scene.Materials, id, func(m SceneMaterial) any { return m.ID })
	if !ok {
		return Response{Kind: protocol.KindMaterialDoesNotExists, Data: id}
	}
	return Response{Kind: protocol.KindQueryMaterial, Data: material(m)}
}

func meshData(m SceneMesh, packer *protocol.Packer) protocol.MeshData {
	data := protocol.MeshData{
		ID:                m.ID,
		Layout:            pattern.Normalize(m.Layout),
		DrawMode:          m.DrawMode,
		VertexBytesRanges: make([]protocol.ByteRange, 0, len(m.Vertices)),
	}
	for _, v := range m.Vertices {
		data.VertexBytesRanges = append(data.VertexBytesRanges, packer.Pack(v))
	}
	data.IndexBytesRange = packer.Pack(m.Indices)
	return data
}

func imageData(img SceneImage, packer *protocol.Packer) protocol.ImageData {
	return protocol.ImageData{
		ID:         img.ID,
		Width:      img.Width,
		Height:     img.Height,
		Depth:      img.Depth,
		Format:     img.Format,
		BytesRange: packer.Pack(img.Data),
	}
}

func material(m SceneMaterial) protocol.Material {
	info := protocol.MaterialInfo{
		Versions:      make([][2]any, 0, len(m.Versions)),
		DefaultValues: m.DefaultValues,
	}
	for _, v := range m.Versions {
		if len(v) == 2 {
			info.Versions = append(info.Versions, [2]any{v[0], v[1]})
		}
	}
	if info.DefaultValues == nil {
		info.DefaultValues = map[string]any{}
	}
	return protocol.Material{ID: m.ID, Info: info}
}

func stageRequest(v any) protocol.StageRequest {
	return protocol.StageRequest{ID: fieldOf(v, "id"), StageIndex: intField(v, "stage_index")}
}

func fieldOf(v any, key string) any {
	if obj, ok := v.(map[string]any); ok {
		return obj[key]
	}
	return nil
}

func intField(v any, key string) int {
	if f, ok := fieldOf(v, key).(float64); ok {
		return int(f)
	}
	return -1
}

func findByID[T any](items []T, id any, idOf func(T) any) (T, bool) {
	for _, item := range items {
		if pattern.Matches(idOf(item), pattern.Eq(id), false) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

func collectIDs[T any](items []T, idOf func(T) any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, idOf(item))
	}
	return out
}
