package debugger

import (
	"context"

	"hard-bridge/pattern"
	"hard-bridge/protocol"
	"hard-bridge/snapshot"
)

func (c *Client) CheckPulse(ctx context.Context) error {
	_, err := query[struct{}](ctx, c, exchange{kind: protocol.KindCheckPulse})
	return err
}

func (c *Client) ListStages(ctx context.Context) (Response[[]protocol.Stage], error) {
	return query[[]protocol.Stage](ctx, c, exchange{
		kind:  protocol.KindListStages,
		match: hasPayload,
		shadow: func(s *snapshot.Snapshot) (any, bool, bool) {
			return s.Stages(), false, true
		},
	})
}

func (c *Client) listIDs(ctx context.Context, kind string, ids func(*snapshot.Snapshot) []any) (Response[[]any], error) {
	return query[[]any](ctx, c, exchange{
		kind:  kind,
		match: hasPayload,
		shadow: func(s *snapshot.Snapshot) (any, bool, bool) {
			return ids(s), false, true
		},
	})
}

func (c *Client) ListPipelines(ctx context.Context) (Response[[]any], error) {
	return c.listIDs(ctx, protocol.KindListPipelines, (*snapshot.Snapshot).PipelineIDs)
}

func (c *Client) ListRenderTargets(ctx context.Context) (Response[[]any], error) {
	return c.listIDs(ctx, protocol.KindListRenderTargets, (*snapshot.Snapshot).RenderTargetIDs)
}

func (c *Client) ListMeshes(ctx context.Context) (Response[[]any], error) {
	return c.listIDs(ctx, protocol.KindListMeshes, (*snapshot.Snapshot).MeshIDs)
}

func (c *Client) ListImages(ctx context.Context) (Response[[]any], error) {
	return c.listIDs(ctx, protocol.KindListImages, (*snapshot.Snapshot).ImageIDs)
}

func (c *Client) ListMaterials(ctx context.Context) (Response[[]any], error) {
	return c.listIDs(ctx, protocol.KindListMaterials, (*snapshot.Snapshot).MaterialIDs)
}

func pipelineFailures(id any, stage pattern.Pattern) []failure {
	return []failure{
		{kind: protocol.KindPipelineDoesNotExists, match: pattern.Eq(id)},
		{kind: protocol.KindPipelineStageDoesNotExists, match: with(byID(id), "stage_index", stage)},
	}
}

func (c *Client) QueryPipeline(ctx context.Context, id any) (Response[protocol.Pipeline], error) {
	return query[protocol.Pipeline](ctx, c, exchange{
		kind:     protocol.KindQueryPipeline,
		payload:  id,
		match:    with(byID(id), "info", pattern.Wildcard),
		failures: []failure{{kind: protocol.KindPipelineDoesNotExists, match: pattern.Eq(id)}},
		shadow: func(s *snapshot.Snapshot) (any, bool, bool) {
			p, ok := s.Pipeline(id)
			return p, false, ok
		},
	})
}

// QueryPipelineResources always asks the renderer; snapshots do not record resources.
func (c *Client) QueryPipelineResources(ctx context.Context, id any) (Response[protocol.PipelineResources], error) {
	return query[protocol.PipelineResources](ctx, c, exchange{
		kind:     protocol.KindQueryPipelineResources,
		payload:  id,
		match:    with(byID(id), "render_targets", pattern.Wildcard),
		failures: pipelineFailures(id, pattern.Wildcard),
	})
}

func (c *Client) QueryPipelineStageRenderQueue(ctx context.Context, id any, stage int) (Response[protocol.RenderQueue], error) {
	return query[protocol.RenderQueue](ctx, c, exchange{
		kind:     protocol.KindQueryPipelineStageRenderQueue,
		payload:  protocol.StageRequest{ID: id, StageIndex: stage},
		match:    with(with(byID(id), "stage_index", pattern.Eq(stage)), "render_queue", pattern.Wildcard),
		failures: pipelineFailures(id, pattern.Eq(stage)),
		shadow: func(s *snapshot.Snapshot) (any, bool, bool) {
			q, ok := s.PipelineRenderQueue(id, stage)
			return q, false, ok
		},
	})
}

// QueryPipelineStageRenderQueueResources always asks the renderer.
func (c *Client) QueryPipelineStageRenderQueueResources(ctx context.Context, id any, stage int) (Response[protocol.RenderQueueResources], error) {
	return query[protocol.RenderQueueResources](ctx, c, exchange{
		kind:     protocol.KindQueryPipelineStageRenderQueueResources,
		payload:  protocol.StageRequest{ID: id, StageIndex: stage},
		match:    with(with(byID(id), "stage_index", pattern.Eq(stage)), "meshes", pattern.Wildcard),
		failures: pipelineFailures(id, pattern.Eq(stage)),
	})
}

func (c *Client) QueryRenderTarget(ctx context.Context, id any) (Response[protocol.RenderTarget], error) {
	return query[protocol.RenderTarget](ctx, c, exchange{
		kind:     protocol.KindQueryRenderTarget,
		payload:  id,
		match:    with(byID(id), "info", pattern.Wildcard),
		failures: []failure{{kind: protocol.KindRenderTargetDoesNotExists, match: pattern.Eq(id)}},
		shadow: func(s *snapshot.Snapshot) (any, bool, bool) {
			r, ok := s.RenderTarget(id)
			return r, false, ok
		},
	})
}

func (c *Client) QueryRenderTargetColorData(ctx context.Context, id any, attachment int) (Response[protocol.ColorData], error) {
	return query[protocol.ColorData](ctx, c, exchange{
		kind:    protocol.KindQueryRenderTargetColorData,
		payload: protocol.ColorDataRequest{ID: id, AttachmentIndex: attachment},
		match:   with(with(byID(id), "attachment_index", pattern.Eq(attachment)), "bytes_range", pattern.Wildcard),
		failures: []failure{
			{kind: protocol.KindRenderTargetDoesNotExists, match: pattern.Eq(id)},
			{kind: protocol.KindRenderTargetHasNoColorBuffer, match: with(byID(id), "attachment_index", pattern.Eq(attachment))},
			{kind: protocol.KindRenderTargetHasNoGpuResource, match: pattern.Eq(id)},
			{kind: protocol.KindRendererHasNoContext},
		},
		shadow: func(s *snapshot.Snapshot) (any, bool, bool) {
			d, ok := s.RenderTargetColorData(id, attachment)
			return d, true, ok
		},
	})
}

func meshFailures(id any) []failure {
	return []failure{{kind: protocol.KindMeshDoesNotExists, match: pattern.Eq(id)}}
}

func (c *Client) QueryMesh(ctx context.Context, id any) (Response[protocol.Mesh], error) {
	return query[protocol.Mesh](ctx, c, exchange{
		kind:     protocol.KindQueryMesh,
		payload:  id,
		match:    with(byID(id), "info", pattern.Wildcard),
		failures: meshFailures(id),
		shadow: func(s *snapshot.Snapshot) (any, bool, bool) {
			m, ok := s.Mesh(id)
			return m, false, ok
		},
	})
}

// QueryMeshVertexData answers from the snapshot's mesh data when shadowed.
func (c *Client) QueryMeshVertexData(ctx context.Context, id any, buffer int) (Response[protocol.VertexData], error) {
	return query[protocol.VertexData](ctx, c, exchange{
		kind:    protocol.KindQueryMeshVertexData,
		payload: protocol.VertexDataRequest{ID: id, BufferIndex: buffer},
		match:   with(with(byID(id), "buffer_index", pattern.Eq(buffer)), "bytes_range", pattern.Wildcard),
		failures: append(meshFailures(id), failure{
			kind:  protocol.KindMeshVertexBufferDoesNotExists,
			match: with(byID(id), "buffer_index", pattern.Eq(buffer)),
		}),
		shadow: func(s *snapshot.Snapshot) (any, bool, bool) {
			md, ok := s.MeshData(id)
			if !ok {
				return nil, false, false
			}
			vd, ok := md.VertexData(buffer)
			return vd, true, ok
		},
	})
}

func (c *Client) QueryMeshIndexData(ctx context.Context, id any) (Response[protocol.IndexData], error) {
	return query[protocol.IndexData](ctx, c, exchange{
		kind:     protocol.KindQueryMeshIndexData,
		payload:  id,
		match:    with(byID(id), "bytes_range", pattern.Wildcard),
		failures: meshFailures(id),
		shadow: func(s *snapshot.Snapshot) (any, bool, bool) {
			md, ok := s.MeshData(id)
			if !ok {
				return nil, false, false
			}
			return md.IndexData(), true, true
		},
	})
}

func (c *Client) QueryMeshData(ctx context.Context, id any) (Response[protocol.MeshData], error) {
	return query[protocol.MeshData](ctx, c, exchange{
		kind:     protocol.KindQueryMeshData,
		payload:  id,
		match:    with(byID(id), "index_bytes_range", pattern.Wildcard),
		failures: meshFailures(id),
		shadow: func(s *snapshot.Snapshot) (any, bool, bool) {
			md, ok := s.MeshData(id)
			return md, true, ok
		},
	})
}

func imageFailures(id any) []failure {
	return []failure{{kind: protocol.KindImageDoesNotExists, match: pattern.Eq(id)}}
}

func (c *Client) QueryImage(ctx context.Context, id any) (Response[protocol.Image], error) {
	return query[protocol.Image](ctx, c, exchange{
		kind:     protocol.KindQueryImage,
		payload:  id,
		match:    with(byID(id), "info", pattern.Wildcard),
		failures: imageFailures(id),
		shadow: func(s *snapshot.Snapshot) (any, bool, bool) {
			i, ok := s.Image(id)
			return i, false, ok
		},
	})
}

func (c *Client) QueryImageData(ctx context.Context, id any) (Response[protocol.ImageData], error) {
	return query[protocol.ImageData](ctx, c, exchange{
		kind:     protocol.KindQueryImageData,
		payload:  id,
		match:    with(byID(id), "bytes_range", pattern.Wildcard),
		failures: imageFailures(id),
		shadow: func(s *snapshot.Snapshot) (any, bool, bool) {
			d, ok := s.ImageData(id)
			return d, true, ok
		},
	})
}

func (c *Client) QueryMaterial(ctx context.Context, id any) (Response[protocol.Material], error) {
	return query[protocol.Material](ctx, c, exchange{
		kind:     protocol.KindQueryMaterial,
		payload:  id,
		match:    with(byID(id), "info", pattern.Wildcard),
		failures: []failure{{kind: protocol.KindMaterialDoesNotExists, match: pattern.Eq(id)}},
		shadow: func(s *snapshot.Snapshot) (any, bool, bool) {
			m, ok := s.Material(id)
			return m, false, ok
		},
	})
}
