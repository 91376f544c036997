// Package mcpbridge exposes the debugger, its snapshot cache and its filters as MCP tools.
package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"hard-bridge/debugger"
	"hard-bridge/filters"
	"hard-bridge/metrics"
	"hard-bridge/protocol"
)

type Tools struct {
	Log      *slog.Logger
	Debugger *debugger.Client
	Filters  *filters.Store
}

func (t *Tools) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_pulse",
		Description: "Check that a renderer is connected and answering on the debugger channel",
	}, instrument("check_pulse", t.handleCheckPulse))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_stages",
		Description: "List the render stages registered in the renderer",
	}, instrument("list_stages", t.handleListStages))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_resources",
		Description: "List resource ids of one kind (pipelines, render_targets, meshes, images or materials). Render targets, meshes, images and materials are narrowed by the active filters.",
	}, instrument("list_resources", t.handleListResources))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_pipeline",
		Description: "Get the detailed info of a pipeline",
	}, instrument("query_pipeline", t.handleQueryPipeline))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_pipeline_resources",
		Description: "Get every render target, mesh, image and material a pipeline uses",
	}, instrument("query_pipeline_resources", t.handleQueryPipelineResources))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_render_queue",
		Description: "Get the render queue of one pipeline stage, or the resources it uses",
	}, instrument("query_render_queue", t.handleQueryRenderQueue))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_render_target",
		Description: "Get a render target, or the pixels of one of its color attachments when attachment_index is set",
	}, instrument("query_render_target", t.handleQueryRenderTarget))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_mesh",
		Description: "Get a mesh. part selects info (default), data, vertex or index buffers.",
	}, instrument("query_mesh", t.handleQueryMesh))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_image",
		Description: "Get an image, or its pixels when data is true",
	}, instrument("query_image", t.handleQueryImage))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_material",
		Description: "Get a material with its baked versions and default uniform values",
	}, instrument("query_material", t.handleQueryMaterial))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "take_snapshot",
		Description: "Capture the full renderer state into a new snapshot",
	}, instrument("take_snapshot", t.handleTakeSnapshot))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_snapshots",
		Description: "List recorded snapshots, oldest first",
	}, instrument("list_snapshots", t.handleListSnapshots))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "activate_snapshot",
		Description: "Answer subsequent queries from a recorded snapshot instead of the live renderer",
	}, instrument("activate_snapshot", t.handleActivateSnapshot))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "deactivate_snapshot",
		Description: "Send subsequent queries to the live renderer again",
	}, instrument("deactivate_snapshot", t.handleDeactivateSnapshot))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_snapshot",
		Description: "Delete one snapshot by id, or every snapshot when all is true",
	}, instrument("delete_snapshot", t.handleDeleteSnapshot))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "filters_dispatch",
		Description: `Apply a filter action, e.g. {"action":"Add","type":"Mesh","query":"m1"}, {"action":"Enable","mode":true}, {"action":"Remove","type":"Image","query":3} or {"action":"Clear"}`,
	}, instrument("filters_dispatch", t.handleFiltersDispatch))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "filters_state",
		Description: "Get the current filter state",
	}, instrument("filters_state", t.handleFiltersState))
}

func instrument[In any](name string, h mcp.ToolHandlerFor[In, any]) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, any, error) {
		start := time.Now()
		res, out, err := h(ctx, req, args)
		status := "success"
		if err != nil || (res != nil && res.IsError) {
			status = "error"
		}
		metrics.ToolCallsTotal.WithLabelValues(name, status).Inc()
		metrics.ToolCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		return res, out, err
	}
}

type listResourcesArgs struct {
	Kind string `json:"kind" jsonschema:"one of pipelines, render_targets, meshes, images, materials"`
}

type idArgs struct {
	ID any `json:"id" jsonschema:"the resource id as reported by list_resources"`
}

type renderQueueArgs struct {
	ID         any  `json:"id" jsonschema:"the pipeline id"`
	StageIndex int  `json:"stage_index" jsonschema:"index of the stage in the pipeline"`
	Resources  bool `json:"resources,omitempty" jsonschema:"return the resources used by the queue instead of the queue"`
}

type renderTargetArgs struct {
	ID              any  `json:"id" jsonschema:"the render target id"`
	AttachmentIndex *int `json:"attachment_index,omitempty" jsonschema:"color attachment to read back"`
}

type meshArgs struct {
	ID          any    `json:"id" jsonschema:"the mesh id"`
	Part        string `json:"part,omitempty" jsonschema:"info (default), data, vertex or index"`
	BufferIndex int    `json:"buffer_index,omitempty" jsonschema:"vertex buffer index when part is vertex"`
}

type imageArgs struct {
	ID   any  `json:"id" jsonschema:"the image id"`
	Data bool `json:"data,omitempty" jsonschema:"include the image pixels"`
}

type snapshotArgs struct {
	ID string `json:"id" jsonschema:"the snapshot id"`
}

type deleteSnapshotArgs struct {
	ID  string `json:"id,omitempty" jsonschema:"the snapshot id"`
	All bool   `json:"all,omitempty" jsonschema:"delete every snapshot"`
}

type filtersDispatchArgs struct {
	Action map[string]any `json:"action" jsonschema:"the filter action object"`
}

// result is the JSON rendering of a query response. Bytes holds the region
// of the binary buffer referenced by the response, base64 encoded.
type result struct {
	Value    any    `json:"value"`
	Shadowed bool   `json:"shadowed,omitempty"`
	Bytes    []byte `json:"bytes,omitempty"`
}

func fromResponse[T any](resp debugger.Response[T], err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		return renderResponse(nil, err)
	}
	return renderResponse(result{Value: resp.Value, Shadowed: resp.Shadowed}, nil)
}

func withBytes[T any](resp debugger.Response[T], err error, rng func(T) protocol.ByteRange) (*mcp.CallToolResult, any, error) {
	if err != nil {
		return renderResponse(nil, err)
	}
	data, err := resp.Bytes(rng(resp.Value))
	if err != nil {
		return renderResponse(nil, err)
	}
	return renderResponse(result{Value: resp.Value, Shadowed: resp.Shadowed, Bytes: data}, nil)
}

func (t *Tools) handleCheckPulse(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	if err := t.Debugger.CheckPulse(ctx); err != nil {
		return renderResponse(nil, err)
	}
	return renderResponse(map[string]bool{"alive": true}, nil)
}

func (t *Tools) handleListStages(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	return fromResponse(t.Debugger.ListStages(ctx))
}

func (t *Tools) handleListResources(ctx context.Context, _ *mcp.CallToolRequest, args listResourcesArgs) (*mcp.CallToolResult, any, error) {
	ids, err := t.listResources(ctx, args.Kind)
	if err != nil {
		return renderResponse(nil, err)
	}
	return renderResponse(ids, nil)
}

func (t *Tools) listResources(ctx context.Context, kind string) ([]any, error) {
	var (
		resp debugger.Response[[]any]
		err  error
		typ  filters.Type
	)
	switch kind {
	case "pipelines":
		resp, err = t.Debugger.ListPipelines(ctx)
		return resp.Value, err
	case "render_targets":
		resp, err = t.Debugger.ListRenderTargets(ctx)
		typ = filters.RenderTarget
	case "meshes":
		resp, err = t.Debugger.ListMeshes(ctx)
		typ = filters.Mesh
	case "images":
		resp, err = t.Debugger.ListImages(ctx)
		typ = filters.Image
	case "materials":
		resp, err = t.Debugger.ListMaterials(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(resp.Value))
		for _, id := range resp.Value {
			if t.Filters.IncludesMaterial(id) {
				out = append(out, id)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown resource kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(resp.Value))
	for _, id := range resp.Value {
		if t.Filters.Includes(typ, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (t *Tools) handleQueryPipeline(ctx context.Context, _ *mcp.CallToolRequest, args idArgs) (*mcp.CallToolResult, any, error) {
	return fromResponse(t.Debugger.QueryPipeline(ctx, args.ID))
}

func (t *Tools) handleQueryPipelineResources(ctx context.Context, _ *mcp.CallToolRequest, args idArgs) (*mcp.CallToolResult, any, error) {
	return fromResponse(t.Debugger.QueryPipelineResources(ctx, args.ID))
}

func (t *Tools) handleQueryRenderQueue(ctx context.Context, _ *mcp.CallToolRequest, args renderQueueArgs) (*mcp.CallToolResult, any, error) {
	if args.Resources {
		return fromResponse(t.Debugger.QueryPipelineStageRenderQueueResources(ctx, args.ID, args.StageIndex))
	}
	return fromResponse(t.Debugger.QueryPipelineStageRenderQueue(ctx, args.ID, args.StageIndex))
}

func (t *Tools) handleQueryRenderTarget(ctx context.Context, _ *mcp.CallToolRequest, args renderTargetArgs) (*mcp.CallToolResult, any, error) {
	if args.AttachmentIndex == nil {
		return fromResponse(t.Debugger.QueryRenderTarget(ctx, args.ID))
	}
	resp, err := t.Debugger.QueryRenderTargetColorData(ctx, args.ID, *args.AttachmentIndex)
	return withBytes(resp, err, func(d protocol.ColorData) protocol.ByteRange { return d.BytesRange })
}

func (t *Tools) handleQueryMesh(ctx context.Context, _ *mcp.CallToolRequest, args meshArgs) (*mcp.CallToolResult, any, error) {
	switch args.Part {
	case "", "info":
		return fromResponse(t.Debugger.QueryMesh(ctx, args.ID))
	case "data":
		// Every range points into one buffer, so the whole buffer is returned.
		resp, err := t.Debugger.QueryMeshData(ctx, args.ID)
		if err != nil {
			return renderResponse(nil, err)
		}
		return renderResponse(result{Value: resp.Value, Shadowed: resp.Shadowed, Bytes: resp.Binary}, nil)
	case "vertex":
		resp, err := t.Debugger.QueryMeshVertexData(ctx, args.ID, args.BufferIndex)
		return withBytes(resp, err, func(d protocol.VertexData) protocol.ByteRange { return d.BytesRange })
	case "index":
		resp, err := t.Debugger.QueryMeshIndexData(ctx, args.ID)
		return withBytes(resp, err, func(d protocol.IndexData) protocol.ByteRange { return d.BytesRange })
	}
	return renderResponse(nil, fmt.Errorf("unknown mesh part %q", args.Part))
}

func (t *Tools) handleQueryImage(ctx context.Context, _ *mcp.CallToolRequest, args imageArgs) (*mcp.CallToolResult, any, error) {
	if !args.Data {
		return fromResponse(t.Debugger.QueryImage(ctx, args.ID))
	}
	resp, err := t.Debugger.QueryImageData(ctx, args.ID)
	return withBytes(resp, err, func(d protocol.ImageData) protocol.ByteRange { return d.BytesRange })
}

func (t *Tools) handleQueryMaterial(ctx context.Context, _ *mcp.CallToolRequest, args idArgs) (*mcp.CallToolResult, any, error) {
	return fromResponse(t.Debugger.QueryMaterial(ctx, args.ID))
}

func (t *Tools) handleTakeSnapshot(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	s, err := t.Debugger.TakeSnapshot(ctx)
	if err != nil {
		return renderResponse(nil, err)
	}
	for _, summary := range t.Debugger.Snapshots().List() {
		if summary.ID == s.ID {
			return renderResponse(summary, nil)
		}
	}
	return renderResponse(nil, fmt.Errorf("snapshot %s was evicted", s.ID))
}

func (t *Tools) handleListSnapshots(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	return renderResponse(t.Debugger.Snapshots().List(), nil)
}

func (t *Tools) handleActivateSnapshot(_ context.Context, _ *mcp.CallToolRequest, args snapshotArgs) (*mcp.CallToolResult, any, error) {
	if err := t.Debugger.ActivateSnapshot(args.ID); err != nil {
		return renderResponse(nil, err)
	}
	return renderResponse(map[string]string{"active": args.ID}, nil)
}

func (t *Tools) handleDeactivateSnapshot(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	if err := t.Debugger.DeactivateSnapshot(); err != nil {
		return renderResponse(nil, err)
	}
	return renderResponse(map[string]any{"active": nil}, nil)
}

func (t *Tools) handleDeleteSnapshot(_ context.Context, _ *mcp.CallToolRequest, args deleteSnapshotArgs) (*mcp.CallToolResult, any, error) {
	var err error
	switch {
	case args.All:
		err = t.Debugger.DeleteAllSnapshots()
	case args.ID != "":
		err = t.Debugger.DeleteSnapshot(args.ID)
	default:
		err = errors.New("either id or all is required")
	}
	if err != nil {
		return renderResponse(nil, err)
	}
	return renderResponse(t.Debugger.Snapshots().List(), nil)
}

func (t *Tools) handleFiltersDispatch(_ context.Context, _ *mcp.CallToolRequest, args filtersDispatchArgs) (*mcp.CallToolResult, any, error) {
	raw, err := json.Marshal(args.Action)
	if err != nil {
		return renderResponse(nil, err)
	}
	action, err := filters.DecodeAction(raw)
	if err != nil {
		return renderResponse(nil, err)
	}
	state := t.Filters.Dispatch(action)
	t.Log.Info("filters updated", "action", args.Action["action"])
	return renderResponse(state.View(), nil)
}

func (t *Tools) handleFiltersState(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	return renderResponse(t.Filters.State().View(), nil)
}

func renderResponse(data any, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: err.Error()},
			},
			IsError: true,
		}, nil, nil
	}

	payload, marshalErr := json.Marshal(data)
	if marshalErr != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: marshalErr.Error()},
			},
			IsError: true,
		}, nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(payload)},
		},
	}, nil, nil
}
