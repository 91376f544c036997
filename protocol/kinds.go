// Package protocol defines the exchange catalog spoken between the debugger
// and the renderer: message kinds, request and response payloads, and the
// byte range convention for binary data.
package protocol

import "slices"

// Version is the protocol version both sides tag their messages with.
const Version = 0

// Request kinds. Each response reuses the request kind.
const (
	KindCheckPulse                             = "CheckPulse"
	KindTakeSnapshot                           = "TakeSnapshot"
	KindListStages                             = "ListStages"
	KindListPipelines                          = "ListPipelines"
	KindListRenderTargets                      = "ListRenderTargets"
	KindListMeshes                             = "ListMeshes"
	KindListImages                             = "ListImages"
	KindListMaterials                          = "ListMaterials"
	KindQueryPipeline                          = "QueryPipeline"
	KindQueryPipelineResources                 = "QueryPipelineResources"
	KindQueryPipelineStageRenderQueue          = "QueryPipelineStageRenderQueue"
	KindQueryPipelineStageRenderQueueResources = "QueryPipelineStageRenderQueueResources"
	KindQueryRenderTarget                      = "QueryRenderTarget"
	KindQueryRenderTargetColorData             = "QueryRenderTargetColorData"
	KindQueryMesh                              = "QueryMesh"
	KindQueryMeshVertexData                    = "QueryMeshVertexData"
	KindQueryMeshIndexData                     = "QueryMeshIndexData"
	KindQueryMeshData                          = "QueryMeshData"
	KindQueryImage                             = "QueryImage"
	KindQueryImageData                         = "QueryImageData"
	KindQueryMaterial                          = "QueryMaterial"
)

// Failure kinds sent by the renderer instead of the regular response.
const (
	KindUnknownRequest                = "UnknownRequest"
	KindRendererHasNoContext          = "RendererHasNoContext"
	KindPipelineDoesNotExists         = "PipelineDoesNotExists"
	KindPipelineStageDoesNotExists    = "PipelineStageDoesNotExists"
	KindRenderTargetDoesNotExists     = "RenderTargetDoesNotExists"
	KindRenderTargetHasNoColorBuffer  = "RenderTargetHasNoColorBuffer"
	KindRenderTargetHasNoGpuResource  = "RenderTargetHasNoGpuResource"
	KindMeshDoesNotExists             = "MeshDoesNotExists"
	KindMeshVertexBufferDoesNotExists = "MeshVertexBufferDoesNotExists"
	KindImageDoesNotExists            = "ImageDoesNotExists"
	KindMaterialDoesNotExists         = "MaterialDoesNotExists"
)

// Local notification raised when the active snapshot changes.
const KindSnapshotChanged = "SnapshotChanged"

var requestKinds = []string{
	KindCheckPulse,
	KindTakeSnapshot,
	KindListStages,
	KindListPipelines,
	KindListRenderTargets,
	KindListMeshes,
	KindListImages,
	KindListMaterials,
	KindQueryPipeline,
	KindQueryPipelineResources,
	KindQueryPipelineStageRenderQueue,
	KindQueryPipelineStageRenderQueueResources,
	KindQueryRenderTarget,
	KindQueryRenderTargetColorData,
	KindQueryMesh,
	KindQueryMeshVertexData,
	KindQueryMeshIndexData,
	KindQueryMeshData,
	KindQueryImage,
	KindQueryImageData,
	KindQueryMaterial,
}

var failureKinds = []string{
	KindUnknownRequest,
	KindRendererHasNoContext,
	KindPipelineDoesNotExists,
	KindPipelineStageDoesNotExists,
	KindRenderTargetDoesNotExists,
	KindRenderTargetHasNoColorBuffer,
	KindRenderTargetHasNoGpuResource,
	KindMeshDoesNotExists,
	KindMeshVertexBufferDoesNotExists,
	KindImageDoesNotExists,
	KindMaterialDoesNotExists,
}

// RequestKinds returns every request kind in the catalog.
func RequestKinds() []string {
	return slices.Clone(requestKinds)
}

// IsRequest reports whether kind is a request kind of the catalog.
func IsRequest(kind string) bool {
	return slices.Contains(requestKinds, kind)
}

// IsFailure reports whether kind is a renderer failure kind.
func IsFailure(kind string) bool {
	return slices.Contains(failureKinds, kind)
}

// KindLabel returns kind when it belongs to the catalog and "unknown"
// otherwise. Metrics keyed by kind use it to keep a bounded label set.
func KindLabel(kind string) string {
	if IsRequest(kind) || IsFailure(kind) || kind == KindSnapshotChanged {
		return kind
	}
	return "unknown"
}
