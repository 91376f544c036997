package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Resource identifiers are opaque renderer values (numbers, strings or
// objects) and are carried as decoded JSON. Detailed info structures
// (pipeline info, vertex layouts, formats, render queues) are opaque too.

type StageRequest struct {
	ID         any `json:"id"`
	StageIndex int `json:"stage_index"`
}

type ColorDataRequest struct {
	ID              any `json:"id"`
	AttachmentIndex int `json:"attachment_index"`
}

type VertexDataRequest struct {
	ID          any `json:"id"`
	BufferIndex int `json:"buffer_index"`
}

type Stage struct {
	StageName string `json:"stage_name"`
	TypeName  string `json:"type_name"`
}

type Pipeline struct {
	ID   any `json:"id"`
	Info any `json:"info"`
}

// MaterialKey identifies one baked version of a material. It travels as an
// [id, signature] pair.
type MaterialKey struct {
	ID        any
	Signature any
}

func (k MaterialKey) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{k.ID, k.Signature})
}

func (k *MaterialKey) UnmarshalJSON(data []byte) error {
	var pair []any
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("failed to decode material key: %w", err)
	}
	if len(pair) != 2 {
		return errors.New("material key must be an [id, signature] pair")
	}
	k.ID, k.Signature = pair[0], pair[1]
	return nil
}

// Filter returns the {id, signature} form used by material filters.
func (k MaterialKey) Filter() map[string]any {
	return map[string]any{"id": k.ID, "signature": k.Signature}
}

type PipelineResources struct {
	ID            any           `json:"id"`
	RenderTargets []any         `json:"render_targets"`
	Meshes        []any         `json:"meshes"`
	Images        []any         `json:"images"`
	Materials     []MaterialKey `json:"materials"`
}

type RenderQueue struct {
	ID          any `json:"id"`
	StageIndex  int `json:"stage_index"`
	RenderQueue any `json:"render_queue"`
}

type RenderQueueResources struct {
	ID         any           `json:"id"`
	StageIndex int           `json:"stage_index"`
	Meshes     []any         `json:"meshes"`
	Images     []any         `json:"images"`
	Materials  []MaterialKey `json:"materials"`
}

type RenderTarget struct {
	ID   any `json:"id"`
	Info any `json:"info"`
}

type ColorData struct {
	ID              any       `json:"id"`
	AttachmentIndex int       `json:"attachment_index"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	ValueType       any       `json:"value_type"`
	BytesRange      ByteRange `json:"bytes_range"`
}

type Mesh struct {
	ID   any `json:"id"`
	Info any `json:"info"`
}

type VertexData struct {
	ID          any       `json:"id"`
	BufferIndex int       `json:"buffer_index"`
	Layout      any       `json:"layout"`
	BytesRange  ByteRange `json:"bytes_range"`
}

type IndexData struct {
	ID         any       `json:"id"`
	DrawMode   any       `json:"draw_mode"`
	BytesRange ByteRange `json:"bytes_range"`
}

// MeshData carries every vertex buffer and the index buffer of a mesh.
// Layout is expected to hold a "buffers" list with one entry per vertex range.
type MeshData struct {
	ID                any         `json:"id"`
	Layout            any         `json:"layout"`
	DrawMode          any         `json:"draw_mode"`
	VertexBytesRanges []ByteRange `json:"vertex_bytes_ranges"`
	IndexBytesRange   ByteRange   `json:"index_bytes_range"`
}

// VertexBufferLayout returns the layout of the vertex buffer at index, if present.
func (m MeshData) VertexBufferLayout(index int) (any, bool) {
	layout, ok := m.Layout.(map[string]any)
	if !ok {
		return nil, false
	}
	buffers, ok := layout["buffers"].([]any)
	if !ok || index < 0 || index >= len(buffers) {
		return nil, false
	}
	return buffers[index], true
}

// VertexData extracts one vertex buffer as a QueryMeshVertexData response.
func (m MeshData) VertexData(index int) (VertexData, bool) {
	if index < 0 || index >= len(m.VertexBytesRanges) {
		return VertexData{}, false
	}
	layout, _ := m.VertexBufferLayout(index)
	return VertexData{
		ID:          m.ID,
		BufferIndex: index,
		Layout:      layout,
		BytesRange:  m.VertexBytesRanges[index],
	}, true
}

// IndexData extracts the index buffer as a QueryMeshIndexData response.
func (m MeshData) IndexData() IndexData {
	return IndexData{ID: m.ID, DrawMode: m.DrawMode, BytesRange: m.IndexBytesRange}
}

type Image struct {
	ID   any `json:"id"`
	Info any `json:"info"`
}

type ImageData struct {
	ID         any       `json:"id"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Depth      int       `json:"depth"`
	Format     any       `json:"format"`
	BytesRange ByteRange `json:"bytes_range"`
}

type MaterialInfo struct {
	// Versions holds [signature, baked shaders] pairs.
	Versions      [][2]any       `json:"versions"`
	DefaultValues map[string]any `json:"default_values"`
}

type Material struct {
	ID   any          `json:"id"`
	Info MaterialInfo `json:"info"`
}

// TakeSnapshot is the full renderer state captured in one message. Every
// byte range points into the binary buffer sent with it.
type TakeSnapshot struct {
	Stages                 []Stage        `json:"stages"`
	Pipelines              []Pipeline     `json:"pipelines"`
	PipelinesRenderQueues  []RenderQueue  `json:"pipelines_render_queues"`
	RenderTargets          []RenderTarget `json:"render_targets"`
	RenderTargetsColorData []ColorData    `json:"render_targets_color_data"`
	Meshes                 []Mesh         `json:"meshes"`
	MeshesData             []MeshData     `json:"meshes_data"`
	Images                 []Image        `json:"images"`
	ImagesData             []ImageData    `json:"images_data"`
	Materials              []Material     `json:"materials"`
}
