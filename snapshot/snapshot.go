// Package snapshot keeps frozen renderer states that can answer debugger
// queries without a round trip.
package snapshot

import (
	"time"

	"hard-bridge/pattern"
	"hard-bridge/protocol"
)

// Snapshot is an immutable capture of a TakeSnapshot response. Byte ranges in
// Data point into Binary.
type Snapshot struct {
	ID        string
	Timestamp time.Time
	Data      protocol.TakeSnapshot
	Binary    []byte
}

// Summary is the listing form of a snapshot.
type Summary struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Active        bool      `json:"active"`
	Pipelines     int       `json:"pipelines"`
	RenderTargets int       `json:"render_targets"`
	Meshes        int       `json:"meshes"`
	Images        int       `json:"images"`
	Materials     int       `json:"materials"`
	Bytes         int       `json:"bytes"`
}

func (s *Snapshot) summary(active bool) Summary {
	return Summary{
		ID:            s.ID,
		Timestamp:     s.Timestamp,
		Active:        active,
		Pipelines:     len(s.Data.Pipelines),
		RenderTargets: len(s.Data.RenderTargets),
		Meshes:        len(s.Data.Meshes),
		Images:        len(s.Data.Images),
		Materials:     len(s.Data.Materials),
		Bytes:         len(s.Binary),
	}
}

func sameID(a, b any) bool {
	return pattern.Matches(a, pattern.Eq(b), false)
}

func find[T any](items []T, match func(T) bool) (T, bool) {
	for _, item := range items {
		if match(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

func ids[T any](items []T, id func(T) any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, id(item))
	}
	return out
}

func (s *Snapshot) Stages() []protocol.Stage {
	out := make([]protocol.Stage, len(s.Data.Stages))
	copy(out, s.Data.Stages)
	return out
}

func (s *Snapshot) PipelineIDs() []any {
	return ids(s.Data.Pipelines, func(p protocol.Pipeline) any { return p.ID })
}

func (s *Snapshot) RenderTargetIDs() []any {
	return ids(s.Data.RenderTargets, func(r protocol.RenderTarget) any { return r.ID })
}

func (s *Snapshot) MeshIDs() []any {
	return ids(s.Data.Meshes, func(m protocol.Mesh) any { return m.ID })
}

func (s *Snapshot) ImageIDs() []any {
	return ids(s.Data.Images, func(i protocol.Image) any { return i.ID })
}

func (s *Snapshot) MaterialIDs() []any {
	return ids(s.Data.Materials, func(m protocol.Material) any { return m.ID })
}

func (s *Snapshot) Pipeline(id any) (protocol.Pipeline, bool) {
	return find(s.Data.Pipelines, func(p protocol.Pipeline) bool { return sameID(p.ID, id) })
}

func (s *Snapshot) PipelineRenderQueue(id any, stage int) (protocol.RenderQueue, bool) {
	return find(s.Data.PipelinesRenderQueues, func(q protocol.RenderQueue) bool {
		return sameID(q.ID, id) && q.StageIndex == stage
	})
}

func (s *Snapshot) RenderTarget(id any) (protocol.RenderTarget, bool) {
	return find(s.Data.RenderTargets, func(r protocol.RenderTarget) bool { return sameID(r.ID, id) })
}

func (s *Snapshot) RenderTargetColorData(id any, attachment int) (protocol.ColorData, bool) {
	return find(s.Data.RenderTargetsColorData, func(c protocol.ColorData) bool {
		return sameID(c.ID, id) && c.AttachmentIndex == attachment
	})
}

func (s *Snapshot) Mesh(id any) (protocol.Mesh, bool) {
	return find(s.Data.Meshes, func(m protocol.Mesh) bool { return sameID(m.ID, id) })
}

func (s *Snapshot) MeshData(id any) (protocol.MeshData, bool) {
	return find(s.Data.MeshesData, func(m protocol.MeshData) bool { return sameID(m.ID, id) })
}

func (s *Snapshot) Image(id any) (protocol.Image, bool) {
	return find(s.Data.Images, func(i protocol.Image) bool { return sameID(i.ID, id) })
}

func (s *Snapshot) ImageData(id any) (protocol.ImageData, bool) {
	return find(s.Data.ImagesData, func(i protocol.ImageData) bool { return sameID(i.ID, id) })
}

func (s *Snapshot) Material(id any) (protocol.Material, bool) {
	return find(s.Data.Materials, func(m protocol.Material) bool { return sameID(m.ID, id) })
}
