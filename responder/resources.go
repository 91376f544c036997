package responder

import (
	"hard-bridge/pattern"
	"hard-bridge/protocol"
)

type usedResources struct {
	meshes    []any
	images    []any
	materials []protocol.MaterialKey
}

type command = func(any, *usedResources)

var samplerTags = []string{"Sampler2d", "Sampler2dArray", "Sampler3d"}

// collect walks the commands of a render queue and gathers every mesh,
// material and image it activates. Images are taken from sampler uniform
// overrides and from the default values of activated materials.
func (r *Responder) collect(queue any) usedResources {
	var used usedResources
	commands, _ := fieldOf(pattern.Normalize(queue), "commands").([]any)
	for _, entry := range commands {
		// Commands are [group, command] pairs.
		pair, ok := entry.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		handle, ok := pattern.Match(pair[1],
			pattern.Then[command](pattern.Tagged("ActivateMaterial"), r.activateMaterial),
			pattern.Then[command](pattern.Tagged("ActivateMesh"), activateMesh),
			pattern.Then[command](pattern.Tagged("OverrideUniform"), overrideUniform),
		)
		if ok {
			handle(pair[1], &used)
		}
	}
	return used
}

func (r *Responder) activateMaterial(cmd any, used *usedResources) {
	key, ok := fieldOf(cmd, "ActivateMaterial").([]any)
	if !ok || len(key) != 2 {
		return
	}
	used.materials = appendUniqueMaterials(used.materials, protocol.MaterialKey{ID: key[0], Signature: key[1]})
	m, ok := findByID(r.scene.Materials, key[0], func(m SceneMaterial) any { return m.ID })
	if !ok {
		return
	}
	for _, value := range m.DefaultValues {
		if id, ok := samplerImage(pattern.Normalize(value)); ok {
			used.images = appendUnique(used.images, id)
		}
	}
}

func activateMesh(cmd any, used *usedResources) {
	used.meshes = appendUnique(used.meshes, fieldOf(cmd, "ActivateMesh"))
}

func overrideUniform(cmd any, used *usedResources) {
	// [name, value]
	args, ok := fieldOf(cmd, "OverrideUniform").([]any)
	if !ok || len(args) != 2 {
		return
	}
	if id, ok := samplerImage(args[1]); ok {
		used.images = appendUnique(used.images, id)
	}
}

// samplerImage extracts the image id referenced by a sampler uniform value.
func samplerImage(value any) (any, bool) {
	for _, tag := range samplerTags {
		sampler, ok := fieldOf(value, tag).(map[string]any)
		if !ok {
			continue
		}
		ref := sampler["reference"]
		return pattern.Match(ref,
			pattern.When(pattern.Tagged("Id"), func(v any) any { return fieldOf(v, "Id") }),
			pattern.When(pattern.Nested{"VirtualId": pattern.Nested{"id": pattern.Wildcard}}, func(v any) any {
				return fieldOf(fieldOf(v, "VirtualId"), "id")
			}),
		)
	}
	return nil, false
}

func appendUnique(list []any, values ...any) []any {
	for _, v := range values {
		if !containsValue(list, v) {
			list = append(list, v)
		}
	}
	return list
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if pattern.Matches(item, pattern.Eq(v), false) {
			return true
		}
	}
	return false
}

func appendUniqueMaterials(list []protocol.MaterialKey, keys ...protocol.MaterialKey) []protocol.MaterialKey {
	for _, k := range keys {
		found := false
		for _, item := range list {
			if pattern.Matches(item.Filter(), pattern.Eq(k.Filter()), true) {
				found = true
				break
			}
		}
		if !found {
			list = append(list, k)
		}
	}
	return list
}

// responseShapes recognises payloads that are answers rather than requests,
// so a responder never answers another responder.
var responseShapes = map[string]pattern.Pattern{
	protocol.KindQueryPipeline:                          pattern.Nested{"info": pattern.Wildcard},
	protocol.KindQueryPipelineResources:                 pattern.Nested{"render_targets": pattern.Wildcard},
	protocol.KindQueryPipelineStageRenderQueue:          pattern.Nested{"render_queue": pattern.Wildcard},
	protocol.KindQueryPipelineStageRenderQueueResources: pattern.Nested{"meshes": pattern.Wildcard},
	protocol.KindQueryRenderTarget:                      pattern.Nested{"info": pattern.Wildcard},
	protocol.KindQueryRenderTargetColorData:             pattern.Nested{"bytes_range": pattern.Wildcard},
	protocol.KindQueryMesh:                              pattern.Nested{"info": pattern.Wildcard},
	protocol.KindQueryMeshVertexData:                    pattern.Nested{"bytes_range": pattern.Wildcard},
	protocol.KindQueryMeshIndexData:                     pattern.Nested{"bytes_range": pattern.Wildcard},
	protocol.KindQueryMeshData:                          pattern.Nested{"index_bytes_range": pattern.Wildcard},
	protocol.KindQueryImage:                             pattern.Nested{"info": pattern.Wildcard},
	protocol.KindQueryImageData:                         pattern.Nested{"bytes_range": pattern.Wildcard},
	protocol.KindQueryMaterial:                          pattern.Nested{"info": pattern.Wildcard},
}

func isResponse(kind string, value any) bool {
	if !protocol.IsRequest(kind) {
		return false
	}
	if shape, ok := responseShapes[kind]; ok {
		return pattern.Matches(value, shape, false)
	}
	// Requests without arguments carry no payload.
	return kind != protocol.KindCheckPulse && value != nil
}
