package responder

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scene is a static renderer state served by the Responder.
type Scene struct {
	// NoContext makes GPU readbacks fail with RendererHasNoContext.
	NoContext     bool                `yaml:"no_context"`
	Stages        []SceneStage        `yaml:"stages"`
	Pipelines     []ScenePipeline     `yaml:"pipelines"`
	RenderTargets []SceneRenderTarget `yaml:"render_targets"`
	Meshes        []SceneMesh         `yaml:"meshes"`
	Images        []SceneImage        `yaml:"images"`
	Materials     []SceneMaterial     `yaml:"materials"`
}

type SceneStage struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type ScenePipeline struct {
	ID            any   `yaml:"id"`
	Info          any   `yaml:"info"`
	RenderTargets []any `yaml:"render_targets"`
	// Stages holds one render queue per stage; a null entry is a stage without one.
	Stages []any `yaml:"stages"`
}

type SceneRenderTarget struct {
	ID     any                `yaml:"id"`
	Info   any                `yaml:"info"`
	Width  int                `yaml:"width"`
	Height int                `yaml:"height"`
	Color  []SceneColorBuffer `yaml:"color"`
}

type SceneColorBuffer struct {
	ValueType any `yaml:"value_type"`
	// Data is nil when the buffer has no GPU resource to read back.
	Data Bytes `yaml:"data"`
}

type SceneMesh struct {
	ID       any     `yaml:"id"`
	Info     any     `yaml:"info"`
	Layout   any     `yaml:"layout"`
	DrawMode any     `yaml:"draw_mode"`
	Vertices []Bytes `yaml:"vertices"`
	Indices  Bytes   `yaml:"indices"`
}

type SceneImage struct {
	ID     any   `yaml:"id"`
	Info   any   `yaml:"info"`
	Width  int   `yaml:"width"`
	Height int   `yaml:"height"`
	Depth  int   `yaml:"depth"`
	Format any   `yaml:"format"`
	Data   Bytes `yaml:"data"`
}

type SceneMaterial struct {
	ID any `yaml:"id"`
	// Versions holds [signature, baked shaders] pairs.
	Versions      [][]any        `yaml:"versions"`
	DefaultValues map[string]any `yaml:"default_values"`
}

// Bytes decodes from a base64 string or a sequence of byte values.
type Bytes []byte

func (b *Bytes) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*b = nil
			return nil
		}
		raw := strings.Join(strings.Fields(node.Value), "")
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return fmt.Errorf("line %d: invalid base64 bytes: %w", node.Line, err)
		}
		*b = decoded
		return nil
	case yaml.SequenceNode:
		var values []uint8
		if err := node.Decode(&values); err != nil {
			return fmt.Errorf("line %d: invalid byte sequence: %w", node.Line, err)
		}
		*b = values
		return nil
	}
	return fmt.Errorf("line %d: bytes must be base64 or a sequence", node.Line)
}

// ParseScene decodes a YAML scene.
func ParseScene(data []byte) (*Scene, error) {
	var scene Scene
	if err := yaml.Unmarshal(data, &scene); err != nil {
		return nil, fmt.Errorf("failed to parse scene: %w", err)
	}
	for i, m := range scene.Materials {
		for j, v := range m.Versions {
			if len(v) != 2 {
				return nil, fmt.Errorf("material %v version %d must be a [signature, baked] pair", scene.Materials[i].ID, j)
			}
		}
	}
	return &scene, nil
}

// LoadScene reads a YAML scene file.
func LoadScene(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene: %w", err)
	}
	return ParseScene(data)
}
