package building

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"trafficeditor.app/internal/sim/model"
)

// Building is the scene data behavior nodes resolve destinations against.
type Building struct {
	Name   string
	Levels []Level
}

type Level struct {
	Name      string
	Elevation float64
	// Scale converts drawing units to meters.
	Scale    float64
	Vertices []Vertex
}

type Vertex struct {
	X, Y, Z float64
	Name    string
	Params  map[string]any
}

func New(name string, levels ...Level) *Building {
	return &Building{Name: name, Levels: levels}
}

func Load(path string) (*Building, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("building.yaml: %w", err)
	}
	return b, nil
}

func Parse(raw []byte) (*Building, error) {
	var doc struct {
		Name   string    `yaml:"name"`
		Levels yaml.Node `yaml:"levels"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	levels, err := decodeLevels(&doc.Levels)
	if err != nil {
		return nil, err
	}
	return New(doc.Name, levels...), nil
}

// decodeLevels keeps the file order of the levels mapping so vertex lookup
// is deterministic when names repeat across levels.
func decodeLevels(n *yaml.Node) ([]Level, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: levels must be a mapping", n.Line)
	}
	out := make([]Level, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		var name string
		if err := n.Content[i].Decode(&name); err != nil {
			return nil, err
		}
		var raw struct {
			Elevation float64  `yaml:"elevation"`
			Scale     float64  `yaml:"scale"`
			Vertices  []Vertex `yaml:"vertices"`
		}
		if err := n.Content[i+1].Decode(&raw); err != nil {
			return nil, fmt.Errorf("level %s: %w", name, err)
		}
		if raw.Scale == 0 {
			raw.Scale = 1
		}
		out = append(out, Level{
			Name:      name,
			Elevation: raw.Elevation,
			Scale:     raw.Scale,
			Vertices:  raw.Vertices,
		})
	}
	return out, nil
}

// UnmarshalYAML decodes the editor's flow form: [x, y, z, name, {params}].
func (v *Vertex) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: vertex must be a sequence", n.Line)
	}
	if len(n.Content) < 2 {
		return fmt.Errorf("line %d: vertex needs at least x and y", n.Line)
	}
	coords := []*float64{&v.X, &v.Y, &v.Z}
	for i, dst := range coords {
		if i >= len(n.Content) {
			break
		}
		if err := n.Content[i].Decode(dst); err != nil {
			return err
		}
	}
	if len(n.Content) > 3 {
		if err := n.Content[3].Decode(&v.Name); err != nil {
			return err
		}
	}
	if len(n.Content) > 4 {
		if err := n.Content[4].Decode(&v.Params); err != nil {
			return err
		}
	}
	return nil
}

// VertexState resolves a named vertex to a pose with zero yaw. Levels are
// scanned in order on every call and the first match wins, so edits to Levels
// are always visible.
func (b *Building) VertexState(name string) (model.ModelState, bool) {
	if b == nil || name == "" {
		return model.ModelState{}, false
	}
	for _, l := range b.Levels {
		for _, v := range l.Vertices {
			if v.Name != name {
				continue
			}
			scale := l.Scale
			if scale == 0 {
				scale = 1
			}
			return model.ModelState{
				X: v.X * scale,
				Y: v.Y * scale,
				Z: l.Elevation + v.Z,
			}, true
		}
	}
	return model.ModelState{}, false
}

func (b *Building) VertexCount() int {
	n := 0
	for _, l := range b.Levels {
		n += len(l.Vertices)
	}
	return n
}
