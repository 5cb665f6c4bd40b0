package scenario

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"trafficeditor.app/internal/sim/behavior"
)

//go:embed scenario.schema.json
var schemaJSON string

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("scenario.schema.json", schemaJSON)
})

// Scenario is a set of behavior templates and the models that run them.
type Scenario struct {
	Name      string
	Behaviors map[string]*behavior.Behavior
	Models    []ModelSpec
}

type ModelSpec struct {
	Name     string          `yaml:"name"`
	Model    string          `yaml:"model"`
	Behavior string          `yaml:"behavior"`
	Params   behavior.Params `yaml:"params"`
	// Start is a vertex name resolved on every reset.
	Start string `yaml:"start"`
}

func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("scenario.yaml: %w", err)
	}
	return sc, nil
}

// Parse validates raw against the scenario schema, decodes it and checks
// that every model can instantiate its behavior.
func Parse(raw []byte) (*Scenario, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}

	var doc struct {
		Name      string                        `yaml:"name"`
		Behaviors map[string]*behavior.Behavior `yaml:"behaviors"`
		Models    []ModelSpec                   `yaml:"models"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	sc := &Scenario{Name: doc.Name, Behaviors: doc.Behaviors, Models: doc.Models}
	if sc.Behaviors == nil {
		sc.Behaviors = map[string]*behavior.Behavior{}
	}
	for name, b := range sc.Behaviors {
		if b == nil {
			return nil, fmt.Errorf("behavior %s: empty", name)
		}
		b.Name = name
	}

	seen := map[string]bool{}
	for _, m := range sc.Models {
		if seen[m.Name] {
			return nil, fmt.Errorf("model %s: duplicate instance name", m.Name)
		}
		seen[m.Name] = true
		b := sc.Behaviors[m.Behavior]
		if b == nil {
			return nil, fmt.Errorf("model %s: unknown behavior %q", m.Name, m.Behavior)
		}
		if _, err := b.Instantiate(m.Params, m.Name); err != nil {
			return nil, fmt.Errorf("model %s: %w", m.Name, err)
		}
	}
	return sc, nil
}

// Validate checks raw YAML against the embedded JSON Schema.
func Validate(raw []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return fmt.Errorf("compile scenario schema: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	// Round-trip through JSON so the validator sees JSON value types.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("scenario is not JSON-compatible: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

func (sc *Scenario) BehaviorNames() []string {
	out := make([]string, 0, len(sc.Behaviors))
	for name := range sc.Behaviors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
