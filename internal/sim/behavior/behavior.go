package behavior

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Behavior is a named script template: parameter defaults and a node sequence.
type Behavior struct {
	Name   string
	Params Params
	Nodes  []Node
}

// UnmarshalYAML decodes {params: {...}, sequence: [[kind, ...], ...]}.
// The name comes from the enclosing mapping key and is set by the caller.
func (b *Behavior) UnmarshalYAML(n *yaml.Node) error {
	var raw struct {
		Params   Params      `yaml:"params"`
		Sequence []yaml.Node `yaml:"sequence"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	b.Params = raw.Params
	if b.Params == nil {
		b.Params = Params{}
	}
	b.Nodes = make([]Node, 0, len(raw.Sequence))
	for i := range raw.Sequence {
		node, err := Parse(&raw.Sequence[i])
		if err != nil {
			return fmt.Errorf("sequence[%d]: %w", i, err)
		}
		b.Nodes = append(b.Nodes, node)
	}
	return nil
}

// Instantiate binds the template to a model. Overrides take precedence over
// the template's defaults.
func (b *Behavior) Instantiate(overrides Params, modelName string) (*Runtime, error) {
	params := Merge(b.Params, overrides)
	nodes := make([]Node, 0, len(b.Nodes))
	for i, tmpl := range b.Nodes {
		n, err := Instantiate(tmpl, params, modelName)
		if err != nil {
			return nil, fmt.Errorf("behavior %s: node %d: %w", b.Name, i, err)
		}
		nodes = append(nodes, n)
	}
	return &Runtime{Behavior: b.Name, ModelName: modelName, Nodes: nodes}, nil
}

func (b *Behavior) Print() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "behavior %s:", b.Name)
	for _, n := range b.Nodes {
		sb.WriteString("\n  ")
		sb.WriteString(Print(n))
	}
	return sb.String()
}

// Runtime is an instantiated behavior running on one model.
type Runtime struct {
	Behavior  string
	ModelName string
	Nodes     []Node

	current int
}

func (r *Runtime) Current() int { return r.current }

func (r *Runtime) Done() bool { return r == nil || r.current >= len(r.Nodes) }

// Seek positions the sequence at node i, clamped to the sequence length.
func (r *Runtime) Seek(i int) {
	if i < 0 {
		i = 0
	}
	if i > len(r.Nodes) {
		i = len(r.Nodes)
	}
	r.current = i
}

// Progress is the in-node progress of the current node.
func (r *Runtime) Progress() float64 {
	if r.Done() {
		return 0
	}
	return Progress(r.Nodes[r.current])
}

// Restore seeks to node i and restores its in-node progress.
func (r *Runtime) Restore(i int, progress float64) {
	r.Seek(i)
	if !r.Done() {
		restoreProgress(r.Nodes[r.current], progress)
	}
}

// Tick runs the current node; a completed node hands over on the next tick.
func (r *Runtime) Tick(env *Env) {
	if r.Done() {
		return
	}
	n := r.Nodes[r.current]
	Tick(n, env)
	if IsComplete(n) {
		r.current++
	}
}
