package behavior

import (
	"errors"
	"fmt"
	"log"

	"gopkg.in/yaml.v3"

	"trafficeditor.app/internal/sim"
	"trafficeditor.app/internal/sim/building"
	"trafficeditor.app/internal/sim/model"
)

type Kind string

const (
	KindTeleport      Kind = "teleport"
	KindNavigate      Kind = "navigate"
	KindWait          Kind = "wait"
	KindSignal        Kind = "signal"
	KindWaitForSignal Kind = "wait_for_signal"
)

var (
	ErrShortNode   = errors.New("behavior node too short")
	ErrNotScalar   = errors.New("expected a scalar")
	ErrUnknownKind = errors.New("unknown behavior node kind")
	ErrBadNumber   = errors.New("not a number")
)

// Node is one scripted action. The set of implementations is closed: every
// operation on a node is a type switch over the kinds declared in this package.
type Node interface {
	Kind() Kind
	sealed()
}

// Env is what a node may read and mutate during one tick. The controller owns
// all of it; nodes never keep references past the call.
type Env struct {
	DT float64

	// State is the owning model's state.
	State    *model.ModelState
	Building *building.Building
	Active   []*model.Model

	Inbound  []string
	Outbound *[]string
	Events   *[]sim.Event

	DefaultSpeed    float64
	ArriveTolerance float64

	Log *log.Logger
}

func (e *Env) logf(format string, args ...any) {
	if e.Log != nil {
		e.Log.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (e *Env) emit(ev sim.Event) {
	if e.Events != nil {
		*e.Events = append(*e.Events, ev)
	}
}

// Parse builds a node template from its declarative list form, e.g.
// [teleport, vertex_A, "90", robot_1].
func Parse(n *yaml.Node) (Node, error) {
	if n != nil && n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	if n == nil || n.Kind != yaml.SequenceNode {
		line := 0
		if n != nil {
			line = n.Line
		}
		return nil, fmt.Errorf("line %d: behavior node must be a sequence", line)
	}
	if len(n.Content) == 0 {
		return nil, fmt.Errorf("line %d: %w", n.Line, ErrShortNode)
	}
	kind, err := scalarAt(n, 0)
	if err != nil {
		return nil, err
	}
	switch Kind(kind) {
	case KindTeleport:
		return parseTeleport(n)
	case KindNavigate:
		return parseNavigate(n)
	case KindWait:
		return parseWait(n)
	case KindSignal:
		return parseSignal(n)
	case KindWaitForSignal:
		return parseWaitForSignal(n)
	default:
		return nil, fmt.Errorf("line %d: %w %q", n.Line, ErrUnknownKind, kind)
	}
}

// ParseString is Parse over YAML text.
func ParseString(src string) (Node, error) {
	var n yaml.Node
	if err := yaml.Unmarshal([]byte(src), &n); err != nil {
		return nil, err
	}
	return Parse(&n)
}

func scalarAt(n *yaml.Node, i int) (string, error) {
	if i >= len(n.Content) {
		return "", fmt.Errorf("line %d: %w: missing element %d", n.Line, ErrShortNode, i)
	}
	c := n.Content[i]
	if c.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("line %d: element %d: %w", c.Line, i, ErrNotScalar)
	}
	return c.Value, nil
}

func optionalScalarAt(n *yaml.Node, i int) (string, error) {
	if i >= len(n.Content) {
		return "", nil
	}
	return scalarAt(n, i)
}

// Instantiate returns a copy of the template with parameters substituted and
// numeric text evaluated, owned by modelName.
func Instantiate(n Node, params Params, modelName string) (Node, error) {
	switch v := n.(type) {
	case *Teleport:
		return v.instantiate(params, modelName)
	case *Navigate:
		return v.instantiate(params, modelName)
	case *Wait:
		return v.instantiate(params, modelName)
	case *Signal:
		return v.instantiate(params, modelName)
	case *WaitForSignal:
		return v.instantiate(params, modelName)
	default:
		panic(fmt.Sprintf("behavior: unhandled node %T", n))
	}
}

func Tick(n Node, env *Env) {
	switch v := n.(type) {
	case *Teleport:
		v.tick(env)
	case *Navigate:
		v.tick(env)
	case *Wait:
		v.tick(env)
	case *Signal:
		v.tick(env)
	case *WaitForSignal:
		v.tick(env)
	default:
		panic(fmt.Sprintf("behavior: unhandled node %T", n))
	}
}

func IsComplete(n Node) bool {
	switch v := n.(type) {
	case *Teleport:
		return true
	case *Navigate:
		return v.arrived
	case *Wait:
		return v.elapsed >= v.Seconds
	case *Signal:
		return v.fired
	case *WaitForSignal:
		return v.received
	default:
		panic(fmt.Sprintf("behavior: unhandled node %T", n))
	}
}

// Progress reports time already spent inside a node that measures it.
func Progress(n Node) float64 {
	switch v := n.(type) {
	case *Wait:
		return v.elapsed
	case *Teleport, *Navigate, *Signal, *WaitForSignal:
		return 0
	default:
		panic(fmt.Sprintf("behavior: unhandled node %T", n))
	}
}

func restoreProgress(n Node, p float64) {
	switch v := n.(type) {
	case *Wait:
		v.elapsed = p
	case *Teleport, *Navigate, *Signal, *WaitForSignal:
	default:
		panic(fmt.Sprintf("behavior: unhandled node %T", n))
	}
}

// Print is a one-line description for diagnostics.
func Print(n Node) string {
	switch v := n.(type) {
	case *Teleport:
		return fmt.Sprintf("teleport: [%s]", v.DestinationName)
	case *Navigate:
		return fmt.Sprintf("navigate: [%s]", v.DestinationName)
	case *Wait:
		if !v.instantiated {
			return fmt.Sprintf("wait: %s", v.SecondsStr)
		}
		return fmt.Sprintf("wait: %gs", v.Seconds)
	case *Signal:
		return fmt.Sprintf("signal: [%s]", v.Name)
	case *WaitForSignal:
		return fmt.Sprintf("wait_for_signal: [%s]", v.Name)
	default:
		panic(fmt.Sprintf("behavior: unhandled node %T", n))
	}
}
