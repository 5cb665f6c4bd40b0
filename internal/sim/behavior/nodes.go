package behavior

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"trafficeditor.app/internal/sim"
)

// Navigate drives the owning model in a straight line toward a vertex.
type Navigate struct {
	DestinationName string

	SpeedStr string
	// Speed in m/s; zero means the environment default.
	Speed float64

	ModelName string

	arrived bool
}

func (*Navigate) Kind() Kind { return KindNavigate }
func (*Navigate) sealed()    {}

func parseNavigate(n *yaml.Node) (*Navigate, error) {
	nav := &Navigate{}
	var err error
	if nav.DestinationName, err = scalarAt(n, 1); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if nav.SpeedStr, err = optionalScalarAt(n, 2); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	return nav, nil
}

func (nav *Navigate) instantiate(params Params, modelName string) (*Navigate, error) {
	c := *nav
	c.arrived = false
	c.DestinationName = Interpolate(nav.DestinationName, params)
	c.ModelName = modelName
	if nav.SpeedStr != "" {
		c.SpeedStr = Interpolate(nav.SpeedStr, params)
		v, err := parseNumber(c.SpeedStr)
		if err != nil {
			return nil, fmt.Errorf("navigate speed: %w", err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("navigate speed: must be positive, got %v", v)
		}
		c.Speed = v
	}
	return &c, nil
}

func (nav *Navigate) tick(env *Env) {
	if nav.arrived {
		return
	}
	dest, ok := env.Building.VertexState(nav.DestinationName)
	if !ok {
		// Unknown vertex finishes the node.
		env.logf("navigate: couldn't find vertex [%s]", nav.DestinationName)
		nav.arrived = true
		return
	}

	speed := nav.Speed
	if speed <= 0 {
		speed = env.DefaultSpeed
	}
	step := speed * env.DT
	tol := env.ArriveTolerance

	s := env.State
	d := s.DistanceXY(dest)
	if d <= math.Max(step, tol) {
		s.X, s.Y, s.Z = dest.X, dest.Y, dest.Z
		nav.arrived = true
		env.emit(sim.Event{Kind: sim.EventArrive, Source: nav.ModelName, Target: nav.ModelName, Vertex: nav.DestinationName, State: *s})
		return
	}

	f := step / d
	dx, dy := dest.X-s.X, dest.Y-s.Y
	s.X += dx * f
	s.Y += dy * f
	s.Z += (dest.Z - s.Z) * f
	s.Yaw = math.Atan2(dy, dx)
}

// Wait completes once the accumulated tick time reaches Seconds.
type Wait struct {
	SecondsStr string
	Seconds    float64

	elapsed      float64
	instantiated bool
}

func (*Wait) Kind() Kind { return KindWait }
func (*Wait) sealed()    {}

func parseWait(n *yaml.Node) (*Wait, error) {
	s, err := scalarAt(n, 1)
	if err != nil {
		return nil, fmt.Errorf("wait: %w", err)
	}
	return &Wait{SecondsStr: s}, nil
}

func (w *Wait) instantiate(params Params, _ string) (*Wait, error) {
	c := *w
	c.elapsed = 0
	c.SecondsStr = Interpolate(w.SecondsStr, params)
	v, err := parseNumber(c.SecondsStr)
	if err != nil {
		return nil, fmt.Errorf("wait: %w", err)
	}
	if v < 0 {
		return nil, fmt.Errorf("wait: negative duration %v", v)
	}
	c.Seconds = v
	c.instantiated = true
	return &c, nil
}

func (w *Wait) tick(env *Env) {
	w.elapsed += env.DT
}

// Signal broadcasts a named signal to every model on the next tick.
type Signal struct {
	Name      string
	ModelName string

	fired bool
}

func (*Signal) Kind() Kind { return KindSignal }
func (*Signal) sealed()    {}

func parseSignal(n *yaml.Node) (*Signal, error) {
	s, err := scalarAt(n, 1)
	if err != nil {
		return nil, fmt.Errorf("signal: %w", err)
	}
	return &Signal{Name: s}, nil
}

func (s *Signal) instantiate(params Params, modelName string) (*Signal, error) {
	c := *s
	c.fired = false
	c.Name = Interpolate(s.Name, params)
	c.ModelName = modelName
	return &c, nil
}

func (s *Signal) tick(env *Env) {
	if s.fired {
		return
	}
	if env.Outbound != nil {
		*env.Outbound = append(*env.Outbound, s.Name)
	}
	s.fired = true
	env.emit(sim.Event{Kind: sim.EventSignal, Source: s.ModelName, Signal: s.Name, State: *env.State})
}

// WaitForSignal completes on the first tick whose inbound signals include Name.
type WaitForSignal struct {
	Name string

	received bool
}

func (*WaitForSignal) Kind() Kind { return KindWaitForSignal }
func (*WaitForSignal) sealed()    {}

func parseWaitForSignal(n *yaml.Node) (*WaitForSignal, error) {
	s, err := scalarAt(n, 1)
	if err != nil {
		return nil, fmt.Errorf("wait_for_signal: %w", err)
	}
	return &WaitForSignal{Name: s}, nil
}

func (w *WaitForSignal) instantiate(params Params, _ string) (*WaitForSignal, error) {
	c := *w
	c.received = false
	c.Name = Interpolate(w.Name, params)
	return &c, nil
}

func (w *WaitForSignal) tick(env *Env) {
	for _, s := range env.Inbound {
		if s == w.Name {
			w.received = true
			return
		}
	}
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrBadNumber, s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not finite", ErrBadNumber, s)
	}
	return v, nil
}
