package behavior

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"trafficeditor.app/internal/sim"
	"trafficeditor.app/internal/sim/model"
)

// Teleport moves a model to a named vertex in a single tick.
//
// With an empty ModelToTeleport the owning model moves itself. Otherwise the
// first active model with that instance name is moved; if none exists the
// tick does nothing.
type Teleport struct {
	DestinationName string

	// DestinationYawStr is the yaw text as authored. It is evaluated into
	// DestinationYaw by Instantiate, after parameter substitution.
	DestinationYawStr string
	DestinationYaw    float64
	HasYaw            bool

	ModelToTeleport string

	// ModelName is the owning model, set by Instantiate.
	ModelName string
}

func (*Teleport) Kind() Kind { return KindTeleport }
func (*Teleport) sealed()    {}

func parseTeleport(n *yaml.Node) (*Teleport, error) {
	t := &Teleport{}
	var err error
	if t.DestinationName, err = scalarAt(n, 1); err != nil {
		return nil, fmt.Errorf("teleport: %w", err)
	}
	if t.DestinationYawStr, err = optionalScalarAt(n, 2); err != nil {
		return nil, fmt.Errorf("teleport: %w", err)
	}
	if t.ModelToTeleport, err = optionalScalarAt(n, 3); err != nil {
		return nil, fmt.Errorf("teleport: %w", err)
	}
	return t, nil
}

func (t *Teleport) instantiate(params Params, modelName string) (*Teleport, error) {
	c := *t
	c.DestinationName = Interpolate(t.DestinationName, params)
	c.ModelToTeleport = Interpolate(t.ModelToTeleport, params)
	c.ModelName = modelName

	if t.DestinationYawStr != "" {
		c.DestinationYawStr = Interpolate(t.DestinationYawStr, params)
		yaw, err := parseNumber(c.DestinationYawStr)
		if err != nil {
			return nil, fmt.Errorf("teleport yaw: %w", err)
		}
		c.DestinationYaw = yaw
		c.HasYaw = true
	}
	return &c, nil
}

func (t *Teleport) tick(env *Env) {
	// Resolved every tick, never cached.
	dest, ok := env.Building.VertexState(t.DestinationName)
	if !ok {
		env.logf("teleport: couldn't find vertex [%s]", t.DestinationName)
		return
	}
	if t.HasYaw {
		dest.Yaw = t.DestinationYaw
	}

	if t.ModelToTeleport == "" {
		*env.State = dest
		env.emit(sim.Event{Kind: sim.EventTeleport, Source: t.ModelName, Target: t.ModelName, Vertex: t.DestinationName, State: dest})
		return
	}

	env.logf("teleporting [%s] to [%s]", t.ModelToTeleport, t.DestinationName)
	target := model.Find(env.Active, t.ModelToTeleport)
	if target == nil {
		return
	}
	target.State = dest
	env.emit(sim.Event{Kind: sim.EventTeleport, Source: t.ModelName, Target: t.ModelToTeleport, Vertex: t.DestinationName, State: dest})
}
