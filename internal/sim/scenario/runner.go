package scenario

import (
	"fmt"
	"log"

	"trafficeditor.app/internal/sim"
	"trafficeditor.app/internal/sim/behavior"
	"trafficeditor.app/internal/sim/building"
	"trafficeditor.app/internal/sim/model"
)

type RunnerConfig struct {
	DT              float64
	DefaultSpeed    float64
	ArriveTolerance float64
}

// Runner is the scripted simulation backend. It owns the active models and
// their behavior runtimes; the building is borrowed on each call.
type Runner struct {
	scenario *Scenario
	cfg      RunnerConfig
	log      *log.Logger

	models   []*model.Model
	runtimes []*behavior.Runtime

	// Signals emitted during the previous tick.
	inbound []string
	events  []sim.Event
}

var (
	_ sim.Simulation  = (*Runner)(nil)
	_ sim.ModelSource = (*Runner)(nil)
	_ sim.EventSource = (*Runner)(nil)
	_ sim.Snapshotter = (*Runner)(nil)
)

func NewRunner(sc *Scenario, b *building.Building, cfg RunnerConfig, logger *log.Logger) (*Runner, error) {
	if sc == nil {
		return nil, fmt.Errorf("nil scenario")
	}
	if logger == nil {
		logger = log.Default()
	}
	r := &Runner{scenario: sc, cfg: cfg, log: logger}
	if err := r.reset(b); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) Tick(b *building.Building) {
	var outbound []string
	for i, m := range r.models {
		rt := r.runtimes[i]
		if rt.Done() {
			continue
		}
		rt.Tick(&behavior.Env{
			DT:              r.cfg.DT,
			State:           &m.State,
			Building:        b,
			Active:          r.models,
			Inbound:         r.inbound,
			Outbound:        &outbound,
			Events:          &r.events,
			DefaultSpeed:    r.cfg.DefaultSpeed,
			ArriveTolerance: r.cfg.ArriveTolerance,
			Log:             r.log,
		})
	}
	r.inbound = outbound
}

func (r *Runner) Reset(b *building.Building) {
	if err := r.reset(b); err != nil {
		// Parse already instantiated every behavior once, so this only
		// happens if the scenario was modified after loading.
		r.log.Printf("scenario reset: %v", err)
	}
}

func (r *Runner) reset(b *building.Building) error {
	models := make([]*model.Model, 0, len(r.scenario.Models))
	runtimes := make([]*behavior.Runtime, 0, len(r.scenario.Models))
	for _, decl := range r.scenario.Models {
		tmpl := r.scenario.Behaviors[decl.Behavior]
		if tmpl == nil {
			return fmt.Errorf("model %s: unknown behavior %q", decl.Name, decl.Behavior)
		}
		rt, err := tmpl.Instantiate(decl.Params, decl.Name)
		if err != nil {
			return fmt.Errorf("model %s: %w", decl.Name, err)
		}
		var start model.ModelState
		if decl.Start != "" {
			s, ok := b.VertexState(decl.Start)
			if !ok {
				r.log.Printf("model %s: couldn't find start vertex [%s]", decl.Name, decl.Start)
			}
			start = s
		}
		models = append(models, model.New(decl.Name, decl.Model, start))
		runtimes = append(runtimes, rt)
	}
	r.models = models
	r.runtimes = runtimes
	r.inbound = nil
	r.events = nil
	return nil
}

func (r *Runner) Models() []model.Model {
	out := make([]model.Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, *m)
	}
	return out
}

func (r *Runner) DrainEvents() []sim.Event {
	ev := r.events
	r.events = nil
	return ev
}

// ExportState captures model poses, sequence positions and the in-node
// progress of each running node.
func (r *Runner) ExportState() sim.RuntimeState {
	st := sim.RuntimeState{Models: make([]sim.ModelRecord, 0, len(r.models))}
	for i, m := range r.models {
		st.Models = append(st.Models, sim.ModelRecord{
			Name:     m.InstanceName,
			State:    m.State,
			Node:     r.runtimes[i].Current(),
			Progress: r.runtimes[i].Progress(),
		})
	}
	if len(r.inbound) > 0 {
		st.Signals = append([]string(nil), r.inbound...)
	}
	return st
}

// ImportState replaces the runner's state with st. Nothing changes unless
// every record applies.
func (r *Runner) ImportState(st sim.RuntimeState) error {
	byName := make(map[string]int, len(r.models))
	for i, m := range r.models {
		byName[m.InstanceName] = i
	}
	states := make([]model.ModelState, len(r.models))
	for i, m := range r.models {
		states[i] = m.State
	}
	runtimes := append([]*behavior.Runtime(nil), r.runtimes...)
	for _, rec := range st.Models {
		i, ok := byName[rec.Name]
		if !ok {
			return fmt.Errorf("import: unknown model %q", rec.Name)
		}
		decl := r.scenario.Models[i]
		rt, err := r.scenario.Behaviors[decl.Behavior].Instantiate(decl.Params, decl.Name)
		if err != nil {
			return fmt.Errorf("import: model %s: %w", decl.Name, err)
		}
		rt.Restore(rec.Node, rec.Progress)
		states[i] = rec.State
		runtimes[i] = rt
	}
	for i, m := range r.models {
		m.State = states[i]
	}
	r.runtimes = runtimes
	r.inbound = append([]string(nil), st.Signals...)
	return nil
}

// Describe prints every behavior template, one node per line.
func (r *Runner) Describe() string {
	out := ""
	for _, name := range r.scenario.BehaviorNames() {
		out += r.scenario.Behaviors[name].Print() + "\n"
	}
	return out
}
