package sim

import (
	"trafficeditor.app/internal/sim/building"
	"trafficeditor.app/internal/sim/model"
)

// Simulation is a backend the controller can drive. Tick advances the
// building's simulated state by one step; Reset restores the initial state.
// Both are called from the controller goroutine only.
type Simulation interface {
	Tick(b *building.Building)
	Reset(b *building.Building)
}

// ModelSource is implemented by backends that own simulated models.
type ModelSource interface {
	// Models returns copies of the active models in a stable order.
	Models() []model.Model
}

// EventSource is implemented by backends that record per-tick side effects.
type EventSource interface {
	// DrainEvents returns the events recorded since the last call.
	DrainEvents() []Event
}

type EventKind string

const (
	EventTeleport EventKind = "teleport"
	EventArrive   EventKind = "arrive"
	EventSignal   EventKind = "signal"
)

type Event struct {
	Kind   EventKind        `json:"kind"`
	Source string           `json:"source"`
	Target string           `json:"target,omitempty"`
	Vertex string           `json:"vertex,omitempty"`
	Signal string           `json:"signal,omitempty"`
	State  model.ModelState `json:"state"`
}

// Snapshotter is implemented by backends whose runtime state can be saved and
// restored between process runs.
type Snapshotter interface {
	ExportState() RuntimeState
	ImportState(RuntimeState) error
}

type RuntimeState struct {
	Models []ModelRecord `json:"models"`
	// Signals pending delivery on the next tick.
	Signals []string `json:"signals,omitempty"`
}

type ModelRecord struct {
	Name  string           `json:"name"`
	State model.ModelState `json:"state"`
	// Node is the index of the node the model's behavior is running.
	Node int `json:"node"`
	// Progress is the time spent inside that node, for nodes that track it.
	Progress float64 `json:"progress,omitempty"`
}
