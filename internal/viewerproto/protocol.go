package viewerproto

import (
	"encoding/json"

	"trafficeditor.app/internal/sim"
	"trafficeditor.app/internal/sim/model"
)

// Version is the viewer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeWelcome   = "WELCOME"
	TypeTick      = "TICK"
	TypeReset     = "RESET"
)

// Client -> Server. First message on the viewer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Models filters frames to these instance names; empty means all.
	Models []string `json:"models,omitempty"`
	// WithEvents asks for per-tick events in TICK frames.
	WithEvents bool `json:"with_events,omitempty"`
}

// Server -> Client. Sent once after a valid SUBSCRIBE.
type WelcomeMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	SessionID       string  `json:"session_id"`
	RunID           string  `json:"run_id"`
	Building        string  `json:"building"`
	TickRateHz      int     `json:"tick_rate_hz"`
	Tick            uint64  `json:"tick"`
	Models          []Model `json:"models"`
}

// Server -> Client. Sent every tick, and with Type RESET after a reset.
type TickMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	Digest          string      `json:"digest"`
	Models          []Model     `json:"models"`
	Events          []sim.Event `json:"events,omitempty"`
}

type Model struct {
	Name  string           `json:"name"`
	Model string           `json:"model,omitempty"`
	State model.ModelState `json:"state"`
}

func FromModels(ms []model.Model) []Model {
	out := make([]Model, 0, len(ms))
	for _, m := range ms {
		out = append(out, Model{Name: m.InstanceName, Model: m.ModelName, State: m.State})
	}
	return out
}

type Base struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// DecodeBase reads just the envelope fields so callers can dispatch on Type.
func DecodeBase(b []byte) (Base, error) {
	var base Base
	err := json.Unmarshal(b, &base)
	return base, err
}
