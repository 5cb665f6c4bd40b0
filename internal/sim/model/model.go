package model

import "math"

// ModelState is the pose of a simulated model. Yaw is in radians.
type ModelState struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Z   float64 `json:"z"`
	Yaw float64 `json:"yaw"`
}

// DistanceXY is the planar distance between two states.
func (s ModelState) DistanceXY(o ModelState) float64 {
	return math.Hypot(o.X-s.X, o.Y-s.Y)
}

// Model is a simulated entity placed in the building.
type Model struct {
	InstanceName string
	ModelName    string

	State      ModelState
	StartState ModelState
}

func New(instanceName, modelName string, start ModelState) *Model {
	return &Model{
		InstanceName: instanceName,
		ModelName:    modelName,
		State:        start,
		StartState:   start,
	}
}

// Find returns the first model with the given instance name.
func Find(models []*Model, instanceName string) *Model {
	for _, m := range models {
		if m != nil && m.InstanceName == instanceName {
			return m
		}
	}
	return nil
}
