// Package simtest holds fixtures shared by simulation tests.
package simtest

import (
	"bytes"
	"log"
	"sync"

	"trafficeditor.app/internal/sim/building"
	"trafficeditor.app/internal/sim/model"
)

// Building returns a two-level building:
//
//	L1 (elevation 0):  vertex_A (1,2)  vertex_B (10,0)  dock_1 (0,0)  dock_10 (5,5)
//	L2 (elevation 3):  lift (4,4)
func Building() *building.Building {
	return building.New("test",
		building.Level{
			Name:  "L1",
			Scale: 1,
			Vertices: []building.Vertex{
				{X: 1, Y: 2, Name: "vertex_A"},
				{X: 10, Y: 0, Name: "vertex_B"},
				{X: 0, Y: 0, Name: "dock_1"},
				{X: 5, Y: 5, Name: "dock_10"},
			},
		},
		building.Level{
			Name:      "L2",
			Elevation: 3,
			Scale:     1,
			Vertices:  []building.Vertex{{X: 4, Y: 4, Name: "lift"}},
		},
	)
}

// Models returns fresh models at the origin, one per instance name.
func Models(names ...string) []*model.Model {
	out := make([]*model.Model, 0, len(names))
	for _, n := range names {
		out = append(out, model.New(n, "TestRobot", model.ModelState{}))
	}
	return out
}

// LogBuffer captures logger output for assertions.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Logger returns a logger writing into a fresh buffer.
func Logger() (*log.Logger, *LogBuffer) {
	buf := &LogBuffer{}
	return log.New(buf, "", 0), buf
}

const BuildingYAML = `
name: test
levels:
  L1:
    elevation: 0
    vertices:
      - [1, 2, 0, "vertex_A"]
      - [10, 0, 0, "vertex_B"]
      - [0, 0, 0, "dock_1"]
      - [5, 5, 0, "dock_10"]
  L2:
    elevation: 3
    vertices:
      - [4, 4, 0, "lift"]
`
