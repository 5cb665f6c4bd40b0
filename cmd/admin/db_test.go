package main

import (
	"database/sql"
	"path/filepath"
	"testing"

	"trafficeditor.app/internal/persistence/indexdb"
	"trafficeditor.app/internal/sim"
	"trafficeditor.app/internal/sim/controller"
	"trafficeditor.app/internal/sim/model"
)

func TestRunQuery_EventsFilteredByModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	_ = idx.WriteTick(controller.TickLogEntry{
		Tick:   0,
		Digest: "d0",
		Models: []model.Model{{InstanceName: "r1"}, {InstanceName: "p1"}},
		Events: []sim.Event{
			{Kind: sim.EventTeleport, Source: "r1", Target: "r1", Vertex: "vertex_A", State: model.ModelState{X: 1, Y: 2}},
			{Kind: sim.EventSignal, Source: "p1", Signal: "done"},
		},
	})
	_ = idx.WriteTick(controller.TickLogEntry{Tick: 1, Digest: "d1", Reset: true})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var rows []any
	collect := func(v any) { rows = append(rows, v) }

	if err := runQuery(db, "events", 10, "r1", "", collect); err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("events for r1: %+v", rows)
	}

	rows = nil
	if err := runQuery(db, "events", 10, "", "signal", collect); err != nil {
		t.Fatalf("events by kind: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("signal events: %+v", rows)
	}

	rows = nil
	if err := runQuery(db, "resets", 10, "", "", collect); err != nil {
		t.Fatalf("resets: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("resets: %+v", rows)
	}

	if err := runQuery(db, "bogus", 10, "", "", collect); err == nil {
		t.Fatalf("expected unknown query error")
	}
}
