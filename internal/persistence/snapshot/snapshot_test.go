package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"trafficeditor.app/internal/sim"
	"trafficeditor.app/internal/sim/model"
)

func TestWriteReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshots", FileName(42))
	in := SnapshotV1{
		Header:     Header{Version: Version, RunID: "run_1", Tick: 42},
		Building:   "office",
		Scenario:   "office_demo",
		TickRateHz: 30,
		DT:         0.5,
		Runtime: sim.RuntimeState{
			Models: []sim.ModelRecord{
				{Name: "r1", State: model.ModelState{X: 1, Y: 2, Z: 3, Yaw: 0.5}, Node: 2},
				{Name: "r2", Node: 0},
			},
			Signals: []string{"ready"},
		},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if out.Header != in.Header || out.Building != "office" || out.DT != 0.5 {
		t.Fatalf("header fields: %+v", out)
	}
	if len(out.Runtime.Models) != 2 || out.Runtime.Models[0] != in.Runtime.Models[0] {
		t.Fatalf("models: %+v", out.Runtime.Models)
	}
	if len(out.Runtime.Signals) != 1 || out.Runtime.Signals[0] != "ready" {
		t.Fatalf("signals: %+v", out.Runtime.Signals)
	}
}

func TestReadSnapshot_RejectsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName(1))
	if err := WriteSnapshot(path, SnapshotV1{Header: Header{Version: 99}}); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if Latest(dir) != "" {
		t.Fatalf("expected empty dir to have no latest")
	}
	for _, name := range []string{FileName(9), FileName(120), FileName(30), "junk.snap.zst", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if got := Latest(dir); got != filepath.Join(dir, FileName(120)) {
		t.Fatalf("latest: %s", got)
	}
}
