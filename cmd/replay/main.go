package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	persistlog "trafficeditor.app/internal/persistence/log"
	"trafficeditor.app/internal/persistence/snapshot"
	"trafficeditor.app/internal/sim/building"
	"trafficeditor.app/internal/sim/controller"
	"trafficeditor.app/internal/sim/scenario"
	"trafficeditor.app/internal/sim/tuning"
)

func main() {
	var (
		snapPath     = flag.String("snapshot", "", "path to .snap.zst to start from (optional; default: tick 0)")
		eventsDir    = flag.String("events", "", "events dir containing events-*.jsonl.zst")
		configDir    = flag.String("configs", "./configs", "config directory")
		buildingPath = flag.String("building", "", "path to building.yaml (default: <configs>/building.yaml)")
		scenarioPath = flag.String("scenario", "", "path to scenario.yaml (default: <configs>/scenario.yaml)")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		fromTick     = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick       = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *eventsDir == "" && *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -events or -snapshot")
		os.Exit(2)
	}

	var snap *snapshot.SnapshotV1
	if *snapPath != "" {
		s, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d run=%s tick=%d building=%s scenario=%s models=%d signals=%d\n",
			s.Header.Version, s.Header.RunID, s.Header.Tick, s.Building, s.Scenario,
			len(s.Runtime.Models), len(s.Runtime.Signals))
		snap = &s
	}
	if *eventsDir == "" {
		return
	}

	tune, err := tuning.Load(pathOr(*tuningPath, *configDir, "tuning.yaml"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	b, err := building.Load(pathOr(*buildingPath, *configDir, "building.yaml"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load building:", err)
		os.Exit(1)
	}
	sc, err := scenario.Load(pathOr(*scenarioPath, *configDir, "scenario.yaml"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load scenario:", err)
		os.Exit(1)
	}

	dt := tune.DT()
	if snap != nil && snap.DT > 0 {
		dt = snap.DT
	}
	// Behavior diagnostics are not interesting during a replay.
	quiet := log.New(io.Discard, "", 0)
	runner, err := scenario.NewRunner(sc, b, scenario.RunnerConfig{
		DT:              dt,
		DefaultSpeed:    tune.DefaultSpeed,
		ArriveTolerance: tune.ArriveTolerance,
	}, quiet)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scenario:", err)
		os.Exit(1)
	}
	ctl, err := controller.New(controller.Config{TickRateHz: tune.TickRateHz, DT: dt}, b, runner, quiet)
	if err != nil {
		fmt.Fprintln(os.Stderr, "controller:", err)
		os.Exit(1)
	}
	if snap != nil {
		if err := ctl.ImportSnapshot(*snap); err != nil {
			fmt.Fprintln(os.Stderr, "import snapshot:", err)
			os.Exit(1)
		}
	}

	files, err := persistlog.ListTickLogs(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	startTick := ctl.CurrentTick()
	checked, err := replay(ctl, files, startTick, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks (from tick=%d)\n", checked, startTick)
}

func pathOr(flagValue, configDir, name string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	return filepath.Join(configDir, name)
}
