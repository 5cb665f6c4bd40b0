package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"trafficeditor.app/internal/persistence/snapshot"
	"trafficeditor.app/internal/sim/building"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			postCmd("snapshot", os.Args[2:])
			return
		case "reset":
			postCmd("reset", os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "place":
			placeCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "runs"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		latest := snapshot.Latest(filepath.Join(*dataDir, "runs", e.Name(), "snapshots"))
		if latest == "" {
			fmt.Println(e.Name())
			continue
		}
		fmt.Printf("%s\tlatest=%s\n", e.Name(), filepath.Base(latest))
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	snapPath := fs.String("snapshot", "", "snapshot path (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*snapPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(snap)
}

// placeCmd writes a copy of a snapshot with one model moved onto a vertex,
// the offline equivalent of a teleport.
func placeCmd(args []string) {
	fs := flag.NewFlagSet("place", flag.ExitOnError)
	snapPath := fs.String("snapshot", "", "snapshot path (required)")
	buildingPath := fs.String("building", "./configs/building.yaml", "building.yaml")
	modelName := fs.String("model", "", "model instance name (required)")
	vertex := fs.String("vertex", "", "destination vertex name (required)")
	yaw := fs.Float64("yaw", 0, "destination yaw")
	outPath := fs.String("out", "", "output snapshot path (optional)")
	_ = fs.Parse(args)

	if *snapPath == "" || *modelName == "" || *vertex == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot, -model or -vertex")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	b, err := building.Load(*buildingPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load building:", err)
		os.Exit(1)
	}
	if snap.Building != "" && snap.Building != b.Name {
		fmt.Fprintf(os.Stderr, "snapshot is for building %q, not %q\n", snap.Building, b.Name)
		os.Exit(2)
	}
	st, ok := b.VertexState(*vertex)
	if !ok {
		fmt.Fprintf(os.Stderr, "couldn't find vertex [%s]\n", *vertex)
		os.Exit(2)
	}
	st.Yaw = *yaw

	found := false
	for i := range snap.Runtime.Models {
		if snap.Runtime.Models[i].Name == *modelName {
			snap.Runtime.Models[i].State = st
			found = true
			break
		}
	}
	if !found {
		fmt.Fprintf(os.Stderr, "model %q not in snapshot\n", *modelName)
		os.Exit(2)
	}

	if strings.TrimSpace(*outPath) == "" {
		*outPath = filepath.Join(filepath.Dir(*snapPath), fmt.Sprintf("%d.placed.snap.zst", snap.Header.Tick))
	}
	if err := snapshot.WriteSnapshot(*outPath, snap); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("place ok: model=%s vertex=%s state=(%.3f, %.3f, %.3f, %.1f) out=%s\n",
		*modelName, *vertex, st.X, st.Y, st.Z, st.Yaw, *outPath)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
