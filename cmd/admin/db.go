package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	runID := fs.String("run", "", "run id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	target := fs.String("model", "", "target model filter (events)")
	kind := fs.String("kind", "", "event kind filter (events)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*runID) == "" {
			fmt.Fprintln(os.Stderr, "missing -run or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "runs", *runID, "index", "run.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(db, q, *limit, *target, *kind, printJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runQuery(db *sql.DB, q string, limit int, target, kind string, emit func(any)) error {
	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,building,scenario,models,signals FROM snapshots ORDER BY tick DESC LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     int64  `json:"tick"`
				Path     string `json:"path"`
				Building string `json:"building"`
				Scenario string `json:"scenario"`
				Models   int    `json:"models"`
				Signals  int    `json:"signals"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.Building, &r.Scenario, &r.Models, &r.Signals); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,models,events FROM ticks ORDER BY tick DESC LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick   int64  `json:"tick"`
				Digest string `json:"digest"`
				Models int    `json:"models"`
				Events int    `json:"events"`
			}
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Models, &r.Events); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "events":
		where := []string{"1=1"}
		var args []any
		if target != "" {
			where = append(where, "target=?")
			args = append(args, target)
		}
		if kind != "" {
			where = append(where, "kind=?")
			args = append(args, kind)
		}
		args = append(args, limit)
		rows, err := db.Query(`SELECT tick,seq,kind,source,target,vertex,signal,x,y,z,yaw FROM events WHERE `+
			strings.Join(where, " AND ")+` ORDER BY tick DESC, seq ASC LIMIT ?`, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick   int64   `json:"tick"`
				Seq    int     `json:"seq"`
				Kind   string  `json:"kind"`
				Source string  `json:"source"`
				Target string  `json:"target,omitempty"`
				Vertex string  `json:"vertex,omitempty"`
				Signal string  `json:"signal,omitempty"`
				X      float64 `json:"x"`
				Y      float64 `json:"y"`
				Z      float64 `json:"z"`
				Yaw    float64 `json:"yaw"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Kind, &r.Source, &r.Target, &r.Vertex, &r.Signal, &r.X, &r.Y, &r.Z, &r.Yaw); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "resets":
		rows, err := db.Query(`SELECT tick,digest,models FROM resets ORDER BY tick DESC LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick   int64  `json:"tick"`
				Digest string `json:"digest"`
				Models int    `json:"models"`
			}
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Models); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query %q (snapshots, ticks, events, resets)", q)
	}
}
