package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trafficeditor.app/internal/observability"
	persistlog "trafficeditor.app/internal/persistence/log"
	"trafficeditor.app/internal/persistence/snapshot"
	"trafficeditor.app/internal/sim/building"
	"trafficeditor.app/internal/sim/controller"
	"trafficeditor.app/internal/sim/scenario"
	"trafficeditor.app/internal/sim/tuning"
	"trafficeditor.app/internal/transport/admin"
	"trafficeditor.app/internal/transport/ws"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		runID        = flag.String("run", "run_1", "run id")
		configDir    = flag.String("configs", "./configs", "config directory")
		buildingPath = flag.String("building", "", "path to building.yaml (default: <configs>/building.yaml)")
		scenarioPath = flag.String("scenario", "", "path to scenario.yaml (default: <configs>/scenario.yaml)")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite run index")
		describe     = flag.Bool("describe", false, "print the scenario's behaviors and exit")

		snapPath   = flag.String("snapshot", "", "path to snapshot to resume from (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", false, "resume from the latest snapshot in the run dir (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[simulator] ", log.LstdFlags|log.Lmicroseconds)

	bp := configPath(*buildingPath, *configDir, "building.yaml")
	sp := configPath(*scenarioPath, *configDir, "scenario.yaml")
	tp := configPath(*tuningPath, *configDir, "tuning.yaml")

	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	b, err := building.Load(bp)
	if err != nil {
		logger.Fatalf("load building: %v", err)
	}
	sc, err := scenario.Load(sp)
	if err != nil {
		logger.Fatalf("load scenario: %v", err)
	}

	runner, err := scenario.NewRunner(sc, b, scenario.RunnerConfig{
		DT:              tune.DT(),
		DefaultSpeed:    tune.DefaultSpeed,
		ArriveTolerance: tune.ArriveTolerance,
	}, logger)
	if err != nil {
		logger.Fatalf("scenario: %v", err)
	}
	if *describe {
		fmt.Print(runner.Describe())
		return
	}

	ctl, err := controller.New(controller.Config{
		ID:                 *runID,
		TickRateHz:         tune.TickRateHz,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
		DT:                 tune.DT(),
		ViewerQueue:        tune.ViewerQueue,
	}, b, runner, logger)
	if err != nil {
		logger.Fatalf("controller: %v", err)
	}
	ctl.SetScenarioName(sc.Name)
	logger.Printf("building=%s levels=%d vertices=%d scenario=%s models=%d dt=%.4fs",
		b.Name, len(b.Levels), b.VertexCount(), sc.Name, len(sc.Models), tune.DT())

	runDir := filepath.Join(*dataDir, "runs", *runID)
	_ = os.MkdirAll(runDir, 0o755)

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(filepath.Join(runDir, "snapshots"))
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.RunID != "" && snap.Header.RunID != *runID {
			logger.Fatalf("snapshot run id mismatch: flag=%s snap=%s", *runID, snap.Header.RunID)
		}
		if err := ctl.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), ctl.CurrentTick())
	}

	idx, err := openRunIndex(runDir, *disableDB)
	if err != nil {
		logger.Fatalf("open run index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertConfigs(map[string]string{"building": bp, "scenario": sp}, tune); err != nil {
			logger.Printf("run index: upsert configs: %v", err)
		}
	}

	mirror, err := buildMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}
	defer mirror.Close()

	collector, err := observability.NewSimCollector(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatalf("metrics: %v", err)
	}
	ctl.SetMetrics(collector)
	if err := observability.RegisterGaugeFuncs(prometheus.DefaultRegisterer,
		observability.GaugeFunc{Name: "index_queue_depth", Help: "Pending run index writes.",
			Fn: func() float64 { return float64(idx.Stats().QueueDepth) }},
		observability.GaugeFunc{Name: "index_dropped_ticks", Help: "Tick entries dropped by the run index.",
			Fn: func() float64 { return float64(idx.Stats().DropTickTotal) }},
		observability.GaugeFunc{Name: "mirror_uploaded_files", Help: "Files uploaded by the object store mirror.",
			Fn: func() float64 { return float64(mirror.Stats().UploadedTotal) }},
		observability.GaugeFunc{Name: "mirror_failed_files", Help: "Files the object store mirror gave up on.",
			Fn: func() float64 { return float64(mirror.Stats().FailedTotal) }},
	); err != nil {
		logger.Printf("metrics: %v", err)
	}

	tickLog := persistlog.NewTickLogger(runDir)
	tickLog.SetOnClose(mirror.Enqueue)
	defer tickLog.Close()
	ctl.SetTickLogger(multiTickLogger{a: tickLog, b: idx})

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	ctl.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(runDir, "snapshots", snapshot.FileName(snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
				mirror.Enqueue(path)
			}
		}
	}()

	go func() {
		if err := ctl.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("controller stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/v1/ws", ws.NewServer(ctl, logger).Handler())
	if envBool("TE_ENABLE_ADMIN_HTTP", true) {
		admin.Register(mux, ctl)
	} else {
		logger.Printf("admin endpoints disabled (TE_ENABLE_ADMIN_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func configPath(flagValue, configDir, name string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	return filepath.Join(configDir, name)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

type multiTickLogger struct {
	a controller.TickLogger
	b controller.TickLogger
}

func (m multiTickLogger) WriteTick(entry controller.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}
