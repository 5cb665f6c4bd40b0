package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"trafficeditor.app/internal/persistence/snapshot"
	"trafficeditor.app/internal/sim"
	"trafficeditor.app/internal/sim/building"
	"trafficeditor.app/internal/sim/model"
	"trafficeditor.app/internal/sim/scenario"
	"trafficeditor.app/internal/sim/simtest"
	"trafficeditor.app/internal/viewerproto"
)

const patrolYAML = `
behaviors:
  patrol:
    sequence:
      - [teleport, vertex_A]
      - [navigate, vertex_B, "3"]
      - [signal, done]
  porter:
    sequence:
      - [wait_for_signal, done]
      - [teleport, lift, "90", r1]
models:
  - {name: r1, behavior: patrol, start: dock_10}
  - {name: p1, behavior: porter}
`

type memTickLog struct {
	mu      sync.Mutex
	entries []TickLogEntry
}

func (l *memTickLog) WriteTick(e TickLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *memTickLog) all() []TickLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]TickLogEntry(nil), l.entries...)
}

type countingMetrics struct {
	mu      sync.Mutex
	steps   int
	resets  int
	viewers int
}

func (m *countingMetrics) ObserveStep(time.Duration, int, []sim.Event) {
	m.mu.Lock()
	m.steps++
	m.mu.Unlock()
}
func (m *countingMetrics) ObserveReset() {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
}
func (m *countingMetrics) SetViewers(n int) {
	m.mu.Lock()
	m.viewers = n
	m.mu.Unlock()
}

func newController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	sc, err := scenario.Parse([]byte(patrolYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	logger, _ := simtest.Logger()
	b := simtest.Building()
	r, err := scenario.NewRunner(sc, b, scenario.RunnerConfig{DT: 1, DefaultSpeed: 1, ArriveTolerance: 0.01}, logger)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	c, err := New(cfg, b, r, logger)
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	return c
}

func TestStepOnce_DeterministicDigests(t *testing.T) {
	a := newController(t, Config{})
	b := newController(t, Config{})
	for i := 0; i < 8; i++ {
		ta, da := a.StepOnce()
		tb, db := b.StepOnce()
		if ta != uint64(i) || tb != uint64(i) {
			t.Fatalf("tick mismatch: %d %d want %d", ta, tb, i)
		}
		if da != db {
			t.Fatalf("tick %d: digest mismatch %s vs %s", i, da, db)
		}
	}
	if got := a.Status().Tick; got != 8 {
		t.Fatalf("status tick: %d", got)
	}
}

func TestStep_WritesTickLog(t *testing.T) {
	c := newController(t, Config{})
	tl := &memTickLog{}
	m := &countingMetrics{}
	c.SetTickLogger(tl)
	c.SetMetrics(m)

	c.StepOnce()
	c.StepOnce()

	entries := tl.all()
	if len(entries) != 2 {
		t.Fatalf("entries: %d", len(entries))
	}
	if entries[0].Tick != 0 || entries[1].Tick != 1 {
		t.Fatalf("ticks: %d %d", entries[0].Tick, entries[1].Tick)
	}
	if entries[0].Digest == entries[1].Digest {
		t.Fatalf("expected r1 to move between ticks")
	}
	if len(entries[0].Events) != 1 || entries[0].Events[0].Kind != sim.EventTeleport {
		t.Fatalf("tick 0 events: %+v", entries[0].Events)
	}
	if m.steps != 2 {
		t.Fatalf("metrics steps: %d", m.steps)
	}
}

func TestResetNow_KeepsTickMonotonic(t *testing.T) {
	c := newController(t, Config{})
	tl := &memTickLog{}
	c.SetTickLogger(tl)

	_, d0 := c.StepOnce()
	c.StepOnce()
	c.StepOnce()
	if got := c.ResetNow(); got != 3 {
		t.Fatalf("reset tick: %d", got)
	}
	tick, d := c.StepOnce()
	if tick != 3 {
		t.Fatalf("tick after reset: %d", tick)
	}
	if d != d0 {
		t.Fatalf("first tick after reset should match the first tick of the run")
	}

	entries := tl.all()
	if !entries[3].Reset || entries[3].Tick != 3 {
		t.Fatalf("reset entry: %+v", entries[3])
	}
	if c.Status().Resets != 1 {
		t.Fatalf("status resets: %d", c.Status().Resets)
	}
}

func TestSnapshotEveryTicks(t *testing.T) {
	c := newController(t, Config{SnapshotEveryTicks: 2})
	sink := make(chan snapshot.SnapshotV1, 4)
	c.SetSnapshotSink(sink)
	for i := 0; i < 5; i++ {
		c.StepOnce()
	}
	var ticks []uint64
	for len(sink) > 0 {
		ticks = append(ticks, (<-sink).Header.Tick)
	}
	if len(ticks) != 2 || ticks[0] != 2 || ticks[1] != 4 {
		t.Fatalf("snapshot ticks: %v", ticks)
	}
}

func TestImportSnapshot_Resumes(t *testing.T) {
	a := newController(t, Config{})
	for i := 0; i < 3; i++ {
		a.StepOnce()
	}
	snap, ok := a.ExportSnapshot(2)
	if !ok {
		t.Fatalf("runner should support snapshots")
	}
	if snap.Building != "test" || snap.Header.Tick != 2 {
		t.Fatalf("snapshot header: %+v", snap)
	}

	b := newController(t, Config{})
	if err := b.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if b.CurrentTick() != 3 {
		t.Fatalf("resume tick: %d", b.CurrentTick())
	}
	if b.Status().Digest != Digest(a.models()) {
		t.Fatalf("digest after import differs")
	}

	snap.Building = "elsewhere"
	if err := b.ImportSnapshot(snap); err == nil {
		t.Fatalf("expected building mismatch error")
	}
}

type statelessSim struct{ ticks int }

func (s *statelessSim) Tick(*building.Building)  { s.ticks++ }
func (s *statelessSim) Reset(*building.Building) { s.ticks = 0 }

func TestController_PlainSimulation(t *testing.T) {
	s := &statelessSim{}
	c, err := New(Config{}, simtest.Building(), s, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, d := c.StepOnce()
	if d != Digest(nil) || s.ticks != 1 {
		t.Fatalf("digest=%s ticks=%d", d, s.ticks)
	}
	if _, ok := c.ExportSnapshot(0); ok {
		t.Fatalf("plain simulation should not snapshot")
	}
	if _, err := New(Config{}, nil, s, nil); err == nil {
		t.Fatalf("expected error for nil building")
	}
}

func TestDigest_OrderAndPose(t *testing.T) {
	a := []model.Model{{InstanceName: "a"}, {InstanceName: "b"}}
	b := []model.Model{{InstanceName: "b"}, {InstanceName: "a"}}
	if Digest(a) == Digest(b) {
		t.Fatalf("digest should depend on order")
	}
	c := []model.Model{{InstanceName: "a", State: model.ModelState{Yaw: 1}}, {InstanceName: "b"}}
	if Digest(a) == Digest(c) {
		t.Fatalf("digest should depend on yaw")
	}
}

func runController(t *testing.T, c *Controller) (context.Context, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	return ctx, func() {
		cancel()
		<-done
	}
}

func TestRun_AdminRequests(t *testing.T) {
	c := newController(t, Config{TickRateHz: 200})
	sink := make(chan snapshot.SnapshotV1, 1)
	c.SetSnapshotSink(sink)
	m := &countingMetrics{}
	c.SetMetrics(m)
	ctx, stop := runController(t, c)
	defer stop()

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := c.RequestSnapshot(reqCtx); err != nil {
		t.Fatalf("RequestSnapshot: %v", err)
	}
	select {
	case snap := <-sink:
		if len(snap.Runtime.Models) != 2 {
			t.Fatalf("snapshot models: %+v", snap.Runtime.Models)
		}
	default:
		t.Fatalf("snapshot not enqueued")
	}

	// A full sink reports backpressure instead of blocking the loop.
	sink <- snapshot.SnapshotV1{}
	if _, err := c.RequestSnapshot(reqCtx); err == nil {
		t.Fatalf("expected backpressure error")
	}

	tick, err := c.RequestReset(reqCtx)
	if err != nil {
		t.Fatalf("RequestReset: %v", err)
	}
	if tick == 0 {
		t.Fatalf("reset should happen after at least one tick")
	}
	m.mu.Lock()
	resets := m.resets
	m.mu.Unlock()
	if resets != 1 {
		t.Fatalf("metrics resets: %d", resets)
	}
}

func TestRun_ViewerReceivesFrames(t *testing.T) {
	c := newController(t, Config{TickRateHz: 200})
	ctx, stop := runController(t, c)
	defer stop()

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out := make(chan []byte, 4)
	welcome, err := c.JoinViewer(reqCtx, ViewerJoinRequest{SessionID: "v1", Models: []string{"r1"}, WithEvents: true, Out: out})
	if err != nil {
		t.Fatalf("JoinViewer: %v", err)
	}
	if welcome.Type != viewerproto.TypeWelcome || welcome.Building != "test" || len(welcome.Models) != 1 {
		t.Fatalf("welcome: %+v", welcome)
	}

	select {
	case b := <-out:
		var msg viewerproto.TickMsg
		if err := json.Unmarshal(b, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != viewerproto.TypeTick || len(msg.Models) != 1 || msg.Models[0].Name != "r1" {
			t.Fatalf("frame: %+v", msg)
		}
	case <-reqCtx.Done():
		t.Fatalf("no frame received")
	}

	c.LeaveViewer("v1")
}

func TestSendLatest_DropsOldest(t *testing.T) {
	ch := make(chan []byte, 1)
	sendLatest(ch, []byte("a"))
	sendLatest(ch, []byte("b"))
	if got := string(<-ch); got != "b" {
		t.Fatalf("got %q", got)
	}
}

func TestLeaveViewer_DoesNotBlockAfterRunReturns(t *testing.T) {
	c := newController(t, Config{TickRateHz: 200})
	_, stop := runController(t, c)
	stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 64; i++ {
			c.LeaveViewer(fmt.Sprintf("v%d", i))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("LeaveViewer blocked after the loop exited")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.JoinViewer(ctx, ViewerJoinRequest{SessionID: "late", Out: make(chan []byte, 1)}); err == nil {
		t.Fatalf("expected join to fail after the loop exited")
	}
}
