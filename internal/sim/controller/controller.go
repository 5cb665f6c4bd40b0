package controller

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"trafficeditor.app/internal/persistence/snapshot"
	"trafficeditor.app/internal/sim"
	"trafficeditor.app/internal/sim/building"
	"trafficeditor.app/internal/sim/model"
	"trafficeditor.app/internal/viewerproto"
)

// TickLogEntry is one line of the tick log. Reset entries carry the tick
// that runs next and the digest of the freshly reset models.
type TickLogEntry struct {
	Tick   uint64        `json:"tick"`
	Digest string        `json:"digest"`
	Models []model.Model `json:"models,omitempty"`
	Events []sim.Event   `json:"events,omitempty"`
	Reset  bool          `json:"reset,omitempty"`
}

type TickLogger interface {
	WriteTick(TickLogEntry) error
}

type MetricsRecorder interface {
	ObserveStep(d time.Duration, models int, events []sim.Event)
	ObserveReset()
	SetViewers(n int)
}

// Status is a read-only view of the loop, safe to read from any goroutine.
type Status struct {
	RunID    string  `json:"run_id"`
	Building string  `json:"building"`
	Tick     uint64  `json:"tick"`
	Digest   string  `json:"digest"`
	Models   int     `json:"models"`
	Viewers  int     `json:"viewers"`
	Resets   uint64  `json:"resets"`
	StepMS   float64 `json:"step_ms"`
}

type ViewerJoinRequest struct {
	SessionID  string
	Models     []string
	WithEvents bool
	// Out receives encoded frames. The controller never blocks on it.
	Out  chan []byte
	Resp chan viewerproto.WelcomeMsg
}

type viewer struct {
	out        chan []byte
	models     map[string]bool
	withEvents bool
}

var errLoopStopped = errors.New("simulation loop stopped")

type resetReq struct{ Resp chan requestResp }
type snapshotReq struct{ Resp chan requestResp }

type requestResp struct {
	Tick uint64
	Err  string
}

// Controller drives a Simulation at a fixed rate against one building and
// fans the results out to the tick log, snapshots and viewers.
type Controller struct {
	cfg      Config
	building *building.Building
	backend  sim.Simulation
	log      *log.Logger

	tick   atomic.Uint64
	resets atomic.Uint64
	status atomic.Value

	stop          chan struct{}
	done          chan struct{}
	reset         chan resetReq
	snapshot      chan snapshotReq
	viewerJoin    chan ViewerJoinRequest
	viewerLeave   chan string
	viewers       map[string]*viewer
	lastDigest    string
	tickLogger    TickLogger
	snapshotSink  chan<- snapshot.SnapshotV1
	metrics       MetricsRecorder
	scenarioLabel string
}

func New(cfg Config, b *building.Building, backend sim.Simulation, logger *log.Logger) (*Controller, error) {
	if b == nil {
		return nil, errors.New("nil building")
	}
	if backend == nil {
		return nil, errors.New("nil simulation")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = log.Default()
	}
	c := &Controller{
		cfg:         cfg,
		building:    b,
		backend:     backend,
		log:         logger,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		reset:       make(chan resetReq, 8),
		snapshot:    make(chan snapshotReq, 8),
		viewerJoin:  make(chan ViewerJoinRequest, 16),
		viewerLeave: make(chan string, 16),
		viewers:     map[string]*viewer{},
	}
	c.lastDigest = Digest(c.models())
	c.publishStatus(0)
	return c, nil
}

func (c *Controller) SetTickLogger(l TickLogger)                    { c.tickLogger = l }
func (c *Controller) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { c.snapshotSink = ch }
func (c *Controller) SetMetrics(m MetricsRecorder)                  { c.metrics = m }
func (c *Controller) SetScenarioName(name string)                   { c.scenarioLabel = name }

func (c *Controller) ID() string       { return c.cfg.ID }
func (c *Controller) TickRateHz() int  { return c.cfg.TickRateHz }
func (c *Controller) ViewerQueue() int { return c.cfg.ViewerQueue }
func (c *Controller) CurrentTick() uint64 {
	return c.tick.Load()
}

// Run drives the loop until ctx is done or Stop is called. Call it once.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.tickInterval())
	defer ticker.Stop()

	var pendingReset []resetReq
	var pendingSnapshot []snapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		case req := <-c.viewerJoin:
			c.handleViewerJoin(req)
		case id := <-c.viewerLeave:
			c.handleViewerLeave(id)
		case req := <-c.reset:
			pendingReset = append(pendingReset, req)
		case req := <-c.snapshot:
			pendingSnapshot = append(pendingSnapshot, req)
		case <-ticker.C:
			c.step()
			c.handleSnapshotRequests(pendingSnapshot)
			c.handleResetRequests(pendingReset)
			pendingReset = pendingReset[:0]
			pendingSnapshot = pendingSnapshot[:0]
		}
	}
}

func (c *Controller) Stop() { close(c.stop) }

// StepOnce advances the simulation by a single tick, exactly as Run does.
// It must not be called while Run is active.
func (c *Controller) StepOnce() (tick uint64, digest string) {
	tick = c.tick.Load()
	c.step()
	return tick, c.lastDigest
}

// ResetNow resets the simulation outside the loop. Same restriction as
// StepOnce.
func (c *Controller) ResetNow() uint64 {
	return c.doReset()
}

func (c *Controller) step() {
	stepStart := time.Now()
	nowTick := c.tick.Load()

	c.backend.Tick(c.building)

	var events []sim.Event
	if es, ok := c.backend.(sim.EventSource); ok {
		events = es.DrainEvents()
	}
	models := c.models()
	digest := Digest(models)
	c.lastDigest = digest

	if c.tickLogger != nil {
		if err := c.tickLogger.WriteTick(TickLogEntry{Tick: nowTick, Digest: digest, Models: models, Events: events}); err != nil {
			c.log.Printf("tick log: %v", err)
		}
	}

	c.broadcast(viewerproto.TypeTick, nowTick, digest, models, events)

	if c.snapshotSink != nil && nowTick != 0 && c.cfg.SnapshotEveryTicks > 0 {
		if nowTick%uint64(c.cfg.SnapshotEveryTicks) == 0 {
			if snap, ok := c.ExportSnapshot(nowTick); ok {
				select {
				case c.snapshotSink <- snap:
				default:
					// Drop snapshot if sink is backed up.
				}
			}
		}
	}

	dur := time.Since(stepStart)
	c.tick.Add(1)
	if c.metrics != nil {
		c.metrics.ObserveStep(dur, len(models), events)
	}
	c.publishStatusModels(float64(dur.Microseconds())/1000.0, len(models))
}

func (c *Controller) doReset() uint64 {
	cur := c.tick.Load()
	c.backend.Reset(c.building)
	if es, ok := c.backend.(sim.EventSource); ok {
		_ = es.DrainEvents()
	}
	models := c.models()
	c.lastDigest = Digest(models)
	c.resets.Add(1)

	if c.tickLogger != nil {
		if err := c.tickLogger.WriteTick(TickLogEntry{Tick: cur, Digest: c.lastDigest, Models: models, Reset: true}); err != nil {
			c.log.Printf("tick log: %v", err)
		}
	}
	c.broadcast(viewerproto.TypeReset, cur, c.lastDigest, models, nil)
	if c.metrics != nil {
		c.metrics.ObserveReset()
	}
	c.log.Printf("simulation reset at tick %d", cur)
	c.publishStatusModels(0, len(models))
	return cur
}

// ExportSnapshot captures the backend's runtime state. It reports false
// when the backend cannot be snapshotted.
func (c *Controller) ExportSnapshot(tick uint64) (snapshot.SnapshotV1, bool) {
	sn, ok := c.backend.(sim.Snapshotter)
	if !ok {
		return snapshot.SnapshotV1{}, false
	}
	return snapshot.SnapshotV1{
		Header:     snapshot.Header{Version: snapshot.Version, RunID: c.cfg.ID, Tick: tick},
		Building:   c.building.Name,
		Scenario:   c.scenarioLabel,
		TickRateHz: c.cfg.TickRateHz,
		DT:         c.cfg.DT,
		Runtime:    sn.ExportState(),
	}, true
}

// ImportSnapshot restores backend state and resumes at the tick after the
// snapshot. Call it before Run.
func (c *Controller) ImportSnapshot(snap snapshot.SnapshotV1) error {
	sn, ok := c.backend.(sim.Snapshotter)
	if !ok {
		return errors.New("simulation does not support snapshots")
	}
	if snap.Building != "" && snap.Building != c.building.Name {
		return fmt.Errorf("snapshot building %q does not match %q", snap.Building, c.building.Name)
	}
	if err := sn.ImportState(snap.Runtime); err != nil {
		return err
	}
	c.tick.Store(snap.Header.Tick + 1)
	c.lastDigest = Digest(c.models())
	c.publishStatus(0)
	return nil
}

// RequestReset asks the loop goroutine to reset the simulation after the
// current tick. It is safe to call from other goroutines.
func (c *Controller) RequestReset(ctx context.Context) (uint64, error) {
	resp := make(chan requestResp, 1)
	select {
	case c.reset <- resetReq{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return awaitResp(ctx, resp)
}

// RequestSnapshot asks the loop goroutine to enqueue a snapshot of the last
// completed tick.
func (c *Controller) RequestSnapshot(ctx context.Context) (uint64, error) {
	resp := make(chan requestResp, 1)
	select {
	case c.snapshot <- snapshotReq{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return awaitResp(ctx, resp)
}

func awaitResp(ctx context.Context, resp chan requestResp) (uint64, error) {
	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Tick, errors.New(r.Err)
		}
		return r.Tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Controller) handleResetRequests(reqs []resetReq) {
	if len(reqs) == 0 {
		return
	}
	tick := c.doReset()
	for _, r := range reqs {
		select {
		case r.Resp <- requestResp{Tick: tick}:
		default:
		}
	}
}

func (c *Controller) handleSnapshotRequests(reqs []snapshotReq) {
	if len(reqs) == 0 {
		return
	}
	cur := c.tick.Load()
	snapTick := uint64(0)
	if cur > 0 {
		snapTick = cur - 1
	}
	errStr := ""
	if c.snapshotSink == nil {
		errStr = "snapshot sink not configured"
	} else if snap, ok := c.ExportSnapshot(snapTick); !ok {
		errStr = "simulation does not support snapshots"
	} else {
		select {
		case c.snapshotSink <- snap:
		default:
			errStr = "snapshot sink backpressure"
		}
	}
	for _, r := range reqs {
		select {
		case r.Resp <- requestResp{Tick: snapTick, Err: errStr}:
		default:
			// Client timed out; don't block the loop.
		}
	}
}

// JoinViewer registers a viewer with the loop and waits for its WELCOME.
func (c *Controller) JoinViewer(ctx context.Context, req ViewerJoinRequest) (viewerproto.WelcomeMsg, error) {
	if req.Out == nil {
		return viewerproto.WelcomeMsg{}, errors.New("viewer has no output channel")
	}
	req.Resp = make(chan viewerproto.WelcomeMsg, 1)
	select {
	case c.viewerJoin <- req:
	case <-ctx.Done():
		return viewerproto.WelcomeMsg{}, ctx.Err()
	case <-c.done:
		return viewerproto.WelcomeMsg{}, errLoopStopped
	}
	select {
	case w := <-req.Resp:
		return w, nil
	case <-ctx.Done():
		return viewerproto.WelcomeMsg{}, ctx.Err()
	case <-c.done:
		return viewerproto.WelcomeMsg{}, errLoopStopped
	}
}

func (c *Controller) LeaveViewer(sessionID string) {
	select {
	case c.viewerLeave <- sessionID:
	case <-c.stop:
	case <-c.done:
	}
}

func (c *Controller) handleViewerJoin(req ViewerJoinRequest) {
	v := &viewer{out: req.Out, withEvents: req.WithEvents}
	if len(req.Models) > 0 {
		v.models = make(map[string]bool, len(req.Models))
		for _, name := range req.Models {
			v.models[name] = true
		}
	}
	c.viewers[req.SessionID] = v
	if c.metrics != nil {
		c.metrics.SetViewers(len(c.viewers))
	}
	welcome := viewerproto.WelcomeMsg{
		Type:            viewerproto.TypeWelcome,
		ProtocolVersion: viewerproto.Version,
		SessionID:       req.SessionID,
		RunID:           c.cfg.ID,
		Building:        c.building.Name,
		TickRateHz:      c.cfg.TickRateHz,
		Tick:            c.tick.Load(),
		Models:          filterModels(viewerproto.FromModels(c.models()), v.models),
	}
	if req.Resp != nil {
		req.Resp <- welcome
	}
}

func (c *Controller) handleViewerLeave(id string) {
	delete(c.viewers, id)
	if c.metrics != nil {
		c.metrics.SetViewers(len(c.viewers))
	}
}

func (c *Controller) broadcast(typ string, tick uint64, digest string, models []model.Model, events []sim.Event) {
	if len(c.viewers) == 0 {
		return
	}
	wire := viewerproto.FromModels(models)
	for id, v := range c.viewers {
		msg := viewerproto.TickMsg{
			Type:            typ,
			ProtocolVersion: viewerproto.Version,
			Tick:            tick,
			Digest:          digest,
			Models:          filterModels(wire, v.models),
		}
		if v.withEvents {
			msg.Events = filterEvents(events, v.models)
		}
		b, err := json.Marshal(msg)
		if err != nil {
			c.log.Printf("viewer %s: encode frame: %v", id, err)
			continue
		}
		sendLatest(v.out, b)
	}
}

func filterModels(ms []viewerproto.Model, keep map[string]bool) []viewerproto.Model {
	if keep == nil {
		return ms
	}
	out := make([]viewerproto.Model, 0, len(keep))
	for _, m := range ms {
		if keep[m.Name] {
			out = append(out, m)
		}
	}
	return out
}

func filterEvents(ev []sim.Event, keep map[string]bool) []sim.Event {
	if keep == nil {
		return ev
	}
	var out []sim.Event
	for _, e := range ev {
		if keep[e.Source] || keep[e.Target] {
			out = append(out, e)
		}
	}
	return out
}

func (c *Controller) models() []model.Model {
	if ms, ok := c.backend.(sim.ModelSource); ok {
		return ms.Models()
	}
	return nil
}

func (c *Controller) Status() Status {
	v := c.status.Load()
	if v == nil {
		return Status{}
	}
	s, _ := v.(Status)
	return s
}

func (c *Controller) publishStatus(stepMS float64) {
	c.publishStatusModels(stepMS, len(c.models()))
}

func (c *Controller) publishStatusModels(stepMS float64, models int) {
	c.status.Store(Status{
		RunID:    c.cfg.ID,
		Building: c.building.Name,
		Tick:     c.tick.Load(),
		Digest:   c.lastDigest,
		Models:   models,
		Viewers:  len(c.viewers),
		Resets:   c.resets.Load(),
		StepMS:   stepMS,
	})
}

// Digest hashes model names and poses in order. Two runs that produce the
// same digest sequence moved every model identically.
func Digest(models []model.Model) string {
	h := sha256.New()
	var buf [8]byte
	for _, m := range models {
		h.Write([]byte(m.InstanceName))
		h.Write([]byte{0})
		for _, f := range []float64{m.State.X, m.State.Y, m.State.Z, m.State.Yaw} {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
