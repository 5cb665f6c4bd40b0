package behavior

import (
	"errors"
	"strings"
	"testing"

	"trafficeditor.app/internal/sim"
	"trafficeditor.app/internal/sim/building"
	"trafficeditor.app/internal/sim/model"
	"trafficeditor.app/internal/sim/simtest"
)

func mustTeleport(t *testing.T, src string) *Teleport {
	t.Helper()
	n, err := ParseString(src)
	if err != nil {
		t.Fatalf("parse %s: %v", src, err)
	}
	tp, ok := n.(*Teleport)
	if !ok {
		t.Fatalf("expected *Teleport, got %T", n)
	}
	return tp
}

func TestParseTeleport_Fields(t *testing.T) {
	cases := []struct {
		src    string
		dest   string
		yawStr string
		target string
	}{
		{`[teleport, vertex_A]`, "vertex_A", "", ""},
		{`[teleport, "$dest", "1.5"]`, "$dest", "1.5", ""},
		{`[teleport, vertex_B, "45.0", robot_1]`, "vertex_B", "45.0", "robot_1"},
		{`[teleport, vertex_B, "$yaw", "$who"]`, "vertex_B", "$yaw", "$who"},
	}
	for _, c := range cases {
		tp := mustTeleport(t, c.src)
		if tp.DestinationName != c.dest || tp.DestinationYawStr != c.yawStr || tp.ModelToTeleport != c.target {
			t.Fatalf("%s: got %+v", c.src, tp)
		}
		if tp.HasYaw || tp.DestinationYaw != 0 {
			t.Fatalf("%s: yaw must not be evaluated before Instantiate: %+v", c.src, tp)
		}
		if tp.Kind() != KindTeleport {
			t.Fatalf("kind: %v", tp.Kind())
		}
	}
}

func TestParseTeleport_Errors(t *testing.T) {
	if _, err := ParseString(`[teleport]`); !errors.Is(err, ErrShortNode) {
		t.Fatalf("expected ErrShortNode, got %v", err)
	}
	if _, err := ParseString(`[]`); !errors.Is(err, ErrShortNode) {
		t.Fatalf("expected ErrShortNode for empty list, got %v", err)
	}
	if _, err := ParseString(`[teleport, [a, b]]`); !errors.Is(err, ErrNotScalar) {
		t.Fatalf("expected ErrNotScalar, got %v", err)
	}
	if _, err := ParseString(`[teleport, v, {yaw: 1}]`); !errors.Is(err, ErrNotScalar) {
		t.Fatalf("expected ErrNotScalar for yaw, got %v", err)
	}
	if _, err := ParseString(`teleport`); err == nil {
		t.Fatalf("expected error for scalar node")
	}
	if _, err := ParseString(`[fly, v]`); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestTeleportInstantiate_IndependentCopies(t *testing.T) {
	tmpl := mustTeleport(t, `[teleport, "$dest", "$yaw"]`)

	a, err := Instantiate(tmpl, Params{"dest": "vertex_A", "yaw": "90"}, "robot_a")
	if err != nil {
		t.Fatalf("instantiate a: %v", err)
	}
	b, err := Instantiate(tmpl, Params{"dest": "vertex_B", "yaw": "-1.25"}, "robot_b")
	if err != nil {
		t.Fatalf("instantiate b: %v", err)
	}
	ta, tb := a.(*Teleport), b.(*Teleport)

	if ta.DestinationName != "vertex_A" || ta.DestinationYaw != 90 || !ta.HasYaw || ta.ModelName != "robot_a" {
		t.Fatalf("a: %+v", ta)
	}
	if tb.DestinationName != "vertex_B" || tb.DestinationYaw != -1.25 || tb.ModelName != "robot_b" {
		t.Fatalf("b: %+v", tb)
	}
	if tmpl.DestinationName != "$dest" || tmpl.DestinationYawStr != "$yaw" || tmpl.HasYaw || tmpl.ModelName != "" {
		t.Fatalf("template was mutated: %+v", tmpl)
	}
}

func TestTeleportInstantiate_BadYaw(t *testing.T) {
	tmpl := mustTeleport(t, `[teleport, vertex_A, "$yaw"]`)
	if _, err := Instantiate(tmpl, Params{"yaw": "north"}, "r"); !errors.Is(err, ErrBadNumber) {
		t.Fatalf("expected ErrBadNumber, got %v", err)
	}
	// Unresolved placeholder stays verbatim and is not a number either.
	if _, err := Instantiate(tmpl, nil, "r"); !errors.Is(err, ErrBadNumber) {
		t.Fatalf("expected ErrBadNumber for unresolved placeholder, got %v", err)
	}
}

func TestTeleportTick_SelfWithoutYaw(t *testing.T) {
	n, err := Instantiate(mustTeleport(t, `[teleport, vertex_A]`), nil, "robot_0")
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	owner := model.New("robot_0", "TestRobot", model.ModelState{X: 9, Y: 9, Yaw: 2})
	var events []sim.Event
	logger, _ := simtest.Logger()
	env := &Env{State: &owner.State, Building: simtest.Building(), Active: []*model.Model{owner}, Events: &events, Log: logger}

	Tick(n, env)

	want := model.ModelState{X: 1, Y: 2, Z: 0, Yaw: 0}
	if owner.State != want {
		t.Fatalf("owner state: got %+v want %+v", owner.State, want)
	}
	if len(events) != 1 || events[0].Kind != sim.EventTeleport || events[0].Target != "robot_0" {
		t.Fatalf("events: %+v", events)
	}
}

func TestTeleportTick_OtherModel(t *testing.T) {
	n, err := Instantiate(mustTeleport(t, `[teleport, vertex_B, "45.0", robot_1]`), nil, "robot_0")
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	active := simtest.Models("robot_0", "robot_1")
	active[0].State = model.ModelState{X: 7, Y: 7}
	logger, logs := simtest.Logger()
	env := &Env{State: &active[0].State, Building: simtest.Building(), Active: active, Log: logger}

	Tick(n, env)

	if want := (model.ModelState{X: 10, Y: 0, Z: 0, Yaw: 45}); active[1].State != want {
		t.Fatalf("robot_1 state: got %+v want %+v", active[1].State, want)
	}
	if active[0].State != (model.ModelState{X: 7, Y: 7}) {
		t.Fatalf("owner must not move: %+v", active[0].State)
	}
	if !strings.Contains(logs.String(), "teleporting [robot_1] to [vertex_B]") {
		t.Fatalf("missing diagnostic, got %q", logs.String())
	}
	if !IsComplete(n) {
		t.Fatalf("teleport must be complete after tick")
	}
}

func TestTeleportTick_MissingTargetIsNoop(t *testing.T) {
	n, err := Instantiate(mustTeleport(t, `[teleport, vertex_B, "45.0", robot_1]`), nil, "robot_0")
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	active := simtest.Models("robot_0", "robot_2")
	var events []sim.Event
	logger, _ := simtest.Logger()
	env := &Env{State: &active[0].State, Building: simtest.Building(), Active: active, Events: &events, Log: logger}

	Tick(n, env)

	for _, m := range active {
		if m.State != (model.ModelState{}) {
			t.Fatalf("%s moved: %+v", m.InstanceName, m.State)
		}
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
}

func TestTeleportTick_ResolvesEveryTick(t *testing.T) {
	n, err := Instantiate(mustTeleport(t, `[teleport, vertex_A]`), nil, "robot_0")
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	b := simtest.Building()
	var state model.ModelState
	logger, _ := simtest.Logger()
	env := &Env{State: &state, Building: b, Log: logger}

	Tick(n, env)
	if state.X != 1 {
		t.Fatalf("first tick: %+v", state)
	}

	b.Levels[0].Vertices[0].X = 6
	Tick(n, env)
	if state.X != 6 {
		t.Fatalf("edited vertex not picked up: %+v", state)
	}

	// Renamed away: the old name no longer resolves and the pose is kept.
	b.Levels[0].Vertices[0].Name = "vertex_A_old"
	state = model.ModelState{X: 42}
	Tick(n, env)
	if state.X != 42 {
		t.Fatalf("renamed vertex still resolved: %+v", state)
	}

	// Removed vertices must not be reachable.
	b.Levels[0].Vertices = b.Levels[0].Vertices[:1]
	m, err := Instantiate(mustTeleport(t, `[teleport, dock_10]`), nil, "robot_0")
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	Tick(m, env)
	if state.X != 42 {
		t.Fatalf("removed vertex resolved: %+v", state)
	}

	// A new vertex with the old name is found again.
	b.Levels[0].Vertices = append(b.Levels[0].Vertices, building.Vertex{Name: "vertex_A", X: 7})
	Tick(n, env)
	if state.X != 7 {
		t.Fatalf("re-added vertex not picked up: %+v", state)
	}
}

func TestTeleport_CompleteBeforeTickAndPrint(t *testing.T) {
	tp := mustTeleport(t, `[teleport, vertex_A]`)
	if !IsComplete(tp) {
		t.Fatalf("teleport must report complete before any tick")
	}
	if got := Print(tp); got != "teleport: [vertex_A]" {
		t.Fatalf("print: %q", got)
	}
}
