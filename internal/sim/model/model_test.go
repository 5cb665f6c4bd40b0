package model

import "testing"

func TestFind_FirstMatchWins(t *testing.T) {
	a := New("robot_1", "TinyRobot", ModelState{X: 1})
	b := New("robot_1", "TinyRobot", ModelState{X: 2})
	c := New("robot_2", "TinyRobot", ModelState{})

	got := Find([]*Model{nil, a, b, c}, "robot_1")
	if got != a {
		t.Fatalf("expected first robot_1, got %+v", got)
	}
	if Find([]*Model{a, c}, "missing") != nil {
		t.Fatalf("expected nil for missing instance")
	}
}

func TestDistanceXY(t *testing.T) {
	d := ModelState{X: 0, Y: 0, Z: 5}.DistanceXY(ModelState{X: 3, Y: 4, Z: -2})
	if d != 5 {
		t.Fatalf("distance: got %v want 5", d)
	}
}
