package sched

import (
	"testing"

	"github.com/vistledev/vistle-manager/internal/object"
)

func objAt(ts int) *object.Object {
	return object.New("o", object.Meta{Timestep: ts})
}

// TestReorderForAnimation_S5 covers spec scenario S5: timesteps {2,0,3,1},
// direction +1, starting at 2, wrap around -> 2,3,0,1.
func TestReorderForAnimation_S5(t *testing.T) {
	tuples := []*object.Object{objAt(2), objAt(0), objAt(3), objAt(1)}
	got := ReorderForAnimation(tuples, ReorderParams{
		RequestedStart: 2,
		StepDuration:   1,
		NumTimesteps:   4,
	})
	want := []int{2, 3, 0, 1}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i, o := range got {
		if o.Meta.Timestep != want[i] {
			t.Errorf("position %d: timestep = %d, want %d", i, o.Meta.Timestep, want[i])
		}
	}
}

func TestReorderForAnimation_NoTimestepFirst(t *testing.T) {
	tuples := []*object.Object{objAt(1), objAt(-1), objAt(0)}
	got := ReorderForAnimation(tuples, ReorderParams{
		RequestedStart: 0,
		StepDuration:   1,
		NumTimesteps:   2,
	})
	if got[0].Meta.Timestep != -1 {
		t.Fatalf("first object timestep = %d, want -1 (no-timestep objects lead)", got[0].Meta.Timestep)
	}
}

func TestReorderForAnimation_ZeroFirst(t *testing.T) {
	tuples := []*object.Object{objAt(3), objAt(1), objAt(0), objAt(2)}
	got := ReorderForAnimation(tuples, ReorderParams{
		RequestedStart: 2,
		StepDuration:   1,
		ZeroFirst:      true,
		NumTimesteps:   4,
	})
	if got[0].Meta.Timestep != 0 {
		t.Fatalf("first object timestep = %d, want 0 (ZeroFirst)", got[0].Meta.Timestep)
	}
}

func TestReorderForAnimation_NegativeDirection(t *testing.T) {
	tuples := []*object.Object{objAt(0), objAt(1), objAt(2), objAt(3)}
	got := ReorderForAnimation(tuples, ReorderParams{
		RequestedStart: 1,
		StepDuration:   -1,
		NumTimesteps:   4,
	})
	want := []int{1, 0, 3, 2}
	for i, o := range got {
		if o.Meta.Timestep != want[i] {
			t.Errorf("position %d: timestep = %d, want %d", i, o.Meta.Timestep, want[i])
		}
	}
}
