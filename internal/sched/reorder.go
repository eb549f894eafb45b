package sched

import (
	"sort"

	"github.com/vistledev/vistle-manager/internal/object"
)

// ReorderParams configures the animation-playback reordering (spec §4.4
// Object reordering).
type ReorderParams struct {
	// RequestedStart is the externally requested starting timestep; < 0
	// means unspecified (start at the head-start-adjusted origin).
	RequestedStart int
	// StepDuration is animationStepDuration; its sign gives the direction,
	// and its magnitude scales the head-start heuristic.
	StepDuration int
	ZeroFirst    bool
	// AvgComputeTime informs the head-start heuristic: avgComputeTime /
	// stepDuration timesteps are skipped ahead so the first few tuples
	// aren't already stale by the time compute() finishes.
	AvgComputeTime float64
	NumTimesteps   int
}

// ReorderForAnimation re-sorts tuples by timestep using a stable sort, then
// emits them in playback order: objects without a timestep first, then (if
// ZeroFirst) timestep 0, then the remaining timesteps walked from the
// computed start in the step-duration's direction, wrapping around (spec
// §4.4; testable scenario S5).
func ReorderForAnimation(tuples []*object.Object, p ReorderParams) []*object.Object {
	if len(tuples) == 0 {
		return tuples
	}

	sorted := make([]*object.Object, len(tuples))
	copy(sorted, tuples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Meta.Timestep < sorted[j].Meta.Timestep
	})

	byTimestep := make(map[int][]*object.Object)
	var noTimestep []*object.Object
	for _, o := range sorted {
		if o.Meta.Timestep < 0 {
			noTimestep = append(noTimestep, o)
			continue
		}
		byTimestep[o.Meta.Timestep] = append(byTimestep[o.Meta.Timestep], o)
	}

	n := p.NumTimesteps
	if n <= 0 {
		// No declared timestep count: fall back to the distinct values seen.
		n = len(byTimestep)
	}

	direction := 1
	if p.StepDuration < 0 {
		direction = -1
	}
	headStart := 0
	if p.StepDuration != 0 {
		abs := p.StepDuration
		if abs < 0 {
			abs = -abs
		}
		headStart = int(p.AvgComputeTime / float64(abs))
	}
	if p.ZeroFirst {
		headStart *= 2
	}

	start := p.RequestedStart
	if start < 0 {
		start = 0
	}
	if n > 0 {
		start = ((start+headStart*direction)%n + n) % n
	}

	out := make([]*object.Object, 0, len(tuples))
	out = append(out, noTimestep...)

	emitted := make(map[int]bool)
	if p.ZeroFirst {
		out = append(out, byTimestep[0]...)
		emitted[0] = true
	}
	for i := 0; i < n; i++ {
		t := ((start+i*direction)%n + n) % n
		if emitted[t] {
			continue
		}
		emitted[t] = true
		out = append(out, byTimestep[t]...)
	}
	return out
}
