// Package sched implements the module-side execution engine (spec §4.4):
// the prepare -> compute* -> reduce state machine driven by EXECUTE
// messages, its reduce/scheduling policies, and cooperative cancellation.
// It runs inside a module process, consuming the EXECUTE/CANCEL_EXECUTE
// stream the ClusterManager's Module.send delivers over a recv queue.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package sched

import (
	"sync"
	"sync/atomic"

	"github.com/vistledev/vistle-manager/internal/msg"
	"github.com/vistledev/vistle-manager/internal/nlog"
	"github.com/vistledev/vistle-manager/internal/object"
)

// ReducePolicy mirrors cluster.ReducePolicy; kept as its own type so sched
// does not depend on the manager-side package.
type ReducePolicy int

const (
	ReduceNever ReducePolicy = iota
	ReduceLocally
	ReduceOverAll
	ReducePerTimestep
	ReducePerTimestepOrdered
	ReducePerTimestepZeroFirst
)

type SchedPolicy int

const (
	SchedSingle SchedPolicy = iota
	SchedGang
	SchedLazyGang
)

// Hooks is the module implementation's callback surface (spec §4.4): the
// scheduler invokes these at the appropriate state transitions.
type Hooks interface {
	Prepare() error
	// Compute runs one tuple of inputs (one object per connected input
	// port, in port order) and returns false on a per-tuple failure.
	Compute(inputs []*object.Object) bool
	// Reduce runs once per timestep (or once with timestep -1).
	Reduce(timestep int) error
	CancelExecute()
}

// Scheduler is the per-module state machine (spec §4.4 States). One
// Scheduler instance lives per local module instance.
type Scheduler struct {
	hooks        Hooks
	reducePolicy ReducePolicy
	schedPolicy  SchedPolicy

	animationStepDuration int
	animationStart        int // requested starting timestep; < 0 = unspecified
	numTimesteps          int
	avgComputeTime        float64 // seconds; informs the reordering head-start

	mu       sync.Mutex
	prepared bool
	reduced  bool

	cancelRequested atomic.Bool
	cancelFired     atomic.Bool

	tasks *TaskRunner
}

func New(hooks Hooks, reduce ReducePolicy, sched SchedPolicy, concurrency int) *Scheduler {
	return &Scheduler{
		hooks: hooks, reducePolicy: reduce, schedPolicy: sched,
		reduced:        true, // initial: reduced = true, prepared = false (spec §4.4)
		animationStart: -1,
		tasks:          NewTaskRunner(concurrency),
	}
}

// ConfigureAnimation sets the parameters the object-reordering heuristic
// needs (spec §4.4 Object reordering): numTimesteps, animationStepDuration
// (sign gives direction), an optional requested starting timestep, and the
// running average compute time used for the head-start.
func (s *Scheduler) ConfigureAnimation(numTimesteps, stepDuration, requestedStart int, avgComputeTime float64) {
	s.numTimesteps = numTimesteps
	s.animationStepDuration = stepDuration
	s.animationStart = requestedStart
	s.avgComputeTime = avgComputeTime
}

// Handle dispatches one EXECUTE message by its What field (spec §4.4
// Transitions). inputs is the tuple of objects popped for this invocation,
// empty for Prepare/Reduce/Upstream.
func (s *Scheduler) Handle(what msg.ExecuteWhat, inputs []*object.Object) {
	switch what {
	case msg.Prepare:
		s.doPrepare()
	case msg.ComputeObject:
		s.doComputeObject(inputs)
	case msg.Reduce:
		s.doReduce(-1)
	case msg.ComputeExecute:
		s.doComputeExecute(inputs)
	case msg.Upstream:
		// No local state transition; upstream-triggered executes are
		// delivered as plain ComputeObject/ComputeExecute by the manager.
	}
}

// doPrepare implements the Prepare transition: assert !prepared && reduced,
// flip flags, invoke the hook. Never runs for ReduceNever (spec §4.4).
func (s *Scheduler) doPrepare() {
	if s.reducePolicy == ReduceNever {
		return
	}
	s.mu.Lock()
	if s.prepared || !s.reduced {
		s.mu.Unlock()
		nlog.Warningf("sched: Prepare called out of order (prepared=%v reduced=%v)", s.prepared, s.reduced)
		return
	}
	s.prepared, s.reduced = true, false
	s.mu.Unlock()

	s.tasks.WaitAll() // waitAllTasks before prepare (spec §4.4 Tasking)
	if err := s.hooks.Prepare(); err != nil {
		nlog.Warningf("sched: prepare failed: %v", err)
	}
}

// doComputeObject implements ComputeObject: assert prepared, dispatch a
// BlockTask with the popped tuple. Checks cancellation at the top of
// compute (spec concurrency model).
func (s *Scheduler) doComputeObject(inputs []*object.Object) {
	if s.reducePolicy != ReduceNever {
		s.mu.Lock()
		ok := s.prepared
		s.mu.Unlock()
		if !ok {
			nlog.Warningf("sched: ComputeObject called while not prepared")
			return
		}
	}
	s.runCompute(inputs)
}

func (s *Scheduler) runCompute(inputs []*object.Object) {
	if s.cancelRequested.Load() {
		s.fireCancelOnce()
		return
	}
	s.tasks.Submit(func() {
		if s.cancelRequested.Load() {
			s.fireCancelOnce()
			return
		}
		s.hooks.Compute(inputs)
	})
}

// doReduce implements Reduce: assert prepared && !reduced, flip flags,
// invoke reduce(timestep) per the reduce policy's timestep fan-out.
func (s *Scheduler) doReduce(timestep int) {
	if s.reducePolicy == ReduceNever {
		return
	}
	s.mu.Lock()
	if !s.prepared || s.reduced {
		s.mu.Unlock()
		nlog.Warningf("sched: Reduce called out of order (prepared=%v reduced=%v)", s.prepared, s.reduced)
		return
	}
	s.prepared, s.reduced = false, true
	s.mu.Unlock()

	s.tasks.WaitAll() // waitAllTasks before reduce
	s.reduceTimesteps(timestep)
}

// reduceTimesteps runs reduce() once per timestep for the per-timestep
// policies, or once with -1 otherwise (spec §4.4 Reduce policies).
func (s *Scheduler) reduceTimesteps(requested int) {
	switch s.reducePolicy {
	case ReducePerTimestep, ReducePerTimestepOrdered, ReducePerTimestepZeroFirst:
		// Timestep 0 is already first in ascending order, satisfying
		// ZeroFirst without a special case.
		order := make([]int, s.numTimesteps)
		for t := range order {
			order[t] = t
		}
		for _, t := range order {
			if s.cancelRequested.Load() {
				s.fireCancelOnce()
				break
			}
			if err := s.hooks.Reduce(t); err != nil {
				nlog.Warningf("sched: reduce(%d) failed: %v", t, err)
			}
		}
		if err := s.hooks.Reduce(-1); err != nil {
			nlog.Warningf("sched: reduce(-1) failed: %v", err)
		}
	default:
		if err := s.hooks.Reduce(requested); err != nil {
			nlog.Warningf("sched: reduce(%d) failed: %v", requested, err)
		}
	}
}

// doComputeExecute implements the collapsed full-execute path (spec §4.4:
// "runs prepare, then iterates over all cached input tuples calling
// compute(), then runs reduce"), reordering tuples for per-timestep
// policies first (spec §4.4 Object reordering).
func (s *Scheduler) doComputeExecute(tuples []*object.Object) {
	s.doPrepare()

	ordered := tuples
	if s.reducePolicy == ReducePerTimestep || s.reducePolicy == ReducePerTimestepOrdered || s.reducePolicy == ReducePerTimestepZeroFirst {
		ordered = ReorderForAnimation(tuples, ReorderParams{
			RequestedStart: s.animationStart,
			StepDuration:   s.animationStepDuration,
			ZeroFirst:      s.reducePolicy == ReducePerTimestepZeroFirst,
			AvgComputeTime: s.avgComputeTime,
			NumTimesteps:   s.numTimesteps,
		})
	}

	for _, o := range ordered {
		if s.cancelRequested.Load() {
			s.fireCancelOnce()
			break
		}
		s.runCompute([]*object.Object{o})
	}
	s.tasks.WaitAll()

	s.doReduce(-1)
}

// CancelExecute sets the cooperative cancellation flag (spec §4.4, §5): a
// CANCEL_EXECUTE message arriving mid-run prevents further compute() calls
// and fires cancelExecute() exactly once.
func (s *Scheduler) CancelExecute() {
	s.cancelRequested.Store(true)
}

// ReduceCancel ORs remote into the local flag, implementing the collective
// reduction at barrier points (spec §5: "globally reduced... so
// cancellation converges").
func (s *Scheduler) ReduceCancel(remote bool) {
	if remote {
		s.cancelRequested.Store(true)
	}
}

func (s *Scheduler) fireCancelOnce() {
	if s.cancelFired.CompareAndSwap(false, true) {
		s.hooks.CancelExecute()
	}
}

// Reset clears cancellation state for the next execute (invoked once a
// barrier confirms the prior execute fully drained).
func (s *Scheduler) Reset() {
	s.cancelRequested.Store(false)
	s.cancelFired.Store(false)
}
