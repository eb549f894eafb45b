package sched

import (
	"sync"

	"github.com/vistledev/vistle-manager/internal/sys"
)

// TaskRunner is the BlockTask runtime (spec §4.4 Tasking): each compute()
// invocation is submitted as an async task; no more than
// max(1, concurrency) run simultaneously; waitAllTasks joins every
// submitted task. Tasks form a simple chain (submission order is also
// completion-independent -- addDependency in the original only orders
// side effects on shared per-module state, which here is serialized by
// the semaphore rather than an explicit dependency graph).
type TaskRunner struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewTaskRunner(concurrency int) *TaskRunner {
	if concurrency <= 0 {
		concurrency = sys.BlockTaskConcurrency()
	}
	return &TaskRunner{sem: make(chan struct{}, concurrency)}
}

// Submit runs fn asynchronously, blocking only if concurrency is saturated.
func (t *TaskRunner) Submit(fn func()) {
	t.wg.Add(1)
	t.sem <- struct{}{}
	go func() {
		defer t.wg.Done()
		defer func() { <-t.sem }()
		fn()
	}()
}

// WaitAll blocks until every submitted task has completed (waitAllTasks,
// called before prepare and before reduce per spec §4.4).
func (t *TaskRunner) WaitAll() { t.wg.Wait() }
