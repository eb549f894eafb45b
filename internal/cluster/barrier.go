package cluster

import (
	"sync"

	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/msg"
)

// barrierState implements spec §4.5: a single optional active barrier
// identified by UUID, with a reached-set of module IDs. While active,
// messages from a reached module are buffered rather than handled
// (enforced by Manager.DrainIncoming, which consults Held before dispatching).
type barrierState struct {
	mu       sync.Mutex
	active   bool
	uuid     msg.UUID
	reached  map[ident.ID]bool
}

func newBarrierState() *barrierState {
	return &barrierState{reached: make(map[ident.ID]bool)}
}

func (b *barrierState) Activate(uuid msg.UUID) {
	b.mu.Lock()
	b.active = true
	b.uuid = uuid
	b.mu.Unlock()
}

func (b *barrierState) Deactivate() {
	b.mu.Lock()
	b.active = false
	b.reached = make(map[ident.ID]bool)
	b.mu.Unlock()
}

func (b *barrierState) Reach(moduleID ident.ID) {
	b.mu.Lock()
	b.reached[moduleID] = true
	b.mu.Unlock()
}

// Held reports whether messages from moduleID must currently be buffered:
// the barrier is active and moduleID has already reached it (spec §4.5).
func (b *barrierState) Held(moduleID ident.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active && b.reached[moduleID]
}

func (b *barrierState) Active() (bool, msg.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active, b.uuid
}

func (b *barrierState) AllReached(size int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reached) >= size
}
