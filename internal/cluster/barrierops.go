package cluster

import (
	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/msg"
)

// handleBarrier implements spec §4.5: a BARRIER message activates barrier
// state and fans out to every local module.
func (m *Manager) handleBarrier(msgv *msg.Message) {
	body, ok := msgv.Body.(*msg.BodyBarrier)
	if !ok {
		return
	}
	m.barrier.Activate(body.BarrierUUID)
	m.fanOutLocal(msgv, nil)
}

// handleBarrierReached implements spec §4.5: a reply from a local module
// joins the reached-set and is relayed to the master hub (on rank 0); a
// reply whose sender is the master hub clears the reached-set and
// deactivates the barrier.
func (m *Manager) handleBarrierReached(msgv *msg.Message) {
	body, ok := msgv.Body.(*msg.BodyBarrierReached)
	if !ok {
		return
	}

	if msgv.SenderID == ident.MasterHub {
		// Idempotence (testable property 6): a duplicate release after
		// the barrier already cleared is a no-op via the cuckoo filter.
		key := []byte(string(body.BarrierUUID[:]))
		if m.seen.Lookup(key) {
			return
		}
		m.seen.InsertUnique(key)
		m.barrier.Deactivate()
		return
	}

	if m.isLocal(body.ModuleID) {
		m.barrier.Reach(body.ModuleID)
		if m.bus.IsMaster() {
			fwd := *msgv
			fwd.SenderID = ident.LocalHub
			if err := m.bus.SendToHub(&fwd, nil); err != nil {
				return
			}
		}
	}
}
