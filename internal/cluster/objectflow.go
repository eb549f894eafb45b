package cluster

import (
	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/msg"
	"github.com/vistledev/vistle-manager/internal/nlog"
	"github.com/vistledev/vistle-manager/internal/port"
)

// handleAddObject implements spec §4.3's producer and consumer sides.
func (m *Manager) handleAddObject(msgv *msg.Message) {
	body, ok := msgv.Body.(*msg.BodyAddObject)
	if !ok {
		return
	}

	srcKey := port.Key{Module: body.SrcModule, Name: body.SrcPort}
	dstKey := port.Key{Module: body.DstModule, Name: body.DstPort}

	// Producer side: only when this message originates the object (not a
	// blocker/unblocking replay, which skips straight to consumer side).
	if !msgv.Flags.Has(msg.FlagBlocker) && !msgv.Flags.Has(msg.FlagUnblocking) && m.isLocal(body.SrcModule) {
		m.ports.RecordOutput(srcKey, body.Generation, body.ObjectName)
		for _, dst := range m.ports.Connections(srcKey) {
			if m.isLocal(dst.Key.Module) {
				continue
			}
			destHub := m.hubForModule(dst.Key.Module)
			m.dataMgr.PrepareTransfer(body.ObjectName, destHub)
			fwd := &msg.Message{
				Type: msg.AddObject, SenderID: body.SrcModule, DestID: destHub, DestRank: 0,
				Body: &msg.BodyAddObject{
					SrcModule: body.SrcModule, DstModule: dst.Key.Module,
					SrcPort: body.SrcPort, DstPort: dst.Key.Name,
					ObjectName: body.ObjectName, Generation: body.Generation,
					ProducerRank: m.bus.Rank(),
				},
			}
			if err := m.bus.SendToHub(fwd, nil); err != nil {
				nlog.Warningf("cluster: add-object forward failed: %v", err)
			}
		}
	}

	if !m.isLocal(body.DstModule) {
		return
	}

	destRank := m.blockRank(body.Block)
	if destRank != m.bus.Rank() && destRank != ident.AnyRank {
		return // not this rank's concern; see spec §4.3 consumer step 1
	}

	if msgv.Flags.Has(msg.FlagBlocker) {
		m.handleBlockerAddObject(body, msgv)
		return
	}

	m.deliverObject(dstKey, body.ObjectName)
}

// blockRank picks destRank as block % size (load-balance by block number).
// An unknown block (< 0) yields AnyRank, so the add is handled on whichever
// rank receives it: it is not pinned to rank 0 for local adds, and remote
// adds are not re-broadcast.
func (m *Manager) blockRank(block int) ident.Rank {
	if block < 0 {
		return ident.AnyRank
	}
	size := m.bus.Size()
	if size <= 0 {
		size = 1
	}
	return ident.Rank(block % size)
}

func (m *Manager) hubForModule(id ident.ID) ident.ID {
	if rm, ok := m.state.GetRunningModule(id); ok {
		return rm.HubID
	}
	return m.localHubID
}

// handleBlockerAddObject registers a DataManager request and, on
// completion, sends the Unblocking counterpart with the same UUID (spec
// §4.3 consumer step 2, §8 S4).
func (m *Manager) handleBlockerAddObject(body *msg.BodyAddObject, orig *msg.Message) {
	dstKey := port.Key{Module: body.DstModule, Name: body.DstPort}
	if mod, ok := m.getModule(body.DstModule); ok {
		mod.Block(orig)
	}
	m.dataMgr.RequestObject(body.SrcPort, body.ObjectName, m.hubForModule(body.SrcModule), body.ProducerRank, func() {
		unblock := *orig
		unblock.Flags |= msg.FlagUnblocking
		unblock.Flags &^= msg.FlagBlocker
		if mod, ok := m.getModule(body.DstModule); ok {
			forwarded := mod.Unblock(&unblock, nil)
			for _, fw := range forwarded {
				mod.sendQ <- fw
			}
		}
		m.deliverObject(dstKey, body.ObjectName)
	})
}

// deliverObject inserts the object into the destination port's input
// queue, increments its counter, and re-checks execution readiness (spec
// §4.3 consumer steps 3-4).
func (m *Manager) deliverObject(dstKey port.Key, objName string) {
	p, ok := m.ports.Get(dstKey)
	if !ok {
		return
	}
	p.PushObject(objName)
	m.checkExecuteObject(dstKey.Module)
}

// checkExecuteObject implements spec §4.3: fire compute iff every
// connected non-NOCOMPUTE input of m has >= 1 pending object (testable
// property 4), then recurse until it can no longer fire.
func (m *Manager) checkExecuteObject(moduleID ident.ID) {
	mod, ok := m.getModule(moduleID)
	if !ok {
		return
	}

	inputs := m.ports.ConnectedInputPorts(moduleID)
	nconn := 0
	for _, in := range inputs {
		if in.NoCompute() {
			continue
		}
		nconn++
		if !in.HasObject() {
			return
		}
	}
	if nconn == 0 {
		return
	}
	for _, in := range inputs {
		if in.NoCompute() {
			continue
		}
		in.PopObject()
	}

	exec := &msg.Message{
		Type: msg.Execute, DestID: moduleID,
		Body: &msg.BodyExecute{What: msg.ComputeObject, ModuleID: moduleID},
	}
	switch mod.SchedPolicy {
	case SchedSingle:
		mod.send(exec, nil, m.payloads)
	case SchedGang:
		exec.Flags |= msg.FlagAllRanks
		m.bus.BroadcastAndHandle(exec, nil)
	case SchedLazyGang:
		m.lazyGangDispatch(mod, exec)
	}

	m.checkExecuteObject(moduleID) // recurse: fire again if still ready
}

// lazyGangDispatch implements the LazyGang threshold (spec §4.3): rank 0
// increments a per-rank object counter and only broadcasts once >= 20% of
// ranks (a fixed 0.2 in lazyGangTick) have at least one object, then
// decrements each non-zero counter.
//
// Each rank hosts its own ClusterManager with its own Module/perRankObjectCount
// state (one per hosted rank, per cmd/managerd), so a non-zero rank cannot do
// this accounting locally -- only rank 0's Manager instance holds the
// authoritative counters for a given module. A non-zero rank therefore
// forwards a LAZY_GANG_TICK naming its own rank rather than a bare EXECUTE:
// delivering a plain EXECUTE would route straight through handleExecute to
// the module, firing compute on the very first contribution instead of
// waiting for the threshold (spec §8 S3).
func (m *Manager) lazyGangDispatch(mod *Module, exec *msg.Message) {
	if m.bus.Rank() != 0 {
		tick := &msg.Message{
			Type: msg.LazyGangTick, DestID: mod.ID,
			Body: &msg.BodyLazyGangTick{ModuleID: mod.ID, Rank: m.bus.Rank()},
		}
		m.bus.ForwardToMaster(tick, nil)
		return
	}
	m.lazyGangTick(mod, m.bus.Rank(), exec)
}

// handleLazyGangTick is LAZY_GANG_TICK's per-type handler, reached only on
// rank 0: it re-enters the same threshold accounting lazyGangDispatch would
// have applied had the contributing rank been rank 0 itself.
func (m *Manager) handleLazyGangTick(msgv *msg.Message) {
	body, ok := msgv.Body.(*msg.BodyLazyGangTick)
	if !ok {
		return
	}
	mod, ok := m.getModule(body.ModuleID)
	if !ok {
		return
	}
	exec := &msg.Message{
		Type: msg.Execute, DestID: body.ModuleID,
		Body: &msg.BodyExecute{What: msg.ComputeObject, ModuleID: body.ModuleID},
	}
	m.lazyGangTick(mod, body.Rank, exec)
}

// lazyGangTick applies one rank's object contribution to mod's threshold
// counters and, once >= 20% of ranks have contributed, broadcasts exec and
// decrements every non-zero counter.
func (m *Manager) lazyGangTick(mod *Module, rank ident.Rank, exec *msg.Message) {
	mod.mu.Lock()
	size := m.bus.Size()
	if len(mod.perRankObjectCount) < size {
		grown := make([]int, size)
		copy(grown, mod.perRankObjectCount)
		mod.perRankObjectCount = grown
	}
	mod.perRankObjectCount[rank]++
	nonZero := 0
	for _, c := range mod.perRankObjectCount {
		if c > 0 {
			nonZero++
		}
	}
	threshold := 0.2
	shouldFire := float64(nonZero)/float64(size) >= threshold
	if shouldFire {
		for i, c := range mod.perRankObjectCount {
			if c > 0 {
				mod.perRankObjectCount[i]--
			}
		}
	}
	mod.mu.Unlock()

	if shouldFire {
		m.bus.BroadcastAndHandle(exec, nil)
	}
}
