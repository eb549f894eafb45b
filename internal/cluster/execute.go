package cluster

import (
	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/msg"
	"github.com/vistledev/vistle-manager/internal/nlog"
)

// handleExecute implements the scheduling-class EXECUTE path (spec §4.2,
// §4.2 Delayed messages): a non-broadcast ComputeExecute for a module whose
// ranksStarted > 0 is appended to delayedMessages instead of being
// delivered immediately, preserving single-execution-at-a-time semantics.
func (m *Manager) handleExecute(msgv *msg.Message, payload []byte) {
	body, ok := msgv.Body.(*msg.BodyExecute)
	if !ok {
		return
	}
	mod, ok := m.getModule(msgv.DestID)
	if !ok {
		nlog.Warningf("cluster: execute for unknown module %d", msgv.DestID)
		return
	}

	if body.What == msg.ComputeExecute && !msgv.Flags.Has(msg.FlagBroadcast) && mod.IsRunningOrStarted() {
		mod.DelayExecute(msgv, payload)
		return
	}

	mod.send(msgv, payload, m.payloads)
}

// handleCancelExecute forwards CancelExecute to the module; the manager
// performs no cross-rank reduction of the cancel flag (the module-side
// scheduler's ReduceCancel does that).
func (m *Manager) handleCancelExecute(msgv *msg.Message) {
	if mod, ok := m.getModule(msgv.DestID); ok {
		mod.send(msgv, nil, m.payloads)
	}
}

// handleExecutionProgress implements spec §4.2: track per-module
// ranksStarted/ranksFinished; propagate readyForPrepare/readyForReduce to
// downstream modules; run prepare/reduce as dictated by the downstream
// module's reduce policy; unqueue delayed EXECUTE messages; and, on the
// master, emit EXECUTION_DONE once the whole pipeline settles.
func (m *Manager) handleExecutionProgress(msgv *msg.Message) {
	body, ok := msgv.Body.(*msg.BodyExecutionProgress)
	if !ok {
		return
	}
	mod, ok := m.getModule(body.ModuleID)
	if !ok {
		return
	}

	if body.Start {
		mod.IncStarted()
		m.propagateDownstream(body.ModuleID, msg.Prepare)
		return
	}

	allFinished := mod.IncFinished(m.bus.Size())
	if !allFinished {
		return
	}
	m.propagateDownstream(body.ModuleID, msg.Reduce)

	// Unqueue delayed EXECUTE messages, one per execute, stopping at the
	// first EXECUTE (spec §4.2 Delayed messages).
	for {
		item, ok := mod.PopDelayed()
		if !ok {
			break
		}
		m.bus.BroadcastAndHandle(item.m, item.payload)
		if item.m.Type == msg.Execute {
			break
		}
	}

	if m.bus.IsMaster() && m.pipelineSettled() {
		done := &msg.Message{Type: msg.ExecutionDone, SenderID: body.ModuleID}
		if err := m.bus.SendToHub(done, nil); err != nil {
			nlog.Warningf("cluster: execution-done notify failed: %v", err)
		}
	}
}

// propagateDownstream fires Prepare/Reduce on every connected downstream
// module of src whose reduce/scheduling policy calls for it (spec §4.2
// EXECUTION_PROGRESS; mirrors the original's "allReadyForPrepare"/
// "allReadyForReduce" gate, simplified to per-edge propagation since each
// downstream module's own inputs gate its own readiness via
// checkExecuteObject).
func (m *Manager) propagateDownstream(src ident.ID, what msg.ExecuteWhat) {
	for _, out := range m.ports.ConnectedOutputPorts(src) {
		for _, in := range m.ports.Connections(out.Key) {
			if in.NoCompute() {
				continue
			}
			destID := in.Key.Module
			destMod, ok := m.getModule(destID)
			if !ok || destMod.ReducePolicy == ReduceNever {
				continue
			}
			exec := &msg.Message{
				Type: msg.Execute, DestID: destID,
				Body: &msg.BodyExecute{What: what, ModuleID: destID},
			}
			broadcast := destMod.ReducePolicy != ReduceLocally
			if broadcast {
				m.bus.BroadcastAndHandle(exec, nil)
			} else {
				destMod.send(exec, nil, m.payloads)
			}
		}
	}
}

// pipelineSettled is a coarse check: no module has a pending start/finish
// imbalance. A real implementation would track the full dependency DAG;
// this manager only needs to know "nothing is mid-execution" to emit
// EXECUTION_DONE.
func (m *Manager) pipelineSettled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mod := range m.running {
		mod.mu.Lock()
		busy := mod.ranksStarted > 0
		mod.mu.Unlock()
		if busy {
			return false
		}
	}
	return true
}
