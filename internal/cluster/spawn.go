package cluster

import (
	"context"

	"github.com/vistledev/vistle-manager/internal/cos"
	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/msg"
	"github.com/vistledev/vistle-manager/internal/nlog"
	"github.com/vistledev/vistle-manager/internal/statetracker"
)

// handleSpawn implements the SPAWN handler (spec §4.2), on the destination
// hub only: allocate a RunningMap entry, start the forwarding thread,
// acknowledge with SPAWN_PREPARED, and replay the graph state the new
// module needs to see.
func (m *Manager) handleSpawn(msgv *msg.Message) {
	body, ok := msgv.Body.(*msg.BodySpawn)
	if !ok {
		return
	}
	if body.HubID != m.localHubID {
		return // SPAWN is handled on the destination hub only
	}
	id := msgv.DestID
	mod := newModule(id, m.localHubID, SchedSingle, ReduceNever)

	m.mu.Lock()
	m.running[id] = mod
	m.mu.Unlock()

	mod.startForwarding(m.pushIncoming, m.payloads)

	if m.procs != nil {
		if err := m.procs.Spawn(context.Background(), id, body.ModuleName); err != nil {
			nlog.Warningf("cluster: spawn %d (%s): process launch failed: %v", id, body.ModuleName, err)
		}
	}

	if err := m.state.PutRunningModule(statetracker.RunningModule{ID: id, HubID: m.localHubID}); err != nil {
		nlog.Warningf("cluster: spawn %d: state update failed: %v", id, err)
	}

	prepared := &msg.Message{
		Type: msg.SpawnPrepared, SenderID: ident.LocalManager, DestID: id,
		UUID: cos.GenUUID16(), Body: &msg.BodySpawnPrepared{ModuleID: id},
	}
	mod.send(prepared, nil, m.payloads)

	// Replay all already-seen state-carrying messages so the new module
	// sees the current graph (spec §4.2 SPAWN).
	seen, err := m.state.Replay()
	if err != nil {
		nlog.Warningf("cluster: spawn %d: replay failed: %v", id, err)
		return
	}
	for _, sm := range seen {
		mod.send(sm, nil, m.payloads)
	}
}

// handleModuleExit implements the MODULE_EXIT handler (spec §4.2, §7
// Module-crash taxonomy): remove (or mark crashed), release output-object
// caches, clear it from the reached-set, and forward to peers.
func (m *Manager) handleModuleExit(msgv *msg.Message) {
	body, _ := msgv.Body.(*msg.BodyModuleExit)
	id := msgv.DestID
	if body != nil {
		id = body.ModuleID
	}

	m.mu.Lock()
	mod, ok := m.running[id]
	if ok {
		delete(m.running, id)
		if body != nil && body.Crashed {
			mod.crashed = true
			m.crashed[id] = mod
		}
	}
	m.mu.Unlock()

	if ok {
		mod.stopForwarding()
		m.ports.ReleaseModule(id)
		m.state.RemoveRunningModule(id)
	}

	m.barrier.mu.Lock()
	delete(m.barrier.reached, id)
	m.barrier.mu.Unlock()

	if !m.bus.IsMaster() {
		m.bus.ForwardToMaster(msgv, nil)
	}
}
