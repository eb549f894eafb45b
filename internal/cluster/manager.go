package cluster

import (
	"context"
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/vistledev/vistle-manager/internal/clusterstats"
	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/msg"
	"github.com/vistledev/vistle-manager/internal/nlog"
	"github.com/vistledev/vistle-manager/internal/object"
	"github.com/vistledev/vistle-manager/internal/port"
	"github.com/vistledev/vistle-manager/internal/statetracker"
)

// Sender is the subset of bus.Bus the ClusterManager needs; kept as an
// interface so cluster can be tested without a real Bus/World.
type Sender interface {
	Rank() ident.Rank
	Size() int
	IsMaster() bool
	SendToRank(m *msg.Message, payload []byte, destRank ident.Rank)
	ForwardToMaster(m *msg.Message, payload []byte)
	SendToHub(m *msg.Message, payload []byte) error
	BroadcastAndHandle(m *msg.Message, payload []byte)
}

// DataManager is the subset of datamgr.Manager the ClusterManager drives
// during object flow (kept as an interface so tests can substitute a fake).
type DataManager interface {
	PrepareTransfer(objName string, destHub ident.ID)
	RequestObject(referrer, objName string, hub ident.ID, rank ident.Rank, onReady func())
	CompleteTransfer(objName string)
}

// ProcessSupervisor is the subset of modproc.Supervisor the ClusterManager
// drives when a module runs as a separate OS process (spec §4.2 SPAWN:
// "load the module's code either in-process as a thread or as a separate
// process"). Nil when modules run in-process, in which case SPAWN/KILL
// skip process management entirely.
type ProcessSupervisor interface {
	Spawn(ctx context.Context, id ident.ID, path string, args ...string) error
	Terminate(id ident.ID)
	Kill(id ident.ID)
}

type incomingItem struct {
	senderModule ident.ID
	m            *msg.Message
	payload      []byte
}

// Manager is the ClusterManager (spec §4.2): the authoritative local actor
// for routing, module lifecycle, barrier coordination, and object flow.
type Manager struct {
	bus       Sender
	state     *statetracker.Tracker
	ports     *port.Manager
	objects   *object.Store
	payloads  *msg.PayloadArena
	stats     *clusterstats.Stats
	dataMgr   DataManager
	procs     ProcessSupervisor // nil when modules run in-process

	hubID      ident.ID
	localHubID ident.ID

	mu         sync.Mutex
	running    map[ident.ID]*Module
	crashed    map[ident.ID]*Module

	incomingMu sync.Mutex // m_incomingMutex
	incoming   []incomingItem
	notify     chan struct{} // wakes the Bus dispatch loop via SetWaker, see NotifyChan

	barrier *barrierState

	// seen is a probabilistic recently-processed-UUID filter enforcing
	// idempotent delivery (testable property 6) without unbounded memory
	// growth across a long-running session.
	seen *cuckoo.Filter
}

func New(bus Sender, state *statetracker.Tracker, ports *port.Manager, objects *object.Store,
	payloads *msg.PayloadArena, stats *clusterstats.Stats, dataMgr DataManager, procs ProcessSupervisor, hubID ident.ID,
) *Manager {
	return &Manager{
		bus: bus, state: state, ports: ports, objects: objects, payloads: payloads,
		stats: stats, dataMgr: dataMgr, procs: procs, hubID: hubID, localHubID: hubID,
		running: make(map[ident.ID]*Module), crashed: make(map[ident.ID]*Module),
		notify:  make(chan struct{}, 1),
		barrier: newBarrierState(),
		seen:    cuckoo.NewDefaultCuckooFilter(),
	}
}

// NotifyChan exposes the incomingMessages wake channel so the caller can
// wire it into bus.Bus.SetWaker alongside DrainIncoming, folding the
// incomingMessages deque into the Bus's single dispatch loop (spec §5)
// instead of running a second goroutine that would race Handle for access
// to shared module/port state.
func (m *Manager) NotifyChan() <-chan struct{} { return m.notify }

func (m *Manager) isLocal(id ident.ID) bool {
	mod, ok := m.getModule(id)
	return ok && mod.HubID == m.localHubID
}

func (m *Manager) getModule(id ident.ID) (*Module, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mod, ok := m.running[id]
	return mod, ok
}

// pushIncoming is the callback every module's forwarding thread calls: push
// onto the shared deque under m_incomingMutex (spec §5).
func (m *Manager) pushIncoming(senderModule ident.ID, msgv *msg.Message, payload []byte) {
	m.incomingMu.Lock()
	m.incoming = append(m.incoming, incomingItem{senderModule, msgv, payload})
	m.incomingMu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
		// a drain is already pending; Run will pick up everything on its
		// next wakeup, no need to queue another signal.
	}
}

// DrainIncoming pops and routes everything currently queued from module
// forwarding threads. Called from the single dispatch loop (bus.Bus.Run),
// never concurrently with itself.
func (m *Manager) DrainIncoming() {
	m.incomingMu.Lock()
	items := m.incoming
	m.incoming = nil
	m.incomingMu.Unlock()
	for _, it := range items {
		if m.barrier.Held(it.senderModule) {
			// spec §4.5: messages from a reached module are held until
			// the barrier clears -- re-enqueue for the next drain.
			m.incomingMu.Lock()
			m.incoming = append(m.incoming, it)
			m.incomingMu.Unlock()
			continue
		}
		m.Route(it.m, it.payload)
	}
}

// Handle implements bus.Handler: every message arriving over ToRank,
// broadcast, or the hub socket lands here.
func (m *Manager) Handle(msgv *msg.Message, payload []byte) {
	m.Route(msgv, payload)
}

var stateSkipTypes = map[msg.Type]bool{
	msg.Connect: true, msg.Disconnect: true, msg.Spawn: true, msg.Trace: true,
}

// Route implements the per-message routing rules of spec §4.2, in order.
func (m *Manager) Route(msgv *msg.Message, payload []byte) {
	if m.stats != nil {
		m.stats.MessagesRouted.WithLabelValues(typeName(msgv.Type)).Inc()
	}

	// 1. ForBroadcast destined messages go straight to the hub.
	if msgv.DestID == ident.ForBroadcast {
		if err := m.bus.SendToHub(msgv, payload); err != nil {
			nlog.Warningf("cluster: forward-to-hub failed: %v", err)
		}
		return
	}

	// 2. Update StateTracker unless specially handled.
	if !stateSkipTypes[msgv.Type] {
		if err := m.state.Update(msgv); err != nil {
			nlog.Warningf("cluster: state update failed: %v", err)
		}
	}

	// 3. Broadcast fan-out.
	if msgv.Flags.Has(msg.FlagBroadcast) && !msgv.Flags.Has(msg.FlagForBroadcast) {
		m.bus.BroadcastAndHandle(msgv, payload)
		if msgv.Flags.Has(msg.FlagBroadcastModule) {
			m.fanOutLocal(msgv, payload)
		}
		return
	}

	// 4. Local module delivery, except scheduling-class messages which are
	// handled by the per-type switch below (so they can apply blocking/
	// scheduling semantics rather than a raw enqueue).
	schedulingClass := msgv.Type == msg.Execute || msgv.Type == msg.CancelExecute ||
		msgv.Type == msg.SetParameter || msgv.Type == msg.LazyGangTick
	if msgv.DestID.IsModule() && m.isLocal(msgv.DestID) && !schedulingClass {
		if mod, ok := m.getModule(msgv.DestID); ok {
			mod.send(msgv, payload, m.payloads)
			return
		}
	}

	// 5. Different hub, not broadcast: forward.
	if msgv.DestID.IsHub() && msgv.DestID != m.localHubID && !msgv.Flags.Has(msg.FlagBroadcast) {
		if err := m.bus.SendToHub(msgv, payload); err != nil {
			nlog.Warningf("cluster: forward-to-hub failed: %v", err)
		}
		return
	}

	// 6. Per-type handler.
	m.dispatch(msgv, payload)
}

func (m *Manager) fanOutLocal(msgv *msg.Message, payload []byte) {
	m.mu.Lock()
	mods := make([]*Module, 0, len(m.running))
	for _, mod := range m.running {
		mods = append(mods, mod)
	}
	m.mu.Unlock()
	for _, mod := range mods {
		mod.send(msgv, payload, m.payloads)
	}
}

func (m *Manager) dispatch(msgv *msg.Message, payload []byte) {
	switch msgv.Type {
	case msg.Spawn:
		m.handleSpawn(msgv)
	case msg.Connect:
		m.handleConnect(msgv)
	case msg.Disconnect:
		m.handleDisconnect(msgv)
	case msg.AddObject:
		m.handleAddObject(msgv)
	case msg.Execute:
		m.handleExecute(msgv, payload)
	case msg.CancelExecute:
		m.handleCancelExecute(msgv)
	case msg.ExecutionProgress:
		m.handleExecutionProgress(msgv)
	case msg.Barrier:
		m.handleBarrier(msgv)
	case msg.BarrierReached:
		m.handleBarrierReached(msgv)
	case msg.ModuleExit:
		m.handleModuleExit(msgv)
	case msg.Kill:
		m.handleKill(msgv)
	case msg.Quit:
		m.handleQuit(msgv)
	case msg.SetParameter:
		m.handleSetParameter(msgv)
	case msg.LazyGangTick:
		m.handleLazyGangTick(msgv)
	case msg.RequestObject:
		m.handleRequestObject(msgv, payload)
	case msg.SendObject:
		m.handleSendObject(msgv, payload)
	case msg.AddObjectCompleted:
		m.handleAddObjectCompleted(msgv)
	default:
		// SET_PARAMETER_CHOICES/SEND_TEXT/ITEM_INFO/REQUEST_TUNNEL/
		// DATA_TRANSFER_STATE/TRACE/SET_NAME: well-defined local
		// updates with no additional invariants (spec §4.2).
	}
}

// handleSetParameter is SET_PARAMETER's per-type handler: it is carved out
// of Route's generic local-delivery path (schedulingClass) purely so it
// lands here rather than being enqueued directly, matching the original's
// mod->send(setParam) dispatch -- but the destination module still needs
// the message delivered, same as any other local send.
func (m *Manager) handleSetParameter(msgv *msg.Message) {
	body, ok := msgv.Body.(*msg.BodySetParameter)
	if !ok {
		return
	}
	// A SET_PARAMETER whose target is Vistle is a session parameter and is
	// logged here; no cached compression settings are kept, so nothing is
	// invalidated, and the config's Session block is not updated. Anything
	// else is a per-module parameter update that is only forwarded.
	if body.TargetID == ident.Vistle {
		nlog.Infof("cluster: session parameter %s updated", body.Name)
	}
	if mod, ok := m.getModule(msgv.DestID); ok {
		mod.send(msgv, nil, m.payloads)
	}
}

func typeName(t msg.Type) string {
	names := [...]string{
		"INVALID", "IDENTIFY", "ADDHUB", "REMOVEHUB", "SPAWN", "SPAWN_PREPARED",
		"STARTED", "MODULE_EXIT", "QUIT", "KILL", "CONNECT", "DISCONNECT",
		"ADD_PORT", "ADD_PARAMETER", "REMOVE_PARAMETER", "SET_PARAMETER",
		"SET_PARAMETER_CHOICES", "ADD_OBJECT", "ADD_OBJECT_COMPLETED",
		"OBJECT_RECEIVE_POLICY", "SCHEDULING_POLICY", "REDUCE_POLICY", "EXECUTE",
		"CANCEL_EXECUTE", "EXECUTION_PROGRESS", "EXECUTION_DONE", "BUSY", "IDLE",
		"BARRIER", "BARRIER_REACHED", "SEND_TEXT", "ITEM_INFO", "REQUEST_TUNNEL",
		"REQUEST_OBJECT", "SEND_OBJECT", "DATA_TRANSFER_STATE", "TRACE",
		"UPDATE_STATUS", "SET_NAME", "MODULE_AVAILABLE", "LAZY_GANG_TICK",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "UNKNOWN"
}
