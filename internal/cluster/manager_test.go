package cluster

import (
	"sync"
	"testing"

	"github.com/vistledev/vistle-manager/internal/clusterstats"
	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/msg"
	"github.com/vistledev/vistle-manager/internal/object"
	"github.com/vistledev/vistle-manager/internal/port"
	"github.com/vistledev/vistle-manager/internal/statetracker"
)

// fakeSender implements Sender without a real bus.Bus/World, so Manager can
// be driven directly.
type fakeSender struct {
	mu         sync.Mutex
	rank       ident.Rank
	size       int
	master     bool
	toMaster   []*msg.Message
	broadcasts []*msg.Message
}

func (f *fakeSender) Rank() ident.Rank { return f.rank }
func (f *fakeSender) Size() int        { return f.size }
func (f *fakeSender) IsMaster() bool   { return f.master }
func (f *fakeSender) SendToRank(m *msg.Message, payload []byte, destRank ident.Rank) {}
func (f *fakeSender) ForwardToMaster(m *msg.Message, payload []byte) {
	f.mu.Lock()
	f.toMaster = append(f.toMaster, m)
	f.mu.Unlock()
}
func (f *fakeSender) SendToHub(m *msg.Message, payload []byte) error { return nil }
func (f *fakeSender) BroadcastAndHandle(m *msg.Message, payload []byte) {
	f.mu.Lock()
	f.broadcasts = append(f.broadcasts, m)
	f.mu.Unlock()
}

func (f *fakeSender) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

// fakeDataManager implements DataManager with no real transfer tracking;
// tests that need RequestObject's onReady callback invoke it synchronously.
type fakeDataManager struct {
	mu       sync.Mutex
	prepared []string
}

func (f *fakeDataManager) PrepareTransfer(objName string, destHub ident.ID) {
	f.mu.Lock()
	f.prepared = append(f.prepared, objName)
	f.mu.Unlock()
}
func (f *fakeDataManager) RequestObject(referrer, objName string, hub ident.ID, rank ident.Rank, onReady func()) {
	onReady()
}
func (f *fakeDataManager) CompleteTransfer(objName string) {}

func newTestManager(t *testing.T, rank ident.Rank, size int, master bool) (*Manager, *fakeSender) {
	t.Helper()
	sender := &fakeSender{rank: rank, size: size, master: master}
	state, err := statetracker.New()
	if err != nil {
		t.Fatalf("statetracker.New: %v", err)
	}
	t.Cleanup(func() { state.Close() })
	mgr := New(sender, state, port.NewManager(), object.NewStore(), msg.NewPayloadArena(),
		clusterstats.New(nil), &fakeDataManager{}, nil, ident.HubBase)
	return mgr, sender
}

// TestHandleSetParameterForwardsToModule covers the review fix where
// SET_PARAMETER only logged and never reached the destination module.
func TestHandleSetParameterForwardsToModule(t *testing.T) {
	mgr, _ := newTestManager(t, 0, 1, true)
	mod := newModule(ident.ModuleBase+1, mgr.localHubID, SchedSingle, ReduceNever)
	mgr.mu.Lock()
	mgr.running[mod.ID] = mod
	mgr.mu.Unlock()

	setParam := &msg.Message{
		Type: msg.SetParameter, DestID: mod.ID,
		Body: &msg.BodySetParameter{TargetID: mod.ID, Name: "speed", Value: "5"},
	}
	mgr.Route(setParam, nil)

	select {
	case item := <-mod.sendQ:
		if item.m.Type != msg.SetParameter {
			t.Fatalf("forwarded message type = %v, want SET_PARAMETER", item.m.Type)
		}
	default:
		t.Fatal("SET_PARAMETER never reached the destination module's sendQ")
	}
}

// TestLazyGangFiresAtTwentyPercentRankOwn exercises the rank-0-direct path
// of the LazyGang threshold: with 5 ranks, a single contribution (20%) must
// fire.
func TestLazyGangFiresAtTwentyPercentRankOwn(t *testing.T) {
	mgr, sender := newTestManager(t, 0, 5, true)
	mod := newModule(ident.ModuleBase+1, mgr.localHubID, SchedLazyGang, ReduceNever)
	mgr.mu.Lock()
	mgr.running[mod.ID] = mod
	mgr.mu.Unlock()

	exec := &msg.Message{Type: msg.Execute, DestID: mod.ID, Body: &msg.BodyExecute{What: msg.ComputeObject, ModuleID: mod.ID}}
	mgr.lazyGangDispatch(mod, exec)

	if got := sender.broadcastCount(); got != 1 {
		t.Fatalf("broadcastCount = %d, want 1 (1/5 ranks meets the 20%% threshold)", got)
	}
	mod.mu.Lock()
	for i, c := range mod.perRankObjectCount {
		if c != 0 {
			t.Fatalf("perRankObjectCount[%d] = %d, want 0 after firing (counters decremented)", i, c)
		}
	}
	mod.mu.Unlock()
}

// TestLazyGangBelowThresholdDoesNotFire covers the complementary case: with
// 10 ranks, one contribution (10%) must not fire yet.
func TestLazyGangBelowThresholdDoesNotFire(t *testing.T) {
	mgr, sender := newTestManager(t, 0, 10, true)
	mod := newModule(ident.ModuleBase+1, mgr.localHubID, SchedLazyGang, ReduceNever)
	mgr.mu.Lock()
	mgr.running[mod.ID] = mod
	mgr.mu.Unlock()

	exec := &msg.Message{Type: msg.Execute, DestID: mod.ID, Body: &msg.BodyExecute{What: msg.ComputeObject, ModuleID: mod.ID}}
	mgr.lazyGangDispatch(mod, exec)

	if got := sender.broadcastCount(); got != 0 {
		t.Fatalf("broadcastCount = %d, want 0 (1/10 ranks is below the 20%% threshold)", got)
	}
}

// TestLazyGangTickFromNonZeroRankReentersAccounting is the direct regression
// test for the review fix: a non-zero rank must forward a dedicated
// LAZY_GANG_TICK rather than a bare EXECUTE, and rank 0 must re-enter
// threshold accounting on receipt rather than firing immediately.
func TestLazyGangTickFromNonZeroRankReentersAccounting(t *testing.T) {
	sender := &fakeSender{rank: 2, size: 5, master: false}
	state, err := statetracker.New()
	if err != nil {
		t.Fatalf("statetracker.New: %v", err)
	}
	defer state.Close()
	mgr := New(sender, state, port.NewManager(), object.NewStore(), msg.NewPayloadArena(),
		clusterstats.New(nil), &fakeDataManager{}, nil, ident.HubBase)
	mod := newModule(ident.ModuleBase+1, mgr.localHubID, SchedLazyGang, ReduceNever)
	mgr.mu.Lock()
	mgr.running[mod.ID] = mod
	mgr.mu.Unlock()

	exec := &msg.Message{Type: msg.Execute, DestID: mod.ID, Body: &msg.BodyExecute{What: msg.ComputeObject, ModuleID: mod.ID}}
	mgr.lazyGangDispatch(mod, exec)

	if got := sender.broadcastCount(); got != 0 {
		t.Fatalf("broadcastCount on non-zero rank = %d, want 0 (must forward, not fire locally)", got)
	}
	sender.mu.Lock()
	n := len(sender.toMaster)
	var tick *msg.BodyLazyGangTick
	if n == 1 {
		tick, _ = sender.toMaster[0].Body.(*msg.BodyLazyGangTick)
	}
	sender.mu.Unlock()
	if n != 1 || tick == nil {
		t.Fatalf("ForwardToMaster called %d times with body %+v, want one BodyLazyGangTick", n, tick)
	}
	if tick.Rank != 2 {
		t.Fatalf("forwarded tick.Rank = %v, want 2", tick.Rank)
	}

	// Rank 0's Manager, receiving the forwarded tick, re-enters the same
	// threshold accounting lazyGangDispatch would have applied locally.
	rank0Sender := &fakeSender{rank: 0, size: 5, master: true}
	rank0State, err := statetracker.New()
	if err != nil {
		t.Fatalf("statetracker.New: %v", err)
	}
	defer rank0State.Close()
	rank0Mgr := New(rank0Sender, rank0State, port.NewManager(), object.NewStore(), msg.NewPayloadArena(),
		clusterstats.New(nil), &fakeDataManager{}, nil, ident.HubBase)
	rank0Mod := newModule(mod.ID, rank0Mgr.localHubID, SchedLazyGang, ReduceNever)
	rank0Mgr.mu.Lock()
	rank0Mgr.running[rank0Mod.ID] = rank0Mod
	rank0Mgr.mu.Unlock()

	rank0Mgr.handleLazyGangTick(sender.toMaster[0])
	if got := rank0Sender.broadcastCount(); got != 1 {
		t.Fatalf("rank 0 broadcastCount after handling forwarded tick = %d, want 1", got)
	}
}

// TestConnectPersistsAndSpawnReplaysTopology is the end-to-end regression
// test for the review fix where CONNECT/DISCONNECT never reached the
// replayable state log: a module spawned after a CONNECT must receive it on
// replay, same as ordinary state-carrying messages.
//
// The Module here is constructed directly (bypassing handleSpawn) so the
// test can inspect sendQ synchronously, without racing the production
// startForwarding goroutine that also drains sendQ (to Unref payloads).
func TestConnectPersistsAndSpawnReplaysTopology(t *testing.T) {
	mgr, _ := newTestManager(t, 0, 1, true)

	srcID, dstID := ident.ModuleBase+1, ident.ModuleBase+2
	mgr.ports.AddPort(port.Key{Module: srcID, Name: "out"}, port.Output, 0)
	mgr.ports.AddPort(port.Key{Module: dstID, Name: "in"}, port.Input, 0)

	connect := &msg.Message{
		Type: msg.Connect,
		Body: &msg.BodyConnect{SrcModule: srcID, DstModule: dstID, SrcPort: "out", DstPort: "in"},
	}
	mgr.Route(connect, nil)

	replayed, err := mgr.state.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(replayed) != 1 || replayed[0].Type != msg.Connect {
		t.Fatalf("Replay() = %v, want one CONNECT entry", replayed)
	}

	newMod := newModule(ident.ModuleBase+3, mgr.localHubID, SchedSingle, ReduceNever)
	mgr.mu.Lock()
	mgr.running[newMod.ID] = newMod
	mgr.mu.Unlock()
	for _, sm := range replayed {
		newMod.send(sm, nil, mgr.payloads)
	}

	select {
	case item := <-newMod.sendQ:
		body, ok := item.m.Body.(*msg.BodyConnect)
		if !ok || body.SrcModule != srcID || body.DstModule != dstID {
			t.Fatalf("replayed message body = %+v, want BodyConnect{%d,%d}", item.m.Body, srcID, dstID)
		}
	default:
		t.Fatal("newly-spawned module's sendQ has no replayed CONNECT")
	}
}

// TestCheckExecuteObjectFiresOnceAllInputsReady covers testable property 4:
// compute fires only once every connected non-NOCOMPUTE input has a
// pending object.
func TestCheckExecuteObjectFiresOnceAllInputsReady(t *testing.T) {
	mgr, _ := newTestManager(t, 0, 1, true)
	id := ident.ModuleBase + 1
	mod := newModule(id, mgr.localHubID, SchedSingle, ReduceNever)
	mgr.mu.Lock()
	mgr.running[id] = mod
	mgr.mu.Unlock()

	in1 := port.Key{Module: id, Name: "in1"}
	in2 := port.Key{Module: id, Name: "in2"}
	out := port.Key{Module: id + 1000, Name: "out"}
	mgr.ports.AddPort(in1, port.Input, 0)
	mgr.ports.AddPort(in2, port.Input, 0)
	mgr.ports.AddPort(out, port.Output, 0)
	mgr.ports.Connect(out, in1)
	mgr.ports.Connect(out, in2)

	mgr.deliverObject(in1, "obj-a")
	select {
	case <-mod.sendQ:
		t.Fatal("EXECUTE fired with only one of two inputs ready")
	default:
	}

	mgr.deliverObject(in2, "obj-b")
	select {
	case item := <-mod.sendQ:
		if item.m.Type != msg.Execute {
			t.Fatalf("fired message type = %v, want EXECUTE", item.m.Type)
		}
	default:
		t.Fatal("EXECUTE never fired once both inputs had a pending object")
	}
}
