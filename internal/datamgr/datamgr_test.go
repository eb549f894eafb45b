package datamgr

import (
	"sync"
	"testing"

	"github.com/vistledev/vistle-manager/internal/clusterstats"
	"github.com/vistledev/vistle-manager/internal/config"
	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/msg"
	"github.com/vistledev/vistle-manager/internal/object"
)

type fakeTransport struct {
	mu     sync.Mutex
	hub    []*msg.Message
	toRank []*msg.Message
}

func (f *fakeTransport) SendToHub(m *msg.Message, payload []byte) error {
	f.mu.Lock()
	f.hub = append(f.hub, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SendToRank(m *msg.Message, payload []byte, rank ident.Rank) {
	f.mu.Lock()
	f.toRank = append(f.toRank, m)
	f.mu.Unlock()
}

func (f *fakeTransport) hubMessages() []*msg.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*msg.Message, len(f.hub))
	copy(out, f.hub)
	return out
}

// TestHandleSendObjectMaterializesIntoStore is the review fix for the bug
// where a received SEND_OBJECT payload was decompressed and then thrown
// away: the object must actually land in the local store so a subsequent
// RequestObject fast path (d.store.Get) can succeed, and any onReady
// handlers registered by an earlier RequestObject must fire.
func TestHandleSendObjectMaterializesIntoStore(t *testing.T) {
	transport := &fakeTransport{}
	store := object.NewStore()
	cfg := config.Default()
	stats := clusterstats.New(nil)
	dm := New(transport, store, cfg, stats, ident.HubBase)

	src := object.New("remote-obj", object.Meta{Block: 2})
	src.References = []string{"parent-obj"}
	raw, err := src.MarshalBytes()
	if err != nil {
		t.Fatalf("MarshalBytes: %v", err)
	}

	var fired bool
	dm.RequestObject("in_port", "remote-obj", ident.HubBase+1, 0, func() { fired = true })
	dm.Wait()

	dm.Dispatch(&msg.Message{
		Type: msg.SendObject,
		Body: &msg.BodySendObject{ObjectName: "remote-obj", Compression: string(config.CompressionNone)},
	}, raw)

	got, ok := store.Get("remote-obj")
	if !ok {
		t.Fatal("object not present in store after handleSendObject")
	}
	if len(got.References) != 1 || got.References[0] != "parent-obj" {
		t.Fatalf("deserialized References = %v, want [parent-obj]", got.References)
	}
	if !fired {
		t.Fatal("onReady handler registered by RequestObject never fired")
	}

	hub := transport.hubMessages()
	if len(hub) != 2 || hub[0].Type != msg.RequestObject || hub[1].Type != msg.AddObjectCompleted {
		t.Fatalf("hub messages = %v, want REQUEST_OBJECT then AddObjectCompleted", hub)
	}
}

func TestRequestObjectFastPathWhenLocal(t *testing.T) {
	transport := &fakeTransport{}
	store := object.NewStore()
	dm := New(transport, store, config.Default(), clusterstats.New(nil), ident.HubBase)

	store.Put(object.New("local-obj", object.Meta{}))

	called := false
	dm.RequestObject("in_port", "local-obj", ident.HubBase, 0, func() { called = true })

	if !called {
		t.Fatal("onReady not called synchronously for an already-local object")
	}
	if hub := transport.hubMessages(); len(hub) != 0 {
		t.Fatalf("hub messages = %v, want none (no REQUEST_OBJECT should be issued)", hub)
	}
}

// TestCompleteTransferReleasesSenderRef covers testable property 8: after
// ADD_OBJECT_COMPLETED, the object is absent from inTransitObjects and its
// transfer-held reference is released.
func TestCompleteTransferReleasesSenderRef(t *testing.T) {
	transport := &fakeTransport{}
	store := object.NewStore()
	dm := New(transport, store, config.Default(), clusterstats.New(nil), ident.HubBase)

	o := object.New("sent-obj", object.Meta{})
	store.Put(o)
	dm.PrepareTransfer("sent-obj", ident.HubBase+1)

	if got := o.RefCount(); got != 2 {
		t.Fatalf("RefCount after PrepareTransfer = %d, want 2 (store + in-transit)", got)
	}
	if got := dm.InTransitCount(); got != 1 {
		t.Fatalf("InTransitCount = %d, want 1", got)
	}

	dm.CompleteTransfer("sent-obj")

	if got := dm.InTransitCount(); got != 0 {
		t.Fatalf("InTransitCount after CompleteTransfer = %d, want 0", got)
	}
	if got := o.RefCount(); got != 1 {
		t.Fatalf("RefCount after CompleteTransfer = %d, want 1 (store only)", got)
	}
}
