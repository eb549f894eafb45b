package cluster

import (
	"testing"

	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/msg"
)

// TestUnblockFrontmostForwardsInFIFOOrder covers testable property 3: when
// the frontmost blocker clears, its queued message forwards, and draining
// continues only while the next queued message matches the new front
// blocker.
func TestUnblockFrontmostForwardsInFIFOOrder(t *testing.T) {
	mod := newModule(ident.ModuleBase+1, ident.HubBase, SchedSingle, ReduceNever)
	arena := msg.NewPayloadArena()

	b1 := &msg.Message{Type: msg.AddObject, UUID: msg.UUID{1}, Flags: msg.FlagBlocker}
	b2 := &msg.Message{Type: msg.AddObject, UUID: msg.UUID{2}, Flags: msg.FlagBlocker}
	mod.Block(b1)
	mod.Block(b2)
	mod.send(&msg.Message{Type: msg.AddObject, UUID: msg.UUID{1}}, nil, arena)
	mod.send(&msg.Message{Type: msg.AddObject, UUID: msg.UUID{2}}, nil, arena)

	// Unblocking b2 (non-frontmost) must not forward anything yet.
	unblock2 := &msg.Message{Type: msg.AddObject, UUID: msg.UUID{2}, Flags: msg.FlagUnblocking}
	if fwd := mod.Unblock(unblock2, nil); len(fwd) != 0 {
		t.Fatalf("Unblock(non-frontmost) forwarded %d messages, want 0", len(fwd))
	}
	select {
	case item := <-mod.sendQ:
		t.Fatalf("sendQ unexpectedly has %v after non-frontmost unblock", item.m)
	default:
	}

	// Unblocking b1 (frontmost) must forward both queued messages: b1's,
	// then b2's, since b2 is now the (only, and now cleared) front blocker.
	unblock1 := &msg.Message{Type: msg.AddObject, UUID: msg.UUID{1}, Flags: msg.FlagUnblocking}
	fwd := mod.Unblock(unblock1, nil)
	if len(fwd) != 2 {
		t.Fatalf("Unblock(frontmost) forwarded %d messages, want 2", len(fwd))
	}
	if fwd[0].m.UUID != (msg.UUID{1}) || fwd[1].m.UUID != (msg.UUID{2}) {
		t.Fatalf("forwarded order = [%v %v], want [{1} {2}]", fwd[0].m.UUID, fwd[1].m.UUID)
	}
	if mod.blocked {
		t.Fatal("mod.blocked still true after both blockers cleared")
	}
}

// TestUnblockIdempotent covers testable property 6: a duplicate UNBLOCKING
// for a blocker that's already gone has no additional effect.
func TestUnblockIdempotent(t *testing.T) {
	mod := newModule(ident.ModuleBase+1, ident.HubBase, SchedSingle, ReduceNever)
	b1 := &msg.Message{Type: msg.AddObject, UUID: msg.UUID{9}, Flags: msg.FlagBlocker}
	mod.Block(b1)

	unblock := &msg.Message{Type: msg.AddObject, UUID: msg.UUID{9}, Flags: msg.FlagUnblocking}
	mod.Unblock(unblock, nil)

	if fwd := mod.Unblock(unblock, nil); fwd != nil {
		t.Fatalf("duplicate Unblock returned %v, want nil", fwd)
	}
}

// TestSendRegistersThenRefsPayload covers the review fix for PayloadArena
// wiring: the first send of a payload-bearing message registers it (one
// ref held), and every subsequent send to the same or another queue bumps
// the refcount rather than re-registering.
func TestSendRegistersThenRefsPayload(t *testing.T) {
	mod := newModule(ident.ModuleBase+1, ident.HubBase, SchedSingle, ReduceNever)
	arena := msg.NewPayloadArena()

	m1 := &msg.Message{Type: msg.AddObject, PayloadName: "seg-1", PayloadSize: 3}
	mod.send(m1, []byte("abc"), arena)
	if got := arena.RefCount("seg-1"); got != 1 {
		t.Fatalf("RefCount after first send = %d, want 1", got)
	}

	m2 := &msg.Message{Type: msg.AddObject, PayloadName: "seg-1", PayloadSize: 3}
	mod.send(m2, nil, arena)
	if got := arena.RefCount("seg-1"); got != 2 {
		t.Fatalf("RefCount after second send = %d, want 2", got)
	}
}
