package bus

import (
	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/msg"
)

// SendToRank delivers m to a specific rank: locally if destRank is this
// rank or AnyRank, otherwise over ToRank (spec §4.1 Send semantics).
//
// The send happens on the calling goroutine, not a spawned one: testable
// property 1 (message ordering) and the broadcast-atomicity property
// BroadcastAndHandle relies on both require that two sends issued back to
// back from the same caller arrive at a shared destination channel in that
// same order, which a fire-and-forget goroutine per send cannot guarantee.
// destRank's channel is buffered (256 deep), so this does not block under
// normal load; a full channel means the destination rank's dispatch loop
// is stalled, in which case blocking here is the correct back-pressure
// rather than silently reordering or dropping the message.
func (b *Bus) SendToRank(m *msg.Message, payload []byte, destRank ident.Rank) {
	if destRank == b.rank || destRank == ident.AnyRank {
		b.deliverLocal(m, payload)
		return
	}
	b.world.mu.Lock()
	ch, ok := b.world.ranks[destRank]
	b.world.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- envelope{m, payload}:
	case <-b.stopCh:
	}
}

func (b *Bus) deliverLocal(m *msg.Message, payload []byte) {
	select {
	case b.inbox <- envelope{m, payload}:
	default:
		// inbox is buffered generously; a full inbox indicates the
		// dispatch loop is stalled, which must never happen (no
		// blocking operation) -- fall back to a blocking send rather
		// than drop the message (spec §7: "no message is ever
		// dropped").
		b.inbox <- envelope{m, payload}
	}
}

// ForwardToMaster sends m to rank 0 of this manager, used by every non-zero
// rank that needs to reach the hub (spec §4.1).
func (b *Bus) ForwardToMaster(m *msg.Message, payload []byte) {
	b.SendToRank(m, payload, 0)
}

// SendToHub writes m (and payload) to the hub socket. Only rank 0 owns the
// socket; non-zero ranks must route through ForwardToMaster first.
func (b *Bus) SendToHub(m *msg.Message, payload []byte) error {
	if b.hubConn == nil {
		return errNotHubOwner
	}
	b.hubW.Lock()
	defer b.hubW.Unlock()
	return msg.WriteFrame(b.hubConn, m, payload)
}

// BroadcastAndHandle implements broadcastAndHandleMessage (spec §4.1): on a
// non-zero rank, forward to rank 0 marked for-broadcast; rank 0 fans the
// message out to every other rank (preserving the per-channel ordering
// MPI would give an Isend-per-rank followed by a Bcast) and finally hands
// it to its own local ClusterManager.
func (b *Bus) BroadcastAndHandle(m *msg.Message, payload []byte) {
	if b.rank != 0 {
		fwd := *m
		fwd.Flags |= msg.FlagForBroadcast
		b.ForwardToMaster(&fwd, payload)
		return
	}
	b.world.mu.Lock()
	ranks := make([]ident.Rank, 0, len(b.world.ranks))
	for r := range b.world.ranks {
		ranks = append(ranks, r)
	}
	b.world.mu.Unlock()
	for _, r := range ranks {
		if r == b.rank {
			continue
		}
		b.SendToRank(m, payload, r)
	}
	b.handler.Handle(m, payload)
}

var errNotHubOwner = notHubOwnerErr{}

type notHubOwnerErr struct{}

func (notHubOwnerErr) Error() string { return "bus: only rank 0 owns the hub socket" }
