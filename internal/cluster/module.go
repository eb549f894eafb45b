// Package cluster implements the ClusterManager (spec §4.2): routing,
// per-module queues with blocking/unblocking semantics, barrier
// coordination, and the object-flow scheduling state machine.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"sync"

	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/msg"
)

type SchedPolicy uint8

const (
	SchedSingle SchedPolicy = iota
	SchedGang
	SchedLazyGang
)

type ReducePolicy uint8

const (
	ReduceNever ReducePolicy = iota
	ReduceLocally
	ReduceOverAll
	ReducePerTimestep
	ReducePerTimestepOrdered
	ReducePerTimestepZeroFirst
)

// messageWithPayload pairs a message with its (possibly not-yet-known)
// payload bytes, mirroring spec §3's MessageWithPayload deferred record.
type messageWithPayload struct {
	m       *msg.Message
	payload []byte
}

// blocker is one entry in a module's blockers FIFO (spec §3, §4.2).
type blocker struct {
	uuid msg.UUID
	typ  msg.Type
}

// Module is the RunningMap entry (spec §3): per-module send/receive queues,
// blocking state, delayed messages, and the two lifecycle phase flags.
type Module struct {
	ID    ident.ID
	HubID ident.ID

	SchedPolicy  SchedPolicy
	ReducePolicy ReducePolicy

	sendQ chan messageWithPayload // manager -> module
	recvQ chan messageWithPayload // module -> manager (forwarded into incomingMessages)

	mu              sync.Mutex
	blocked         bool
	blockers        []blocker
	blockedMessages []messageWithPayload // FIFO of deferred (blocked) sends
	delayedMessages []messageWithPayload // FIFO held while ranksStarted > 0

	perRankObjectCount []int // LazyGang: pending-object count per rank

	ranksStarted  int
	ranksFinished int
	busyCount     int

	prepared bool
	reduced  bool

	crashed bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newModule(id, hub ident.ID, sp SchedPolicy, rp ReducePolicy) *Module {
	return &Module{
		ID: id, HubID: hub,
		SchedPolicy: sp, ReducePolicy: rp,
		sendQ: make(chan messageWithPayload, 256),
		recvQ: make(chan messageWithPayload, 256),
		// reduced=true, prepared=false initially (spec §4.4 lifecycle invariant).
		reduced: true,
		stopCh:  make(chan struct{}),
	}
}

// startForwarding launches the message-forwarding thread: it drains recvQ
// (the module's outgoing side-channel) and pushes into the manager's
// incomingMessages deque under m_incomingMutex (spec §5). It also drains
// sendQ on the module's behalf, standing in for the real module process's
// receive loop -- whoever dequeues a payload-bearing message off sendQ is
// its final consumer, so that's where the arena ref taken in send() is
// released (spec §3: "the eventual consumer decrements").
func (mod *Module) startForwarding(push func(ident.ID, *msg.Message, []byte), arena *msg.PayloadArena) {
	mod.wg.Add(1)
	go func() {
		defer mod.wg.Done()
		for {
			select {
			case item, ok := <-mod.recvQ:
				if !ok {
					return
				}
				push(mod.ID, item.m, item.payload)
				if item.m.Type == msg.ModuleExit {
					return
				}
			case item, ok := <-mod.sendQ:
				if !ok {
					continue
				}
				if item.m.HasPayload() {
					arena.Unref(item.m.PayloadName)
				}
			case <-mod.stopCh:
				return
			}
		}
	}()
}

func (mod *Module) stopForwarding() {
	close(mod.stopCh)
	mod.wg.Wait()
}

// Send implements Module::send (spec §4.2): blocked modules get the
// message appended to blockedMessages; otherwise it is pushed to sendQ,
// registering the payload with the arena on its first handoff and ref'ing
// it on every subsequent one (spec §3).
func (mod *Module) send(m *msg.Message, payload []byte, arena *msg.PayloadArena) {
	if m.HasPayload() {
		if _, known := arena.Get(m.PayloadName); known {
			arena.Ref(m.PayloadName)
		} else {
			arena.Put(m.PayloadName, payload)
		}
	}
	mod.mu.Lock()
	if mod.blocked {
		mod.blockedMessages = append(mod.blockedMessages, messageWithPayload{m, payload})
		mod.mu.Unlock()
		return
	}
	mod.mu.Unlock()
	mod.sendQ <- messageWithPayload{m, payload}
}

// Block implements Module::block: sets blocked and appends m to blockers.
func (mod *Module) Block(m *msg.Message) {
	mod.mu.Lock()
	mod.blocked = true
	mod.blockers = append(mod.blockers, blocker{uuid: m.UUID, typ: m.Type})
	mod.mu.Unlock()
}

// Unblock implements Module::unblock (spec §4.2): the core ordering
// invariant (testable property 3, blocker FIFO) lives here.
//
// If m matches the front blocker, pop it, forward the corresponding queued
// message, and drain further queued messages whose UUID matches the new
// front blocker (or all of them if no blocker remains).
//
// If m unblocks a non-frontmost blocker, remove it from blockers and patch
// the matching queued message's payload in place, but do NOT forward --
// forwarding must stay in blocker-FIFO order.
func (mod *Module) Unblock(m *msg.Message, payload []byte) []messageWithPayload {
	mod.mu.Lock()
	defer mod.mu.Unlock()

	idx := -1
	for i, b := range mod.blockers {
		if b.uuid == m.UUID && b.typ == m.Type {
			idx = i
			break
		}
	}
	if idx == -1 {
		// testable property 6: idempotence -- the blocker is already
		// gone, a duplicate UNBLOCKING has no additional effect.
		return nil
	}

	if idx != 0 {
		// non-frontmost: patch in place, don't forward yet.
		mod.blockers = append(mod.blockers[:idx], mod.blockers[idx+1:]...)
		for i := range mod.blockedMessages {
			if mod.blockedMessages[i].m.UUID == m.UUID {
				mod.blockedMessages[i].payload = payload
				break
			}
		}
		return nil
	}

	// frontmost: pop it, then drain while the new front blocker (if any)
	// matches already-known queued messages, or everything if no
	// blockers remain and `blocked` clears.
	mod.blockers = mod.blockers[1:]
	var toForward []messageWithPayload
	for len(mod.blockedMessages) > 0 {
		head := mod.blockedMessages[0]
		if len(mod.blockers) == 0 {
			mod.blockedMessages = mod.blockedMessages[1:]
			toForward = append(toForward, head)
			continue
		}
		if head.m.UUID == mod.blockers[0].uuid {
			mod.blockedMessages = mod.blockedMessages[1:]
			toForward = append(toForward, head)
			continue
		}
		break
	}
	if len(mod.blockers) == 0 {
		mod.blocked = false
	}
	return toForward
}

// DelayExecute appends a ComputeExecute to delayedMessages while
// ranksStarted > 0 (spec §4.2 Delayed messages).
func (mod *Module) DelayExecute(m *msg.Message, payload []byte) {
	mod.mu.Lock()
	mod.delayedMessages = append(mod.delayedMessages, messageWithPayload{m, payload})
	mod.mu.Unlock()
}

// PopDelayed pops and returns the head of delayedMessages, one message per
// call; handleExecutionProgress stops popping after the first EXECUTE so
// single-execution-at-a-time semantics are preserved (spec §4.2).
func (mod *Module) PopDelayed() (messageWithPayload, bool) {
	mod.mu.Lock()
	defer mod.mu.Unlock()
	if len(mod.delayedMessages) == 0 {
		return messageWithPayload{}, false
	}
	head := mod.delayedMessages[0]
	mod.delayedMessages = mod.delayedMessages[1:]
	return head, true
}

func (mod *Module) IsRunningOrStarted() bool {
	mod.mu.Lock()
	defer mod.mu.Unlock()
	return mod.ranksStarted > 0
}

func (mod *Module) IncStarted() (allStarted bool) {
	mod.mu.Lock()
	defer mod.mu.Unlock()
	mod.ranksStarted++
	return mod.ranksStarted >= 1
}

func (mod *Module) IncFinished(size int) (allFinished bool) {
	mod.mu.Lock()
	defer mod.mu.Unlock()
	mod.ranksFinished++
	if mod.ranksFinished >= size {
		mod.ranksStarted, mod.ranksFinished = 0, 0
		return true
	}
	return false
}
