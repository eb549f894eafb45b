// Package port models Port, the per-port object queues/counters, and the
// output object cache used to replay objects to late-connecting downstream
// modules (spec §3, §4.2 CONNECT handling).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package port

import (
	"sync"

	"github.com/vistledev/vistle-manager/internal/ident"
)

type Direction uint8

const (
	Input Direction = iota
	Output
)

type Flags uint8

const (
	// NOCOMPUTE marks a connected-but-non-triggering port (spec §3): its
	// module does not wait on it to fire checkExecuteObject.
	NOCOMPUTE Flags = 1 << iota
)

// Key identifies a port within the graph.
type Key struct {
	Module ident.ID
	Name   string
}

type Port struct {
	mu sync.Mutex

	Key       Key
	Dir       Direction
	PortFlags Flags

	// connections are symmetric: removing one side removes the other
	// (spec §3 invariant), enforced by Manager.Connect/Disconnect.
	conns map[Key]*Port

	// pending is the FIFO of objects awaiting consumption, input ports only.
	pending []string
}

func newPort(k Key, dir Direction, flags Flags) *Port {
	return &Port{Key: k, Dir: dir, PortFlags: flags, conns: make(map[Key]*Port)}
}

func (p *Port) NoCompute() bool { return p.PortFlags&NOCOMPUTE != 0 }

func (p *Port) Connections() []*Port {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Port, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c)
	}
	return out
}

// PushObject enqueues an object name and returns the new pending count.
func (p *Port) PushObject(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, name)
	return len(p.pending)
}

// HasObject reports whether at least one object is pending (testable
// property 4: checkExecuteObject fires iff every connected non-NOCOMPUTE
// input has >= 1 pending object).
func (p *Port) HasObject() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) > 0
}

// PopObject removes and returns the front object name, if any.
func (p *Port) PopObject() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return "", false
	}
	name := p.pending[0]
	p.pending = p.pending[1:]
	return name, true
}

func (p *Port) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
