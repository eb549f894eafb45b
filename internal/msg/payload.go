package msg

import (
	"sync"

	"github.com/vistledev/vistle-manager/internal/debug"
)

// PayloadArena is the arena-owned payload registry keyed by shared-memory
// name, per spec §9 ("implement as an arena-owned payload registry keyed by
// shared-memory name, with explicit ref/unref at each handoff"). Payloads
// are leaves in the ownership DAG: no cycles, so plain refcounting suffices.
type PayloadArena struct {
	mu   sync.Mutex
	data map[string]*payload
}

type payload struct {
	bytes []byte
	refs  int
}

func NewPayloadArena() *PayloadArena {
	return &PayloadArena{data: make(map[string]*payload)}
}

// Put registers a freshly-produced payload with one reference held by the
// caller (the producer).
func (a *PayloadArena) Put(name string, b []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[name] = &payload{bytes: b, refs: 1}
}

// Ref increments the refcount of an existing payload; must be called every
// time a message carrying this payload is queued or forwarded (spec §3).
func (a *PayloadArena) Ref(name string) {
	if name == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.data[name]
	debug.Assert(ok, "ref of unknown payload", name)
	if ok {
		p.refs++
	}
}

// Unref decrements the refcount; the eventual consumer of a message calls
// this exactly once. The payload is freed when refs reaches zero.
func (a *PayloadArena) Unref(name string) {
	if name == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.data[name]
	if !ok {
		return
	}
	p.refs--
	if p.refs <= 0 {
		delete(a.data, name)
	}
}

func (a *PayloadArena) Get(name string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.data[name]
	if !ok {
		return nil, false
	}
	return p.bytes, true
}

func (a *PayloadArena) RefCount(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.data[name]; ok {
		return p.refs
	}
	return 0
}
