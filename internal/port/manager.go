package port

import (
	"sync"

	"github.com/vistledev/vistle-manager/internal/ident"
)

// outputCache is the PortKey -> OutputObjectCache mapping (spec §3): per
// output port, the sequence of object names emitted during the current
// generation. Cleared when the generation advances.
type outputCache struct {
	gen     ident.Generation
	names   []string
	hasGen  bool
}

// Manager is the manager-local PortManager: owns every Port in the graph,
// mutated only from the dispatch loop (spec §5 "PortManager state is
// manager-local, mutated only from the dispatch loop").
type Manager struct {
	mu     sync.Mutex
	ports  map[Key]*Port
	caches map[Key]*outputCache
}

func NewManager() *Manager {
	return &Manager{ports: make(map[Key]*Port), caches: make(map[Key]*outputCache)}
}

func (m *Manager) AddPort(k Key, dir Direction, flags Flags) *Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.ports[k]; ok {
		return p
	}
	p := newPort(k, dir, flags)
	m.ports[k] = p
	if dir == Output {
		m.caches[k] = &outputCache{}
	}
	return p
}

func (m *Manager) Get(k Key) (*Port, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.ports[k]
	return p, ok
}

// Connect links src (output) and dst (input) symmetrically.
func (m *Manager) Connect(src, dst Key) {
	m.mu.Lock()
	sp, dp := m.ports[src], m.ports[dst]
	m.mu.Unlock()
	if sp == nil || dp == nil {
		return
	}
	sp.mu.Lock()
	sp.conns[dst] = dp
	sp.mu.Unlock()
	dp.mu.Lock()
	dp.conns[src] = sp
	dp.mu.Unlock()
}

// Disconnect removes both sides of a connection (spec §3 invariant).
func (m *Manager) Disconnect(src, dst Key) {
	m.mu.Lock()
	sp, dp := m.ports[src], m.ports[dst]
	m.mu.Unlock()
	if sp != nil {
		sp.mu.Lock()
		delete(sp.conns, dst)
		sp.mu.Unlock()
	}
	if dp != nil {
		dp.mu.Lock()
		delete(dp.conns, src)
		dp.mu.Unlock()
	}
}

// Connections returns the peer ports connected to src.
func (m *Manager) Connections(src Key) []*Port {
	m.mu.Lock()
	p, ok := m.ports[src]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return p.Connections()
}

func (m *Manager) ConnectedInputPorts(moduleID ident.ID) []*Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Port
	for k, p := range m.ports {
		if k.Module == moduleID && p.Dir == Input && len(p.conns) > 0 {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) ConnectedOutputPorts(moduleID ident.ID) []*Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Port
	for k, p := range m.ports {
		if k.Module == moduleID && p.Dir == Output && len(p.conns) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// RecordOutput appends name to src's output cache for generation gen,
// clearing the cache first if the generation differs (spec §3 PortKey ->
// OutputObjectCache; testable property 7). Reset and append happen under
// one lock, so after a generation change CachedOutputs reports only the new
// name, never the old names.
func (m *Manager) RecordOutput(src Key, gen ident.Generation, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caches[src]
	if !ok {
		c = &outputCache{}
		m.caches[src] = c
	}

	if !c.hasGen || !c.gen.Equal(gen) {
		c.names = c.names[:0]
		c.gen = gen
		c.hasGen = true
	}
	c.names = append(c.names, name)
}

// CachedOutputs returns the objects emitted so far in the current
// generation at src, for replay to a newly-connected destination.
func (m *Manager) CachedOutputs(src Key) (gen ident.Generation, names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caches[src]
	if !ok {
		return ident.Generation{}, nil
	}
	out := make([]string, len(c.names))
	copy(out, c.names)
	return c.gen, out
}

// ReleaseModule drops every port and cache belonging to moduleID (called on
// MODULE_EXIT, spec §4.2).
func (m *Manager) ReleaseModule(moduleID ident.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.ports {
		if k.Module == moduleID {
			delete(m.ports, k)
			delete(m.caches, k)
		}
	}
}
