package port

import (
	"testing"

	"github.com/vistledev/vistle-manager/internal/ident"
)

func TestConnectDisconnectSymmetric(t *testing.T) {
	m := NewManager()
	src := Key{Module: 1, Name: "data_out"}
	dst := Key{Module: 2, Name: "data_in"}
	m.AddPort(src, Output, 0)
	m.AddPort(dst, Input, 0)

	m.Connect(src, dst)
	if conns := m.Connections(src); len(conns) != 1 || conns[0].Key != dst {
		t.Fatalf("Connections(src) = %v, want [%v]", conns, dst)
	}
	if conns := m.Connections(dst); len(conns) != 1 || conns[0].Key != src {
		t.Fatalf("Connections(dst) = %v, want [%v]", conns, src)
	}

	m.Disconnect(src, dst)
	if conns := m.Connections(src); len(conns) != 0 {
		t.Fatalf("Connections(src) after disconnect = %v, want empty", conns)
	}
	if conns := m.Connections(dst); len(conns) != 0 {
		t.Fatalf("Connections(dst) after disconnect = %v, want empty", conns)
	}
}

// TestRecordOutputGenerationReset covers testable property 7: once the
// generation changes, the old names are dropped and CachedOutputs holds
// only the new name that triggered the reset.
func TestRecordOutputGenerationReset(t *testing.T) {
	m := NewManager()
	src := Key{Module: 1, Name: "data_out"}
	m.AddPort(src, Output, 0)

	gen1 := ident.Generation{ExecutionCount: 1}
	m.RecordOutput(src, gen1, "obj-a")
	m.RecordOutput(src, gen1, "obj-b")

	gen, names := m.CachedOutputs(src)
	if gen != gen1 || len(names) != 2 {
		t.Fatalf("CachedOutputs = (%v, %v), want (%v, 2 names)", gen, names, gen1)
	}

	gen2 := ident.Generation{ExecutionCount: 2}
	m.RecordOutput(src, gen2, "obj-c")

	gen, names = m.CachedOutputs(src)
	if gen != gen2 {
		t.Fatalf("generation after reset = %v, want %v", gen, gen2)
	}
	if len(names) != 1 || names[0] != "obj-c" {
		t.Fatalf("names after reset = %v, want [obj-c]", names)
	}
}

func TestCheckExecuteObjectReadiness(t *testing.T) {
	m := NewManager()
	a := Key{Module: 1, Name: "in_a"}
	b := Key{Module: 1, Name: "in_b"}
	m.AddPort(a, Input, 0)
	m.AddPort(b, Input, 0)

	inputs := m.ConnectedInputPorts(1)
	if len(inputs) != 0 {
		t.Fatalf("ConnectedInputPorts before any connection = %v, want empty (unconnected ports don't gate readiness)", inputs)
	}

	src := Key{Module: 2, Name: "out"}
	m.AddPort(src, Output, 0)
	m.Connect(src, a)
	m.Connect(src, b)

	inputs = m.ConnectedInputPorts(1)
	if len(inputs) != 2 {
		t.Fatalf("ConnectedInputPorts = %v, want 2", inputs)
	}
	for _, in := range inputs {
		if in.HasObject() {
			t.Fatalf("port %v has object before any PushObject", in.Key)
		}
	}

	pa, _ := m.Get(a)
	pa.PushObject("obj-1")
	if !pa.HasObject() {
		t.Fatal("HasObject() after PushObject = false, want true")
	}
	if name, ok := pa.PopObject(); !ok || name != "obj-1" {
		t.Fatalf("PopObject() = (%q, %v), want (obj-1, true)", name, ok)
	}
	if pa.HasObject() {
		t.Fatal("HasObject() after PopObject = true, want false")
	}
}

func TestReleaseModuleDropsItsPortsOnly(t *testing.T) {
	m := NewManager()
	m.AddPort(Key{Module: 1, Name: "a"}, Output, 0)
	m.AddPort(Key{Module: 2, Name: "b"}, Input, 0)

	m.ReleaseModule(1)

	if _, ok := m.Get(Key{Module: 1, Name: "a"}); ok {
		t.Fatal("module 1's port survived ReleaseModule")
	}
	if _, ok := m.Get(Key{Module: 2, Name: "b"}); !ok {
		t.Fatal("module 2's port was wrongly dropped by ReleaseModule(1)")
	}
}
