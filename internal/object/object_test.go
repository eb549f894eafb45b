package object

import "testing"

func TestStorePutGetRelease(t *testing.T) {
	s := NewStore()
	o := New("obj-1", Meta{Block: 3})
	s.Put(o)

	got, ok := s.Get("obj-1")
	if !ok || got != o {
		t.Fatalf("Get(obj-1) = (%v, %v), want (%v, true)", got, ok, o)
	}

	s.Release("obj-1")
	if _, ok := s.Get("obj-1"); ok {
		t.Fatal("object still present after Release dropped its only reference")
	}
}

func TestStoreReleaseRespectsExtraRefs(t *testing.T) {
	s := NewStore()
	o := New("obj-1", Meta{})
	o.Ref() // a second holder, e.g. an in-transit record
	s.Put(o)

	s.Release("obj-1")
	if _, ok := s.Get("obj-1"); !ok {
		t.Fatal("object removed from store while a reference was still outstanding")
	}
	if got := o.RefCount(); got != 1 {
		t.Fatalf("RefCount after one Release = %d, want 1", got)
	}

	s.Release("obj-1")
	if _, ok := s.Get("obj-1"); ok {
		t.Fatal("object still present after its last reference was released")
	}
}

func TestStoreReleaseUnknownIsNoop(t *testing.T) {
	s := NewStore()
	s.Release("never-put") // must not panic
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	o := New("obj-1", Meta{
		CreatorID: 1000001, ExecutionCount: 2, Iteration: 3,
		Block: 4, Timestep: 5, NumBlocks: 6, NumTimesteps: 7, RealTime: 1.5,
		Attributes: map[string]string{"k": "v"},
	})
	o.References = []string{"obj-parent"}
	o.Arrays = []ArrayRef{{Name: "arr-1"}, {Name: "arr-2"}}

	raw, err := o.MarshalBytes()
	if err != nil {
		t.Fatalf("MarshalBytes: %v", err)
	}

	got, err := UnmarshalBytes(raw)
	if err != nil {
		t.Fatalf("UnmarshalBytes: %v", err)
	}

	if got.Name != o.Name {
		t.Fatalf("Name = %q, want %q", got.Name, o.Name)
	}
	if got.Meta.Block != o.Meta.Block || got.Meta.RealTime != o.Meta.RealTime {
		t.Fatalf("Meta = %+v, want to match %+v", got.Meta, o.Meta)
	}
	if got.Meta.Attributes["k"] != "v" {
		t.Fatalf("Attributes = %v, want k=v", got.Meta.Attributes)
	}
	if len(got.References) != 1 || got.References[0] != "obj-parent" {
		t.Fatalf("References = %v, want [obj-parent]", got.References)
	}
	if len(got.Arrays) != 2 || got.Arrays[0].Name != "arr-1" || got.Arrays[1].Name != "arr-2" {
		t.Fatalf("Arrays = %v, want [arr-1 arr-2]", got.Arrays)
	}
	if got.RefCount() != 1 {
		t.Fatalf("decoded object RefCount() = %d, want 1 (detached, caller-owned)", got.RefCount())
	}
}
