// Package object models the opaque scientific-data container addressed by
// a globally unique name (spec §3). The manager itself never interprets
// object payloads -- it only carries metadata, array/sub-object references,
// and refcounts; content lives in shared memory or travels via DataManager.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package object

import (
	"sync"

	"github.com/vistledev/vistle-manager/internal/ident"
)

// Meta is the fixed metadata every object carries (spec §3).
type Meta struct {
	CreatorID      ident.ID
	ExecutionCount int64
	Iteration      int64
	Block          int
	Timestep       int
	NumBlocks      int
	NumTimesteps   int
	RealTime       float64
	Attributes     map[string]string // free-form; msgp string map on the wire
}

func (m Meta) Generation() ident.Generation {
	return ident.Generation{ExecutionCount: m.ExecutionCount, Iteration: m.Iteration}
}

// ArrayRef names a raw array leaf referenced by an object.
type ArrayRef struct {
	Name string
}

// Object is the in-process handle to a named object. The full reference
// graph (References + Arrays) is required to interpret an object -- the
// manager only walks it for transfer and refcounting purposes, never for
// content.
type Object struct {
	mu sync.Mutex

	Name       string
	Meta       Meta
	References []string // names of other Objects this one refers to
	Arrays     []ArrayRef

	refs int
}

func New(name string, meta Meta) *Object {
	return &Object{Name: name, Meta: meta, refs: 1}
}

func idFromInt64(v int64) ident.ID { return ident.ID(v) }

// Ref/Unref track every port, cache, and in-transit record that holds this
// object; it is released (eligible for shared-memory reclamation) when the
// count reaches zero (spec §3 Lifecycle).
func (o *Object) Ref() {
	o.mu.Lock()
	o.refs++
	o.mu.Unlock()
}

// Unref returns true if this was the last reference.
func (o *Object) Unref() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refs--
	return o.refs <= 0
}

func (o *Object) RefCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.refs
}

// Store is the local shared-memory object directory: the narrow API surface
// the manager uses to name, look up, and release objects. Actual array
// content lives behind this interface (the real shared-memory allocator is
// out of scope per spec §1).
type Store struct {
	mu      sync.RWMutex
	objects map[string]*Object
}

func NewStore() *Store { return &Store{objects: make(map[string]*Object)} }

func (s *Store) Put(o *Object) {
	s.mu.Lock()
	s.objects[o.Name] = o
	s.mu.Unlock()
}

func (s *Store) Get(name string) (*Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[name]
	return o, ok
}

// Release drops the store's own reference and, if that was the last one,
// removes the directory entry.
func (s *Store) Release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[name]
	if !ok {
		return
	}
	if o.Unref() {
		delete(s.objects, name)
	}
}
