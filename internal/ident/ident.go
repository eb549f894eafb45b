// Package ident defines the 32-bit identifier space shared by hubs, modules,
// and the reserved well-known IDs used to address control messages.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package ident

// ID addresses a message sender/destination: a reserved well-known actor, a
// hub, or a module. Hubs and modules share the 32-bit space but occupy
// disjoint, non-overlapping ranges so that a bare ID is self-describing.
type ID int32

// Reserved IDs, in the order the spec enumerates them.
const (
	Invalid ID = iota
	Vistle
	Config
	Broadcast
	ForBroadcast
	NextHop
	UI
	LocalHub
	LocalManager
	MasterHub

	HubBase    ID = 1000
	ModuleBase ID = 1000000
)

func (id ID) IsHub() bool    { return id >= HubBase && id < ModuleBase }
func (id ID) IsModule() bool { return id >= ModuleBase }
func (id ID) Valid() bool    { return id != Invalid }

// Rank is 0..size-1 within a manager; -1 means "unspecified/any rank".
type Rank int32

const AnyRank Rank = -1

// Generation identifies the run (execution counter, iteration) that produced
// an object or a port's cached output sequence.
type Generation struct {
	ExecutionCount int64
	Iteration      int64
}

func (g Generation) Equal(o Generation) bool {
	return g.ExecutionCount == o.ExecutionCount && g.Iteration == o.Iteration
}
