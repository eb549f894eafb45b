// Package statetracker implements the authoritative replica of workflow
// graph state (spec §2, §3). Per spec §1 the real StateTracker is an
// external collaborator; this package exposes only the narrow API surface
// the ClusterManager needs -- replaying state-carrying messages to a
// freshly-spawned module and recording running modules -- backed by an
// embedded key-value store (buntdb) keyed by arrival sequence and module ID.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package statetracker

import (
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/msg"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Tracker replays every recorded state-carrying message (CONNECT/DISCONNECT/
// ADD_PORT/ADD_PARAMETER/...) in arrival order so that a late-joining module
// observer (or the manager answering a SPAWN request) can reconstruct the
// graph.
type Tracker struct {
	mu  sync.Mutex
	db  *buntdb.DB
	seq int64
}

// stateCarrying mirrors the exclusion list in spec §4.2 step 2: CONNECT,
// DISCONNECT, SPAWN, and TRACE are handled specially rather than folded
// into the generic state update, so Update skips them; the ClusterManager
// calls RecordConnect/RecordDisconnect directly for the first two, and
// SPAWN and TRACE are not written to the replay log.
func stateCarrying(t msg.Type) bool {
	switch t {
	case msg.Connect, msg.Disconnect, msg.Spawn, msg.Trace:
		return false
	default:
		return true
	}
}

func New() (*Tracker, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, err
	}
	return &Tracker{db: db}, nil
}

func (t *Tracker) Close() error { return t.db.Close() }

// Update folds a non-CONNECT/DISCONNECT/SPAWN/TRACE message into the
// replica, keyed so replay preserves arrival order (spec §4.2 step 2).
func (t *Tracker) Update(m *msg.Message) error {
	if !stateCarrying(m.Type) {
		return nil
	}
	return t.append(m)
}

// RecordConnect and RecordDisconnect persist CONNECT/DISCONNECT into the
// same arrival-ordered log Update writes to. Update itself skips these two
// types (they're routed specially by the ClusterManager rather than folded
// into the generic state update), so without this a module spawned after a
// connection already exists would get ports and parameters via Replay but
// no connection topology -- the new module's graph view would be missing
// edges the rest of the session already has.
func (t *Tracker) RecordConnect(m *msg.Message) error    { return t.append(m) }
func (t *Tracker) RecordDisconnect(m *msg.Message) error { return t.append(m) }

func (t *Tracker) append(m *msg.Message) error {
	t.mu.Lock()
	t.seq++
	key := fmt.Sprintf("state:%012d", t.seq)
	t.mu.Unlock()
	val, err := msg.EncodeJSON(m)
	if err != nil {
		return err
	}
	return t.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, val, nil)
		return err
	})
}

// Replay returns every state-carrying message recorded so far, in arrival
// order -- used on SPAWN to bring a new module's view up to date (spec
// §4.2 SPAWN handler).
func (t *Tracker) Replay() ([]*msg.Message, error) {
	var out []*msg.Message
	err := t.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("state:*", func(key, value string) bool {
			m, derr := msg.DecodeJSON(value)
			if derr != nil {
				return true
			}
			out = append(out, m)
			return true
		})
	})
	return out, err
}

// RunningModule is a thin record of modules known to the graph, independent
// of the per-rank RunningMap owned by cluster.Manager.
type RunningModule struct {
	ID            ident.ID
	HubID         ident.ID
	SchedPolicy   string
	ReducePolicy  string
}

func (t *Tracker) PutRunningModule(rm RunningModule) error {
	val, err := jsonAPI.MarshalToString(rm)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("module:%d", rm.ID)
	return t.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, val, nil)
		return err
	})
}

func (t *Tracker) GetRunningModule(id ident.ID) (RunningModule, bool) {
	var rm RunningModule
	key := fmt.Sprintf("module:%d", id)
	err := t.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		return jsonAPI.UnmarshalFromString(v, &rm)
	})
	return rm, err == nil
}

func (t *Tracker) RemoveRunningModule(id ident.ID) {
	key := fmt.Sprintf("module:%d", id)
	_ = t.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		return err
	})
}
