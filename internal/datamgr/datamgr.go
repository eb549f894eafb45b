// Package datamgr implements the DataManager (spec §4.6): out-of-band
// object transfer between ranks/hubs when the shared-memory store isn't
// shared, with a request/response protocol that resolves references
// lazily, and in-transit tracking that defers reclamation.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package datamgr

import (
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/vistledev/vistle-manager/internal/clusterstats"
	"github.com/vistledev/vistle-manager/internal/compress"
	"github.com/vistledev/vistle-manager/internal/config"
	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/msg"
	"github.com/vistledev/vistle-manager/internal/nlog"
	"github.com/vistledev/vistle-manager/internal/object"
)

// Transport is the subset of bus.Bus DataManager needs to send its own
// wire messages (REQUEST_OBJECT/SEND_OBJECT/ADD_OBJECT_COMPLETED/
// DATA_TRANSFER_STATE).
type Transport interface {
	SendToHub(m *msg.Message, payload []byte) error
	SendToRank(m *msg.Message, payload []byte, rank ident.Rank)
}

// Manager is the DataManager. sendLoop/recvLoop/cleanLoop from spec §4.6
// are modeled as: dispatch() runs on the caller's goroutine (called from
// the single dispatch loop via cluster.Manager.handle*), async sends are
// launched with go + WaitGroup (cleanLoop's join), and recv arrives
// through Dispatch, invoked by the ClusterManager the same way the
// original's recvLoop hands frames to dispatch().
type Manager struct {
	transport Transport
	store     *object.Store
	cfg       *config.Config
	stats     *clusterstats.Stats
	hubID     ident.ID // this manager's own hub, used as the reply-to address

	group singleflight.Group // requestObject piggyback (spec §4.6 step 2)

	mu        sync.Mutex
	inTransit map[string][]*msg.Message // objId -> AddObject msgs not yet confirmed (sender side)
	onReady   map[string][]func()       // completion handlers per objId

	lastStatusSent time.Time

	wg sync.WaitGroup // cleanLoop equivalent: joins async send/recv tasks
}

func New(transport Transport, store *object.Store, cfg *config.Config, stats *clusterstats.Stats, hubID ident.ID) *Manager {
	return &Manager{
		transport: transport, store: store, cfg: cfg, stats: stats, hubID: hubID,
		inTransit: make(map[string][]*msg.Message),
		onReady:   make(map[string][]func()),
	}
}

// PrepareTransfer refs the object so it survives the transfer and records
// it in inTransitObjects (spec §4.3 producer side step 2, §4.6 bookkeeping).
func (d *Manager) PrepareTransfer(objName string, destHub ident.ID) {
	o, ok := d.store.Get(objName)
	if !ok {
		return
	}
	o.Ref()

	d.mu.Lock()
	d.inTransit[objName] = append(d.inTransit[objName], &msg.Message{
		Type: msg.AddObject, DestID: destHub,
		Body: &msg.BodyAddObject{ObjectName: objName},
	})
	d.mu.Unlock()

	d.maybeSendStatus()
}

// RequestObject implements spec §4.6 requestObject: synchronous onReady if
// already local; otherwise piggyback onto an in-flight REQUEST_OBJECT via
// singleflight, or issue a fresh one.
func (d *Manager) RequestObject(referrer, objID string, hub ident.ID, rank ident.Rank, onReady func()) {
	if _, ok := d.store.Get(objID); ok {
		onReady()
		return
	}

	d.mu.Lock()
	outstanding := len(d.onReady[objID]) > 0
	d.onReady[objID] = append(d.onReady[objID], onReady)
	d.mu.Unlock()
	if outstanding {
		// A REQUEST_OBJECT for objID is already awaiting its SEND_OBJECT;
		// onReady fires when that response arrives.
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// singleflight.Do additionally collapses concurrent callers for
		// the same objID onto one in-flight send.
		_, _, _ = d.group.Do(objID, func() (any, error) {
			req := &msg.Message{
				Type: msg.RequestObject, DestID: hub,
				Body: &msg.BodyRequestObject{ObjectName: objID, Referrer: d.hubID, HubID: hub, Rank: rank},
			}
			if err := d.transport.SendToHub(req, nil); err != nil {
				nlog.Warningf("datamgr: request-object %s failed: %v", objID, err)
			}
			return nil, nil
		})
	}()
}

// Dispatch applies a received REQUEST_OBJECT or SEND_OBJECT message (spec
// §4.6: "dispatch() runs on the main thread and applies received
// messages").
func (d *Manager) Dispatch(m *msg.Message, payload []byte) {
	switch m.Type {
	case msg.RequestObject:
		d.handleRequestObject(m)
	case msg.SendObject:
		d.handleSendObject(m, payload)
	}
}

func (d *Manager) handleRequestObject(m *msg.Message) {
	body, ok := m.Body.(*msg.BodyRequestObject)
	if !ok {
		return
	}
	o, ok := d.store.Get(body.ObjectName)
	if !ok {
		nlog.Warningf("datamgr: request for unknown object %s", body.ObjectName)
		return
	}
	raw, err := o.MarshalBytes()
	if err != nil {
		nlog.Warningf("datamgr: marshal %s failed: %v", body.ObjectName, err)
		return
	}
	payload, err := compress.Compress(d.cfg.GetSession().ArchiveCompression, d.cfg.GetSession().ArchiveCompressionSpeed, raw)
	if err != nil {
		nlog.Warningf("datamgr: compress %s failed: %v", body.ObjectName, err)
		return
	}
	digest := blake2b.Sum256(payload)
	resp := &msg.Message{
		Type: msg.SendObject, DestID: body.Referrer, DestRank: body.Rank,
		PayloadName: body.ObjectName, PayloadSize: uint64(len(payload)),
		Body: &msg.BodySendObject{
			ObjectName: body.ObjectName, IsArray: false,
			Compression: string(d.cfg.GetSession().ArchiveCompression), Digest: digest,
		},
	}
	if err := d.transport.SendToHub(resp, payload); err != nil {
		nlog.Warningf("datamgr: send-object %s failed: %v", body.ObjectName, err)
	}
}

// handleSendObject implements spec §4.6 Object response: decompress,
// deserialize, and materialize the object into the local store before firing
// completion handlers for the name, then notify the sender with
// AddObjectCompleted (closing the transfer loop).
func (d *Manager) handleSendObject(m *msg.Message, payload []byte) {
	body, ok := m.Body.(*msg.BodySendObject)
	if !ok {
		return
	}
	raw, err := compress.Decompress(config.CompressionMode(body.Compression), payload)
	if err != nil {
		nlog.Warningf("datamgr: decompress %s failed: %v", body.ObjectName, err)
		return
	}
	o, err := object.UnmarshalBytes(raw)
	if err != nil {
		nlog.Warningf("datamgr: deserialize %s failed: %v", body.ObjectName, err)
		return
	}
	d.store.Put(o)

	d.mu.Lock()
	handlers := d.onReady[body.ObjectName]
	delete(d.onReady, body.ObjectName)
	d.mu.Unlock()

	for _, h := range handlers {
		h()
	}

	d.completeAdds(body.ObjectName)
}

// completeAdds notifies the sender that objName has fully arrived, closing
// the loop opened by PrepareTransfer (testable property 8).
func (d *Manager) completeAdds(objName string) {
	done := &msg.Message{Type: msg.AddObjectCompleted, Body: &msg.BodyAddObjectCompleted{ObjectName: objName}}
	if err := d.transport.SendToHub(done, nil); err != nil {
		nlog.Warningf("datamgr: add-object-completed %s failed: %v", objName, err)
	}
	if d.stats != nil {
		d.stats.ObjectsTransferred.Inc()
	}
}

// CompleteTransfer implements testable property 8: after
// ADD_OBJECT_COMPLETED is received for o, o is absent from inTransitObjects
// and its refcount contribution from the transfer is zero.
func (d *Manager) CompleteTransfer(objName string) {
	d.mu.Lock()
	msgs := d.inTransit[objName]
	delete(d.inTransit, objName)
	d.mu.Unlock()

	if o, ok := d.store.Get(objName); ok {
		for range msgs {
			d.store.Release(o.Name)
		}
	}
	if d.stats != nil {
		d.stats.InTransitObjects.Set(float64(d.InTransitCount()))
	}
}

func (d *Manager) InTransitCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, v := range d.inTransit {
		n += len(v)
	}
	return n
}

// maybeSendStatus debounces DataTransferState to ~1Hz (spec §4.6, §5).
func (d *Manager) maybeSendStatus() {
	d.mu.Lock()
	now := time.Now()
	if now.Sub(d.lastStatusSent) < time.Second {
		d.mu.Unlock()
		return
	}
	d.lastStatusSent = now
	count := 0
	for _, v := range d.inTransit {
		count += len(v)
	}
	d.mu.Unlock()

	status := &msg.Message{Type: msg.DataTransferState, Body: &msg.BodyDataTransferState{InTransit: count}}
	_ = d.transport.SendToHub(status, nil)
}

// Wait blocks until every async send/receive task launched by this manager
// has completed (cleanLoop equivalent), used at shutdown.
func (d *Manager) Wait() { d.wg.Wait() }
