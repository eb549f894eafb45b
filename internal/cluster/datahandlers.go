package cluster

import "github.com/vistledev/vistle-manager/internal/msg"

// These three message types carry DataManager's own wire protocol (spec
// §4.6); the ClusterManager only routes them to DataManager.Dispatch,
// which owns REQUEST_OBJECT/SEND_OBJECT/ADD_OBJECT_COMPLETED semantics.
func (m *Manager) handleRequestObject(msgv *msg.Message, payload []byte) {
	if d, ok := m.dataMgr.(interface{ Dispatch(*msg.Message, []byte) }); ok {
		d.Dispatch(msgv, payload)
	}
}

func (m *Manager) handleSendObject(msgv *msg.Message, payload []byte) {
	if d, ok := m.dataMgr.(interface{ Dispatch(*msg.Message, []byte) }); ok {
		d.Dispatch(msgv, payload)
	}
}

func (m *Manager) handleAddObjectCompleted(msgv *msg.Message) {
	body, ok := msgv.Body.(*msg.BodyAddObjectCompleted)
	if !ok {
		return
	}
	m.dataMgr.CompleteTransfer(body.ObjectName)
}
