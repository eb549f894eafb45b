package cluster

import (
	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/msg"
	"github.com/vistledev/vistle-manager/internal/nlog"
	"github.com/vistledev/vistle-manager/internal/port"
)

// handleConnect implements the CONNECT handler (spec §4.2): update state,
// forward the notification to both endpoints, and if the source is local,
// replay cached ADD_OBJECT messages to the newly-connected destination.
func (m *Manager) handleConnect(msgv *msg.Message) {
	body, ok := msgv.Body.(*msg.BodyConnect)
	if !ok {
		return
	}
	src := port.Key{Module: body.SrcModule, Name: body.SrcPort}
	dst := port.Key{Module: body.DstModule, Name: body.DstPort}
	m.ports.Connect(src, dst)
	if err := m.state.RecordConnect(msgv); err != nil {
		nlog.Warningf("cluster: connect %v->%v: state record failed: %v", src, dst, err)
	}

	m.forwardToEndpoint(body.SrcModule, msgv)
	m.forwardToEndpoint(body.DstModule, msgv)

	if !m.isLocal(body.SrcModule) {
		return
	}
	gen, names := m.ports.CachedOutputs(src)
	// No cross-rank reduction of the cached-object count is performed:
	// each rank replays its own cache, and the replay is skipped only when
	// this rank's cache is empty.
	if len(names) == 0 {
		return
	}
	for _, name := range names {
		add := &msg.Message{
			Type: msg.AddObject, SenderID: body.SrcModule, DestID: body.DstModule,
			Body: &msg.BodyAddObject{
				SrcModule: body.SrcModule, DstModule: body.DstModule,
				SrcPort: body.SrcPort, DstPort: body.DstPort,
				ObjectName: name, Generation: gen,
			},
		}
		m.Route(add, nil)
	}
}

func (m *Manager) handleDisconnect(msgv *msg.Message) {
	body, ok := msgv.Body.(*msg.BodyDisconnect)
	if !ok {
		return
	}
	src := port.Key{Module: body.SrcModule, Name: body.SrcPort}
	dst := port.Key{Module: body.DstModule, Name: body.DstPort}
	m.ports.Disconnect(src, dst)
	if err := m.state.RecordDisconnect(msgv); err != nil {
		nlog.Warningf("cluster: disconnect %v->%v: state record failed: %v", src, dst, err)
	}
	m.forwardToEndpoint(body.SrcModule, msgv)
	m.forwardToEndpoint(body.DstModule, msgv)
}

func (m *Manager) forwardToEndpoint(id ident.ID, msgv *msg.Message) {
	if mod, ok := m.getModule(id); ok {
		mod.send(msgv, nil, m.payloads)
	}
}
