package cluster

import "github.com/vistledev/vistle-manager/internal/msg"

// handleKill implements the KILL control message (spec §4.2's message-type
// table): forcibly terminate a local module's process, bypassing the
// cooperative MODULE_EXIT/QUIT path. A no-op when modules run in-process
// (procs == nil) or the target isn't local to this hub.
func (m *Manager) handleKill(msgv *msg.Message) {
	id := msgv.DestID
	if m.procs == nil || !m.isLocal(id) {
		return
	}
	m.procs.Kill(id)
}

// handleQuit implements the QUIT control message: ask a local module's
// process to exit gracefully (SIGTERM), giving it a chance to flush state
// before MODULE_EXIT arrives. A no-op when modules run in-process.
func (m *Manager) handleQuit(msgv *msg.Message) {
	id := msgv.DestID
	if m.procs == nil || !m.isLocal(id) {
		return
	}
	m.procs.Terminate(id)
}
