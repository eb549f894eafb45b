package msg

import "github.com/vistledev/vistle-manager/internal/ident"

// Body types, one struct per Type that carries structured data beyond the
// fixed header. Message.Body holds one of these; handlers type-switch on it.
type (
	BodySpawn struct {
		ModuleName string
		HubID      ident.ID
	}
	BodySpawnPrepared struct {
		ModuleID ident.ID
	}
	BodyModuleExit struct {
		ModuleID ident.ID
		Crashed  bool
	}
	BodyConnect struct {
		SrcModule, DstModule ident.ID
		SrcPort, DstPort     string
	}
	BodyDisconnect struct {
		SrcModule, DstModule ident.ID
		SrcPort, DstPort     string
	}
	BodyAddObject struct {
		SrcModule, DstModule ident.ID
		SrcPort, DstPort     string
		ObjectName           string
		Generation           ident.Generation
		ProducerRank         ident.Rank
		Block                int
	}
	BodyAddObjectCompleted struct {
		ObjectName string
	}
	BodyExecute struct {
		What     ExecuteWhat
		ModuleID ident.ID
		AllRanks bool
	}
	BodyExecutionProgress struct {
		ModuleID ident.ID
		Start    bool // false => Finish
	}
	BodyBarrier struct {
		BarrierUUID UUID
	}
	BodyBarrierReached struct {
		BarrierUUID UUID
		ModuleID    ident.ID
	}
	BodySetParameter struct {
		TargetID ident.ID
		Name     string
		Value    string
	}
	BodySendText struct {
		Level Severity
		Text  string
	}
	BodyRequestObject struct {
		ObjectName string
		Referrer   ident.ID
		HubID      ident.ID
		Rank       ident.Rank
	}
	BodySendObject struct {
		ObjectName  string
		IsArray     bool
		Compression string
		Digest      [32]byte
	}
	BodyDataTransferState struct {
		InTransit int
	}
	// BodyLazyGangTick carries a non-zero rank's object contribution to
	// rank 0 for LazyGang threshold accounting (spec §4.3): it must not be
	// routed as a plain EXECUTE, since that would fire compute immediately
	// on arrival instead of re-entering the threshold count.
	BodyLazyGangTick struct {
		ModuleID ident.ID
		Rank     ident.Rank
	}
)

type ExecuteWhat uint8

const (
	Upstream ExecuteWhat = iota
	Prepare
	ComputeExecute
	ComputeObject
	Reduce
)

type Severity uint8

const (
	SevInfo Severity = iota
	SevWarning
	SevError
)
