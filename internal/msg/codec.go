package msg

import (
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/vistledev/vistle-manager/internal/ident"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func intID(v int32) ident.ID     { return ident.ID(v) }
func intRank(v int32) ident.Rank { return ident.Rank(v) }

func encodeBody(body any) (json.RawMessage, string, error) {
	if body == nil {
		return nil, "", nil
	}
	b, err := jsonAPI.Marshal(body)
	if err != nil {
		return nil, "", err
	}
	return b, fmt.Sprintf("%T", body), nil
}

func decodeBody(typeName string, raw json.RawMessage) (any, error) {
	if typeName == "" {
		return nil, nil
	}
	ctor, ok := bodyCtors[typeName]
	if !ok {
		return nil, fmt.Errorf("msg: unknown body type %q", typeName)
	}
	body := ctor()
	if err := jsonAPI.Unmarshal(raw, body); err != nil {
		return nil, err
	}
	return body, nil
}

var bodyCtors = map[string]func() any{
	"*msg.BodySpawn":             func() any { return &BodySpawn{} },
	"*msg.BodySpawnPrepared":     func() any { return &BodySpawnPrepared{} },
	"*msg.BodyModuleExit":        func() any { return &BodyModuleExit{} },
	"*msg.BodyConnect":           func() any { return &BodyConnect{} },
	"*msg.BodyDisconnect":        func() any { return &BodyDisconnect{} },
	"*msg.BodyAddObject":         func() any { return &BodyAddObject{} },
	"*msg.BodyAddObjectCompleted": func() any { return &BodyAddObjectCompleted{} },
	"*msg.BodyExecute":           func() any { return &BodyExecute{} },
	"*msg.BodyExecutionProgress": func() any { return &BodyExecutionProgress{} },
	"*msg.BodyBarrier":           func() any { return &BodyBarrier{} },
	"*msg.BodyBarrierReached":    func() any { return &BodyBarrierReached{} },
	"*msg.BodySetParameter":      func() any { return &BodySetParameter{} },
	"*msg.BodySendText":          func() any { return &BodySendText{} },
	"*msg.BodyRequestObject":     func() any { return &BodyRequestObject{} },
	"*msg.BodySendObject":        func() any { return &BodySendObject{} },
	"*msg.BodyDataTransferState": func() any { return &BodyDataTransferState{} },
	"*msg.BodyLazyGangTick":      func() any { return &BodyLazyGangTick{} },
}
