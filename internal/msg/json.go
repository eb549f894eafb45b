package msg

// EncodeJSON and DecodeJSON expose the same body-tagged JSON envelope used
// by the hub frame codec, for callers (e.g. statetracker) that persist
// messages without the binary frame header.
func EncodeJSON(m *Message) (string, error) {
	body, bodyType, err := encodeBody(m.Body)
	if err != nil {
		return "", err
	}
	wm := wireMessage{
		Type: m.Type, Flags: m.Flags,
		SenderID: int32(m.SenderID), SenderRank: int32(m.SenderRank),
		DestID: int32(m.DestID), DestRank: int32(m.DestRank),
		UUID: m.UUID, Priority: m.Priority,
		PayloadName: m.PayloadName, PayloadSize: m.PayloadSize,
		BodyType: bodyType, Body: body,
	}
	b, err := jsonAPI.Marshal(wm)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodeJSON(s string) (*Message, error) {
	var wm wireMessage
	if err := jsonAPI.Unmarshal([]byte(s), &wm); err != nil {
		return nil, err
	}
	body, err := decodeBody(wm.BodyType, wm.Body)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type: wm.Type, Flags: wm.Flags,
		SenderID: intID(wm.SenderID), SenderRank: intRank(wm.SenderRank),
		DestID: intID(wm.DestID), DestRank: intRank(wm.DestRank),
		UUID: wm.UUID, Priority: wm.Priority,
		PayloadName: wm.PayloadName, PayloadSize: wm.PayloadSize,
		Body: body,
	}, nil
}
