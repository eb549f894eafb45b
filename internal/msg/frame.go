package msg

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Hub TCP framing (spec §6): 4-byte magic + 4-byte message size + message
// record + optional trailing payload (size taken from the message header).
// Framing tolerates partial reads -- callers use bufio.Reader, never a bare
// single Read.
const (
	magic        uint32 = 0x76697374 // "vist"
	frameHdrSize        = 4 + 4
)

// wireMessage is the on-the-wire encoding of Message: the fixed header plus
// a JSON-encoded Body. A real ABI-stable binary layout would pack Body by
// type tag; JSON is used here for the variable envelope so that adding a
// body type never changes the frame format. The only size check is the
// 64 KiB cap on the whole encoded record; MaxRecordSize (512 bytes) is not
// checked here, neither for the header fields nor for the record.
type wireMessage struct {
	Type        Type
	Flags       Flags
	SenderID    int32
	SenderRank  int32
	DestID      int32
	DestRank    int32
	UUID        UUID
	Priority    uint8
	PayloadName string
	PayloadSize uint64
	BodyType    string
	Body        json.RawMessage
}

// WriteFrame writes one framed message, followed by its payload bytes if any.
func WriteFrame(w io.Writer, m *Message, payload []byte) error {
	if err := m.Validate(); err != nil {
		return err
	}
	body, bodyType, err := encodeBody(m.Body)
	if err != nil {
		return err
	}
	wm := wireMessage{
		Type: m.Type, Flags: m.Flags,
		SenderID: int32(m.SenderID), SenderRank: int32(m.SenderRank),
		DestID: int32(m.DestID), DestRank: int32(m.DestRank),
		UUID: m.UUID, Priority: m.Priority,
		PayloadName: m.PayloadName, PayloadSize: m.PayloadSize,
		BodyType: bodyType, Body: body,
	}
	buf, err := json.Marshal(wm)
	if err != nil {
		return err
	}
	if len(buf) > 64*1024 {
		return fmt.Errorf("frame: message record too large: %d bytes", len(buf))
	}
	var hdr [frameHdrSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], magic)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(buf)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "frame: write header")
	}
	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "frame: write record")
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return errors.Wrap(err, "frame: write payload")
		}
	}
	return nil
}

// ReadFrame reads one framed message and its trailing payload, if PayloadSize > 0.
func ReadFrame(r *bufio.Reader) (*Message, []byte, error) {
	var hdr [frameHdrSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, nil, errors.Wrap(err, "frame: read header")
	}
	if got := binary.BigEndian.Uint32(hdr[0:4]); got != magic {
		return nil, nil, fmt.Errorf("frame: bad magic %#x", got)
	}
	size := binary.BigEndian.Uint32(hdr[4:8])
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, nil, errors.Wrap(err, "frame: read record")
	}
	var wm wireMessage
	if err := json.Unmarshal(buf, &wm); err != nil {
		return nil, nil, err
	}
	body, err := decodeBody(wm.BodyType, wm.Body)
	if err != nil {
		return nil, nil, err
	}
	m := &Message{
		Type: wm.Type, Flags: wm.Flags,
		SenderID: intID(wm.SenderID), SenderRank: intRank(wm.SenderRank),
		DestID: intID(wm.DestID), DestRank: intRank(wm.DestRank),
		UUID: wm.UUID, Priority: wm.Priority,
		PayloadName: wm.PayloadName, PayloadSize: wm.PayloadSize,
		Body: body,
	}
	var payload []byte
	if m.PayloadSize > 0 {
		payload = make([]byte, m.PayloadSize)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, err
		}
	}
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	return m, payload, nil
}
