package object

import (
	"bytes"
	"io"

	"github.com/tinylib/msgp/msgp"
)

// EncodeMsg deep-serializes the object header, its array and sub-object
// references, using msgp -- the same wire format aistore's dsort package
// uses for its bulk record transfer (msgp.NewWriterSize over an io.Pipe).
// Array/sub-object *content* is resolved lazily by the caller (DataManager);
// this only carries the reference graph plus metadata.
func (o *Object) EncodeMsg(w *msgp.Writer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := w.WriteString(o.Name); err != nil {
		return err
	}
	if err := encodeMeta(w, o.Meta); err != nil {
		return err
	}
	if err := w.WriteArrayHeader(uint32(len(o.References))); err != nil {
		return err
	}
	for _, r := range o.References {
		if err := w.WriteString(r); err != nil {
			return err
		}
	}
	if err := w.WriteArrayHeader(uint32(len(o.Arrays))); err != nil {
		return err
	}
	for _, a := range o.Arrays {
		if err := w.WriteString(a.Name); err != nil {
			return err
		}
	}
	return nil
}

func encodeMeta(w *msgp.Writer, m Meta) error {
	if err := w.WriteInt64(int64(m.CreatorID)); err != nil {
		return err
	}
	if err := w.WriteInt64(m.ExecutionCount); err != nil {
		return err
	}
	if err := w.WriteInt64(m.Iteration); err != nil {
		return err
	}
	if err := w.WriteInt(m.Block); err != nil {
		return err
	}
	if err := w.WriteInt(m.Timestep); err != nil {
		return err
	}
	if err := w.WriteInt(m.NumBlocks); err != nil {
		return err
	}
	if err := w.WriteInt(m.NumTimesteps); err != nil {
		return err
	}
	if err := w.WriteFloat64(m.RealTime); err != nil {
		return err
	}
	return w.WriteMapStrStr(m.Attributes)
}

// DecodeObjectMsg reads back what EncodeMsg wrote, producing a detached
// Object (refs=1) owned by the caller.
func DecodeObjectMsg(r *msgp.Reader) (*Object, error) {
	name, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	meta, err := decodeMeta(r)
	if err != nil {
		return nil, err
	}
	nrefs, err := r.ReadArrayHeader()
	if err != nil {
		return nil, err
	}
	refs := make([]string, nrefs)
	for i := range refs {
		if refs[i], err = r.ReadString(); err != nil {
			return nil, err
		}
	}
	narr, err := r.ReadArrayHeader()
	if err != nil {
		return nil, err
	}
	arrays := make([]ArrayRef, narr)
	for i := range arrays {
		n, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		arrays[i] = ArrayRef{Name: n}
	}
	o := New(name, meta)
	o.References = refs
	o.Arrays = arrays
	return o, nil
}

func decodeMeta(r *msgp.Reader) (Meta, error) {
	var m Meta
	creator, err := r.ReadInt64()
	if err != nil {
		return m, err
	}
	exec, err := r.ReadInt64()
	if err != nil {
		return m, err
	}
	iter, err := r.ReadInt64()
	if err != nil {
		return m, err
	}
	block, err := r.ReadInt()
	if err != nil {
		return m, err
	}
	timestep, err := r.ReadInt()
	if err != nil {
		return m, err
	}
	numBlocks, err := r.ReadInt()
	if err != nil {
		return m, err
	}
	numTimesteps, err := r.ReadInt()
	if err != nil {
		return m, err
	}
	realTime, err := r.ReadFloat64()
	if err != nil {
		return m, err
	}
	attrs, err := r.ReadMapStrStr(nil)
	if err != nil {
		return m, err
	}
	m.CreatorID = idFromInt64(creator)
	m.ExecutionCount, m.Iteration = exec, iter
	m.Block, m.Timestep, m.NumBlocks, m.NumTimesteps = block, timestep, numBlocks, numTimesteps
	m.RealTime = realTime
	m.Attributes = attrs
	return m, nil
}

// MarshalBytes is a convenience wrapper for callers that want a []byte
// instead of streaming through a Writer (e.g. DataManager attaching a
// payload to SEND_OBJECT).
func (o *Object) MarshalBytes() ([]byte, error) {
	r, w := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		mw := msgp.NewWriter(w)
		err := o.EncodeMsg(mw)
		if err == nil {
			err = mw.Flush()
		}
		w.CloseWithError(err)
		errCh <- err
	}()
	b, readErr := io.ReadAll(r)
	if err := <-errCh; err != nil {
		return nil, err
	}
	return b, readErr
}

// UnmarshalBytes is MarshalBytes's inverse: decode a detached Object (refs=1)
// from raw bytes, the shape DataManager receives off the wire in a SEND_OBJECT
// payload.
func UnmarshalBytes(b []byte) (*Object, error) {
	return DecodeObjectMsg(msgp.NewReader(bytes.NewReader(b)))
}
