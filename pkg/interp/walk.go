package interp

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"

	"github.com/twinfer/tre-plugin/pkg/field"
	"github.com/twinfer/tre-plugin/pkg/schema"
)

type mode int

const (
	modeDecode mode = iota
	modeEncode
	modeSize
	modeReshape
)

func (m mode) String() string {
	switch m {
	case modeDecode:
		return "decode"
	case modeEncode:
		return "encode"
	case modeSize:
		return "size"
	default:
		return "reshape"
	}
}

// walker visits a table once. Decode fills dst from in, encode writes src to
// out, size counts src, and reshape rebuilds src into dst.
type walker struct {
	ctx  context.Context
	mode mode
	tag  string
	log  *slog.Logger

	in  *kaitai.Stream
	out *kaitai.Writer
	src *Store
	dst *Store

	idx  []int
	size int
}

// scope is the store references resolve against: the fields produced so far
// when building, the input store otherwise.
func (w *walker) scope() *Store {
	if w.mode == modeDecode || w.mode == modeReshape {
		return w.dst
	}
	return w.src
}

func (w *walker) lookup(ref string) (*field.Field, error) {
	s := w.scope()
	name, ok := schema.Resolve(ref, w.idx, s.Has)
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, schema.ErrNoField)
	}
	f, _ := s.Get(name)
	return f, nil
}

func (w *walker) offset() int64 {
	if w.in == nil {
		return int64(w.size)
	}
	pos, err := w.in.Pos()
	if err != nil {
		return -1
	}
	return pos
}

func (w *walker) fail(name string, err error) error {
	if w.mode == modeDecode {
		return &DecodeError{Tag: w.tag, Field: name, Offset: w.offset(), Err: err}
	}
	return &EncodeError{Tag: w.tag, Field: name, Err: err}
}

func (w *walker) walk(nodes []schema.Node) error {
	for _, n := range nodes {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		switch n := n.(type) {
		case *schema.FieldNode:
			if err := w.field(n); err != nil {
				return err
			}
		case *schema.IfNode:
			ok, err := n.Cond.Eval(w.lookup)
			if err != nil {
				return w.fail(n.Cond.String(), err)
			}
			if !ok {
				continue
			}
			if err := w.walk(n.Body); err != nil {
				return err
			}
		case *schema.LoopNode:
			count, err := n.Count.Eval(w.lookup)
			if err != nil {
				return w.fail(n.Count.String(), err)
			}
			if err := w.loop(n, count); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *walker) loop(n *schema.LoopNode, count int) error {
	w.idx = append(w.idx, 0)
	defer func() { w.idx = w.idx[:len(w.idx)-1] }()
	for i := range count {
		w.idx[len(w.idx)-1] = i
		if err := w.walk(n.Body); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) field(n *schema.FieldNode) error {
	name := schema.IndexedName(n.Name, w.idx)
	typ, err := n.ResolveType(w.lookup)
	if err != nil {
		return w.fail(name, err)
	}
	length, err := n.ResolveLength(w.lookup)
	if err != nil {
		return w.fail(name, err)
	}
	// A computed length of zero means the field is absent.
	if n.Size != nil && length == 0 {
		return nil
	}

	switch w.mode {
	case modeDecode:
		return w.decodeField(n, name, typ, length)
	case modeReshape:
		w.reshapeField(n, name, typ, length)
		return nil
	default:
		return w.encodeField(n, name)
	}
}

func (w *walker) decodeField(n *schema.FieldNode, name string, typ field.ValueType, length int) error {
	pos, err := w.in.Pos()
	if err != nil {
		return w.fail(name, err)
	}
	end, err := w.in.Size()
	if err != nil {
		return w.fail(name, err)
	}
	left := end - pos
	if n.Remaining() {
		if left == 0 {
			return nil
		}
		length = int(left)
	}
	if int64(length) > left {
		return w.fail(name, fmt.Errorf("need %d bytes, %d left: %w", length, left, io.ErrUnexpectedEOF))
	}

	raw, err := w.in.ReadBytes(length)
	if err != nil {
		return w.fail(name, err)
	}
	f := field.FromRaw(name, typ, raw)
	if n.Remaining() {
		f.SetResizable(true)
	}
	w.dst.Put(f)
	w.log.DebugContext(w.ctx, "Decoded field", "tag", w.tag, "field", name, "offset", pos, "length", length)
	return nil
}

func (w *walker) encodeField(n *schema.FieldNode, name string) error {
	f, ok := w.src.Get(name)
	if !ok {
		// An empty remainder decodes to no field at all.
		if n.Remaining() {
			return nil
		}
		return w.fail(name, ErrMissingField)
	}
	if w.mode == modeEncode {
		if err := w.out.WriteBytes(f.Raw()); err != nil {
			return w.fail(name, err)
		}
		w.log.DebugContext(w.ctx, "Encoded field", "tag", w.tag, "field", name, "offset", w.size, "length", f.Len())
	}
	w.size += f.Len()
	return nil
}

// reshapeField keeps a stored field. A kept field whose type now resolves
// differently keeps its bytes under the new type, and one with a computed
// length is resized to the length it now resolves to.
func (w *walker) reshapeField(n *schema.FieldNode, name string, typ field.ValueType, length int) {
	if f, ok := w.src.Get(name); ok {
		resize := n.Size != nil && f.Len() != length
		if f.Type() != typ || resize || f.Resizable() != n.Remaining() {
			f = field.FromRaw(name, typ, f.Raw())
			f.SetResizable(n.Remaining())
		}
		if resize {
			_ = f.Resize(length)
		}
		w.dst.Put(f)
		return
	}

	var f *field.Field
	if n.Remaining() {
		f = field.NewResizable(name, typ, 1)
	} else {
		f = field.New(name, typ, length)
	}
	w.dst.Put(f)
	w.log.DebugContext(w.ctx, "Created field", "tag", w.tag, "field", name, "length", f.Len())
}
