// Package interp walks a schema table to decode, encode, size and reshape the
// fields of one tagged extension.
//
// All four operations share one traversal. Names inside loops carry one index
// per enclosing loop, so the third AUX of the second band is AUX[1][2].
// Conditions that do not hold and loops that run zero times produce no fields
// and consume no bytes.
package interp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"

	"github.com/twinfer/tre-plugin/pkg/schema"
)

// Interpreter binds a table to the tag it describes. It holds no per-call
// state and may be shared between goroutines.
type Interpreter struct {
	tag    string
	table  *schema.Table
	logger *slog.Logger
}

// New returns an interpreter for table. A nil logger uses slog.Default().
func New(tag string, table *schema.Table, logger *slog.Logger) *Interpreter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{tag: tag, table: table, logger: logger}
}

func (p *Interpreter) Tag() string          { return p.tag }
func (p *Interpreter) Table() *schema.Table { return p.table }

func (p *Interpreter) walker(ctx context.Context, m mode) *walker {
	return &walker{ctx: ctx, mode: m, tag: p.tag, log: p.logger}
}

// Decode reads fields from stream until the table is exhausted. The stream
// must end exactly where the table does.
//
// On failure the returned error is a *DecodeError and the returned store holds
// the fields decoded before it. Callers should discard that store rather than
// treat it as a complete extension.
func (p *Interpreter) Decode(ctx context.Context, stream *kaitai.Stream) (*Store, error) {
	w := p.walker(ctx, modeDecode)
	w.in = stream
	w.dst = NewStore()
	if err := w.walk(p.table.Nodes()); err != nil {
		return w.dst, err
	}

	pos, err := stream.Pos()
	if err != nil {
		return w.dst, w.fail("", err)
	}
	end, err := stream.Size()
	if err != nil {
		return w.dst, w.fail("", err)
	}
	if pos < end {
		return w.dst, w.fail("", fmt.Errorf("%d bytes left: %w", end-pos, ErrTrailingData))
	}
	p.logger.DebugContext(ctx, "Decoded extension", "tag", p.tag, "fields", w.dst.Len(), "length", pos)
	return w.dst, nil
}

// DecodeBytes is Decode over a byte slice.
func (p *Interpreter) DecodeBytes(ctx context.Context, data []byte) (*Store, error) {
	return p.Decode(ctx, kaitai.NewStream(bytes.NewReader(data)))
}

// Encode writes the stored fields the table reaches, in traversal order.
// Stored fields the table does not reach are not written.
func (p *Interpreter) Encode(ctx context.Context, store *Store, out *kaitai.Writer) error {
	w := p.walker(ctx, modeEncode)
	w.src = store
	w.out = out
	return w.walk(p.table.Nodes())
}

// EncodeBytes is Encode into a new byte slice.
func (p *Interpreter) EncodeBytes(ctx context.Context, store *Store) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Encode(ctx, store, kaitai.NewWriter(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Size returns the number of bytes Encode would write.
func (p *Interpreter) Size(store *Store) (int, error) {
	w := p.walker(context.Background(), modeSize)
	w.src = store
	if err := w.walk(p.table.Nodes()); err != nil {
		return 0, err
	}
	return w.size, nil
}

// Reshape returns a store holding exactly the fields the table reaches given
// the values in store. Reached fields already stored are kept; new ones are
// blank (BCS-N zeros, BCS-A spaces, binary zeros), and fields that take the
// rest of the input start as one resizable byte. store itself is not changed.
func (p *Interpreter) Reshape(store *Store) (*Store, error) {
	w := p.walker(context.Background(), modeReshape)
	w.src = store
	w.dst = NewStore()
	if err := w.walk(p.table.Nodes()); err != nil {
		return nil, err
	}
	return w.dst, nil
}
