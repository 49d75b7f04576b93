package extensions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"
	"golang.org/x/sync/errgroup"

	"github.com/twinfer/tre-plugin/pkg/field"
	"github.com/twinfer/tre-plugin/pkg/tre"
)

const (
	tagSize    = 6
	lengthSize = 5
	headerSize = tagSize + lengthSize

	// MaxDataLength is the largest extension data a five digit length holds.
	MaxDataLength = 99999
)

var (
	ErrMalformedHeader = errors.New("malformed extension header")
	ErrTooLong         = errors.New("extension data longer than 99999 bytes")
)

// AreaError locates a framing failure in an extension area.
type AreaError struct {
	Index  int
	Offset int64
	Tag    string
	Err    error
}

func (e *AreaError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("extension %d at offset %d: %v", e.Index, e.Offset, e.Err)
	}
	return fmt.Sprintf("extension %d (%s) at offset %d: %v", e.Index, e.Tag, e.Offset, e.Err)
}

func (e *AreaError) Unwrap() error { return e.Err }

type frame struct {
	tag    string
	offset int64
	data   []byte
}

func readFrames(data []byte, strict bool) ([]frame, int64, error) {
	s := kaitai.NewStream(bytes.NewReader(data))
	size, err := s.Size()
	if err != nil {
		return nil, 0, err
	}

	var frames []frame
	for i := 0; ; i++ {
		pos, err := s.Pos()
		if err != nil {
			return nil, 0, err
		}
		left := size - pos
		if left == 0 {
			return frames, 0, nil
		}
		if left < headerSize {
			if strict {
				return nil, 0, &AreaError{Index: i, Offset: pos, Err: fmt.Errorf("%d trailing bytes: %w", left, io.ErrUnexpectedEOF)}
			}
			return frames, left, nil
		}

		hdr, err := s.ReadBytes(headerSize)
		if err != nil {
			return nil, 0, &AreaError{Index: i, Offset: pos, Err: err}
		}
		tag := strings.TrimRight(string(hdr[:tagSize]), " ")
		if tag == "" || !field.IsBCSA(tag) {
			return nil, 0, &AreaError{Index: i, Offset: pos, Err: fmt.Errorf("tag %q: %w", hdr[:tagSize], ErrMalformedHeader)}
		}
		digits := string(hdr[tagSize:])
		n, err := strconv.Atoi(digits)
		if err != nil || strings.Trim(digits, "0123456789") != "" {
			return nil, 0, &AreaError{Index: i, Offset: pos, Tag: tag, Err: fmt.Errorf("length %q: %w", digits, ErrMalformedHeader)}
		}
		if int64(n) > left-headerSize {
			return nil, 0, &AreaError{Index: i, Offset: pos, Tag: tag, Err: fmt.Errorf("length %d with %d bytes left: %w", n, left-headerSize, io.ErrUnexpectedEOF)}
		}
		payload, err := s.ReadBytes(n)
		if err != nil {
			return nil, 0, &AreaError{Index: i, Offset: pos, Tag: tag, Err: err}
		}
		frames = append(frames, frame{tag: tag, offset: pos, data: payload})
	}
}

// ParseArea frames every extension of an extension area and decodes each
// through the registry, in area order. An extension whose tag is not
// registered, or that no description of its tag decodes, is kept as raw data.
func (p *Parser) ParseArea(ctx context.Context, data []byte, opts ...Option) ([]*tre.Extension, error) {
	o := p.with(opts)
	logger := o.logger

	frames, trailing, err := readFrames(data, o.strictTrailing)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to frame extension area", "error", err)
		return nil, err
	}
	if trailing > 0 {
		logger.WarnContext(ctx, "Ignoring trailing bytes in extension area", "bytes", trailing)
	}

	exts := make([]*tre.Extension, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.parallelism, 1))
	for i, fr := range frames {
		g.Go(func() error {
			e, err := decodeFrame(gctx, o, fr)
			if err != nil {
				return &AreaError{Index: i, Offset: fr.offset, Tag: fr.tag, Err: err}
			}
			exts[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.ErrorContext(ctx, "Failed to decode extension area", "error", err)
		return nil, err
	}
	return exts, nil
}

func decodeFrame(ctx context.Context, o options, fr frame) (*tre.Extension, error) {
	reg := o.registry
	if !reg.Has(fr.tag) {
		o.logger.DebugContext(ctx, "No description for tag, keeping raw data", "tag", fr.tag, "length", len(fr.data))
		return reg.DecodeRaw(ctx, fr.tag, fr.data)
	}

	e, err := reg.Decode(ctx, fr.tag, "", fr.data)
	if err == nil {
		o.logger.DebugContext(ctx, "Decoded extension", "tag", fr.tag, "id", e.ID(), "fields", e.Len())
		return e, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	o.logger.WarnContext(ctx, "Falling back to raw data", "tag", fr.tag, "offset", fr.offset, "error", err)
	return reg.DecodeRaw(ctx, fr.tag, fr.data)
}

// WriteArea frames and encodes exts as an extension area.
func (p *Parser) WriteArea(ctx context.Context, exts []*tre.Extension) ([]byte, error) {
	var buf bytes.Buffer
	w := kaitai.NewWriter(&buf)
	for i, e := range exts {
		if err := writeFrame(ctx, w, e); err != nil {
			err = &AreaError{Index: i, Offset: int64(buf.Len()), Tag: e.Tag(), Err: err}
			p.logger.ErrorContext(ctx, "Failed to write extension area", "error", err)
			return nil, err
		}
	}
	p.logger.DebugContext(ctx, "Wrote extension area", "extensions", len(exts), "length", buf.Len())
	return buf.Bytes(), nil
}

func writeFrame(ctx context.Context, w *kaitai.Writer, e *tre.Extension) error {
	data, err := e.Encode(ctx)
	if err != nil {
		return err
	}
	if len(data) > MaxDataLength {
		return fmt.Errorf("%d bytes: %w", len(data), ErrTooLong)
	}
	if err := w.WriteBytes(fmt.Appendf(nil, "%-6s%05d", e.Tag(), len(data))); err != nil {
		return err
	}
	return w.WriteBytes(data)
}

// ComputeLength returns the framed length of exts, headers included.
func ComputeLength(exts []*tre.Extension) (int, error) {
	total := 0
	for i, e := range exts {
		n, err := e.Size()
		if err != nil {
			return 0, &AreaError{Index: i, Tag: e.Tag(), Err: err}
		}
		if n > MaxDataLength {
			return 0, &AreaError{Index: i, Tag: e.Tag(), Err: fmt.Errorf("%d bytes: %w", n, ErrTooLong)}
		}
		total += headerSize + n
	}
	return total, nil
}
