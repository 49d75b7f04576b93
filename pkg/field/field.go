// Package field implements the typed byte values stored by a tagged extension.
//
// A Field holds exactly Len() bytes. Text values are kept padded to the
// declared length: free text (TextAny) is space padded on the right, numeric
// text (TextNumeric) is zero padded on the left with any sign kept in the first
// column. Binary values are fixed width and big-endian.
package field

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType is the representation of a field's bytes.
type ValueType int

const (
	// TextAny is BCS-A free text, space padded on the right.
	TextAny ValueType = iota
	// TextNumeric is BCS-N numeric text, zero padded on the left.
	TextNumeric
	// Binary is a fixed width big-endian byte sequence.
	Binary
)

var (
	ErrValueTooLong = errors.New("value longer than field")
	ErrEmptyValue   = errors.New("empty value")
	ErrShortBinary  = errors.New("binary value shorter than field")
	ErrNotNumeric   = errors.New("not a numeric value")
	ErrInvalidText  = errors.New("invalid character for field type")
	ErrBinaryString = errors.New("string value for binary field")
	ErrBinaryWidth  = errors.New("unsupported binary width")
	ErrOutOfRange   = errors.New("value out of range for field")
)

// String returns the short code used in description files.
func (v ValueType) String() string {
	switch v {
	case TextAny:
		return "A"
	case TextNumeric:
		return "N"
	case Binary:
		return "B"
	default:
		return fmt.Sprintf("ValueType(%d)", int(v))
	}
}

// ParseValueType accepts both the short codes and the BCS names.
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "BCS_A", "BCSA", "TEXT":
		return TextAny, nil
	case "N", "BCS_N", "BCSN", "NUMERIC":
		return TextNumeric, nil
	case "B", "BINARY":
		return Binary, nil
	}
	return 0, fmt.Errorf("unknown value type %q", s)
}

// Fill is the padding byte of the value type.
func (v ValueType) Fill() byte {
	switch v {
	case TextNumeric:
		return '0'
	case Binary:
		return 0
	default:
		return ' '
	}
}

// Field is a named, typed byte value.
type Field struct {
	name      string
	typ       ValueType
	raw       []byte
	resizable bool
}

// New returns a blank field of the given length: zeros for numeric text and
// binary, spaces for free text.
func New(name string, typ ValueType, length int) *Field {
	f := &Field{name: name, typ: typ, raw: make([]byte, length)}
	f.fill(f.raw)
	return f
}

// NewResizable returns a blank field whose length follows the values set on it.
// Fields that take the rest of their input are resizable.
func NewResizable(name string, typ ValueType, length int) *Field {
	f := New(name, typ, length)
	f.resizable = true
	return f
}

// FromRaw wraps a copy of raw without padding or validation. Decoding uses it.
func FromRaw(name string, typ ValueType, raw []byte) *Field {
	return &Field{name: name, typ: typ, raw: bytes.Clone(raw)}
}

func (f *Field) fill(b []byte) {
	c := f.typ.Fill()
	for i := range b {
		b[i] = c
	}
}

func (f *Field) Name() string        { return f.name }
func (f *Field) Type() ValueType     { return f.typ }
func (f *Field) Len() int            { return len(f.raw) }
func (f *Field) Resizable() bool     { return f.resizable }
func (f *Field) SetResizable(r bool) { f.resizable = r }

// Raw returns the stored bytes. The slice must not be modified.
func (f *Field) Raw() []byte {
	return f.raw
}

// Bytes returns a copy of the stored bytes.
func (f *Field) Bytes() []byte {
	return bytes.Clone(f.raw)
}

// String returns the raw value, padding included.
func (f *Field) String() string {
	return string(f.raw)
}

// Trimmed returns the value without its padding. Binary values are returned
// as is.
func (f *Field) Trimmed() string {
	switch f.typ {
	case TextAny:
		return strings.TrimRight(string(f.raw), " ")
	case TextNumeric:
		return strings.TrimSpace(string(f.raw))
	}
	return string(f.raw)
}

// Clone returns a deep copy.
func (f *Field) Clone() *Field {
	return &Field{name: f.name, typ: f.typ, raw: bytes.Clone(f.raw), resizable: f.resizable}
}

// SetRaw stores value. A shorter text value is padded, a shorter binary value
// is rejected. Resizable fields take the length of value.
func (f *Field) SetRaw(value []byte) error {
	if len(value) < 1 {
		return fmt.Errorf("field %s: %w", f.name, ErrEmptyValue)
	}
	if f.resizable {
		f.raw = bytes.Clone(value)
		return nil
	}
	switch {
	case len(value) > len(f.raw):
		return fmt.Errorf("field %s: %d bytes into %d: %w", f.name, len(value), len(f.raw), ErrValueTooLong)
	case len(value) == len(f.raw):
		copy(f.raw, value)
		return nil
	}

	switch f.typ {
	case TextAny:
		copy(f.raw, value)
		f.fill(f.raw[len(value):])
	case TextNumeric:
		// All dashes marks an unknown value over the whole width.
		if len(bytes.Trim(value, "-")) == 0 {
			for i := range f.raw {
				f.raw[i] = '-'
			}
			return nil
		}
		pad := len(f.raw) - len(value)
		f.fill(f.raw[:pad])
		copy(f.raw[pad:], value)
		// Keep the sign in the first column.
		if value[0] == '+' || value[0] == '-' {
			f.raw[0] = value[0]
			f.raw[pad] = '0'
		}
	default:
		return fmt.Errorf("field %s: %d bytes into %d: %w", f.name, len(value), len(f.raw), ErrShortBinary)
	}
	return nil
}

// SetString stores a text value after checking its characters against the
// field type.
func (f *Field) SetString(s string) error {
	if f.typ == Binary {
		return fmt.Errorf("field %s: %w", f.name, ErrBinaryString)
	}
	var ok bool
	if f.typ == TextNumeric {
		ok = IsBCSN(s)
	} else {
		ok = IsBCSA(s)
	}
	if !ok {
		return fmt.Errorf("field %s: %q: %w", f.name, s, ErrInvalidText)
	}
	return f.SetRaw([]byte(s))
}

// SetInt64 stores v as decimal text, or big-endian for binary fields of
// width 1, 2, 4 or 8.
func (f *Field) SetInt64(v int64) error {
	if f.typ == Binary {
		if !fitsSigned(v, len(f.raw)) {
			return fmt.Errorf("field %s: %d: %w", f.name, v, ErrOutOfRange)
		}
		return f.putBinary(uint64(v))
	}
	return f.SetRaw([]byte(strconv.FormatInt(v, 10)))
}

// SetUint64 is SetInt64 for unsigned values.
func (f *Field) SetUint64(v uint64) error {
	if f.typ == Binary {
		if len(f.raw) < 8 && v >= 1<<(8*uint(len(f.raw))) {
			return fmt.Errorf("field %s: %d: %w", f.name, v, ErrOutOfRange)
		}
		return f.putBinary(v)
	}
	return f.SetRaw([]byte(strconv.FormatUint(v, 10)))
}

// SetReal stores v as text using format 'f', 'e' or 'E', keeping as many
// decimal places as fit. plus forces a leading sign. Binary fields of width 4
// and 8 take IEEE 754 bits.
func (f *Field) SetReal(v float64, format byte, plus bool) error {
	if format != 'f' && format != 'e' && format != 'E' {
		return fmt.Errorf("field %s: invalid real format %q", f.name, format)
	}
	if f.typ == Binary {
		switch len(f.raw) {
		case 4:
			return f.putBinary(uint64(math.Float32bits(float32(v))))
		case 8:
			return f.putBinary(math.Float64bits(v))
		}
		return fmt.Errorf("field %s: real of width %d: %w", f.name, len(f.raw), ErrBinaryWidth)
	}

	render := func(prec int) string {
		s := strconv.FormatFloat(v, format, prec, 64)
		if plus && v >= 0 {
			s = "+" + s
		}
		return s
	}
	prec := len(f.raw)
	s := render(prec)
	if !f.resizable && len(s) > len(f.raw) {
		over := len(s) - len(f.raw)
		if prec > over {
			prec -= over
		} else {
			prec = 0
		}
		s = render(prec)
	}
	return f.SetRaw([]byte(s))
}

func (f *Field) putBinary(v uint64) error {
	switch len(f.raw) {
	case 1:
		f.raw[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(f.raw, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(f.raw, uint32(v))
	case 8:
		binary.BigEndian.PutUint64(f.raw, v)
	default:
		return fmt.Errorf("field %s: width %d: %w", f.name, len(f.raw), ErrBinaryWidth)
	}
	return nil
}

func fitsSigned(v int64, width int) bool {
	if width >= 8 {
		return true
	}
	bits := 8 * uint(width)
	lo := -(int64(1) << (bits - 1))
	hi := int64(1)<<bits - 1
	return v >= lo && v <= hi
}

// Uint64 returns the unsigned value of the field.
func (f *Field) Uint64() (uint64, error) {
	if f.typ == Binary {
		switch len(f.raw) {
		case 1:
			return uint64(f.raw[0]), nil
		case 2:
			return uint64(binary.BigEndian.Uint16(f.raw)), nil
		case 4:
			return uint64(binary.BigEndian.Uint32(f.raw)), nil
		case 8:
			return binary.BigEndian.Uint64(f.raw), nil
		}
		return 0, fmt.Errorf("field %s: width %d: %w", f.name, len(f.raw), ErrBinaryWidth)
	}
	s := strings.TrimPrefix(strings.TrimSpace(string(f.raw)), "+")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %q: %w", f.name, f.raw, ErrNotNumeric)
	}
	return v, nil
}

// Int64 returns the signed value of the field. All-blank text reads as zero.
func (f *Field) Int64() (int64, error) {
	if f.typ == Binary {
		u, err := f.Uint64()
		if err != nil {
			return 0, err
		}
		switch len(f.raw) {
		case 1:
			return int64(int8(u)), nil
		case 2:
			return int64(int16(u)), nil
		case 4:
			return int64(int32(u)), nil
		}
		return int64(u), nil
	}
	s := strings.TrimSpace(string(f.raw))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %q: %w", f.name, f.raw, ErrNotNumeric)
	}
	return v, nil
}

// Float64 returns the real value of the field. Binary fields of width 4 and 8
// are read as IEEE 754.
func (f *Field) Float64() (float64, error) {
	if f.typ == Binary {
		switch len(f.raw) {
		case 4:
			return float64(math.Float32frombits(binary.BigEndian.Uint32(f.raw))), nil
		case 8:
			return math.Float64frombits(binary.BigEndian.Uint64(f.raw)), nil
		}
		return 0, fmt.Errorf("field %s: real of width %d: %w", f.name, len(f.raw), ErrBinaryWidth)
	}
	s := strings.TrimSpace(string(f.raw))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %q: %w", f.name, f.raw, ErrNotNumeric)
	}
	return v, nil
}

// Resize changes the length of the field regardless of what its description
// declares, keeping the leading bytes and padding any new ones.
//
// Encoding and sizing follow the stored length, so a resized field can
// produce bytes its description will not read back. Use SetRaw or the typed
// setters for normal updates.
func (f *Field) Resize(length int) error {
	if length < 1 {
		return fmt.Errorf("field %s: resize to %d: %w", f.name, length, ErrEmptyValue)
	}
	raw := make([]byte, length)
	n := copy(raw, f.raw)
	f.fill(raw[n:])
	f.raw = raw
	return nil
}

// IsBCSA reports whether s holds only printable basic characters.
func IsBCSA(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// IsBCSN reports whether s is numeric text: an optional sign followed by
// digits. Unknown values are written as all minus signs, and decimal or
// fraction separators are accepted.
func IsBCSN(s string) bool {
	if s != "" && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && c != '-' && c != '.' && c != '/' {
			return false
		}
	}
	return true
}
