package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBlank(t *testing.T) {
	tests := []struct {
		typ  ValueType
		want []byte
	}{
		{TextAny, []byte("    ")},
		{TextNumeric, []byte("0000")},
		{Binary, []byte{0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			f := New("X", tt.typ, 4)
			assert.Equal(t, tt.want, f.Raw())
			assert.Equal(t, 4, f.Len())
			assert.False(t, f.Resizable())
		})
	}
}

func TestSetRawPadding(t *testing.T) {
	tests := []struct {
		name  string
		typ   ValueType
		value string
		want  string
	}{
		{"text pads right", TextAny, "AB", "AB   "},
		{"numeric pads left", TextNumeric, "42", "00042"},
		{"numeric keeps minus first", TextNumeric, "-12", "-0012"},
		{"numeric keeps plus first", TextNumeric, "+7", "+0007"},
		{"exact length", TextAny, "HELLO", "HELLO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New("X", tt.typ, 5)
			require.NoError(t, f.SetRaw([]byte(tt.value)))
			assert.Equal(t, tt.want, f.String())
		})
	}
}

func TestSetRawErrors(t *testing.T) {
	t.Run("too long", func(t *testing.T) {
		f := New("X", TextAny, 3)
		err := f.SetRaw([]byte("ABCD"))
		require.ErrorIs(t, err, ErrValueTooLong)
		assert.Equal(t, "   ", f.String(), "value must be unchanged")
	})
	t.Run("empty", func(t *testing.T) {
		f := New("X", TextAny, 3)
		require.ErrorIs(t, f.SetRaw(nil), ErrEmptyValue)
	})
	t.Run("short binary", func(t *testing.T) {
		f := New("X", Binary, 4)
		require.ErrorIs(t, f.SetRaw([]byte{1, 2}), ErrShortBinary)
	})
	t.Run("resizable takes new length", func(t *testing.T) {
		f := NewResizable("X", Binary, 1)
		require.NoError(t, f.SetRaw([]byte{1, 2, 3, 4, 5, 6}))
		assert.Equal(t, 6, f.Len())
	})
}

func TestSetString(t *testing.T) {
	t.Run("binary rejected", func(t *testing.T) {
		require.ErrorIs(t, New("X", Binary, 2).SetString("AB"), ErrBinaryString)
	})
	t.Run("non numeric rejected", func(t *testing.T) {
		f := New("X", TextNumeric, 4)
		require.ErrorIs(t, f.SetString("12a"), ErrInvalidText)
		assert.Equal(t, "0000", f.String())
	})
	t.Run("unknown numeric as dashes", func(t *testing.T) {
		f := New("X", TextNumeric, 4)
		require.NoError(t, f.SetString("----"))
		assert.Equal(t, "----", f.String())
	})
	t.Run("short dashes fill the width", func(t *testing.T) {
		f := New("X", TextNumeric, 5)
		require.NoError(t, f.SetString("-"))
		assert.Equal(t, "-----", f.String())
		_, err := f.Int64()
		require.ErrorIs(t, err, ErrNotNumeric)
	})
	t.Run("control character rejected", func(t *testing.T) {
		require.ErrorIs(t, New("X", TextAny, 4).SetString("a\tb"), ErrInvalidText)
	})
}

func TestIntegers(t *testing.T) {
	t.Run("text round trip", func(t *testing.T) {
		f := New("X", TextNumeric, 6)
		require.NoError(t, f.SetInt64(-305))
		assert.Equal(t, "-00305", f.String())
		v, err := f.Int64()
		require.NoError(t, err)
		assert.Equal(t, int64(-305), v)
	})
	t.Run("text too wide", func(t *testing.T) {
		require.ErrorIs(t, New("X", TextNumeric, 2).SetUint64(123), ErrValueTooLong)
	})
	t.Run("binary widths", func(t *testing.T) {
		for _, width := range []int{1, 2, 4, 8} {
			f := New("X", Binary, width)
			require.NoError(t, f.SetUint64(0x7f))
			u, err := f.Uint64()
			require.NoError(t, err)
			assert.Equal(t, uint64(0x7f), u)
			assert.Equal(t, byte(0x7f), f.Raw()[width-1], "big-endian")
		}
	})
	t.Run("binary signed", func(t *testing.T) {
		f := New("X", Binary, 2)
		require.NoError(t, f.SetInt64(-2))
		assert.Equal(t, []byte{0xff, 0xfe}, f.Raw())
		v, err := f.Int64()
		require.NoError(t, err)
		assert.Equal(t, int64(-2), v)
	})
	t.Run("binary out of range", func(t *testing.T) {
		require.ErrorIs(t, New("X", Binary, 1).SetUint64(256), ErrOutOfRange)
	})
	t.Run("binary odd width", func(t *testing.T) {
		_, err := New("X", Binary, 3).Uint64()
		require.ErrorIs(t, err, ErrBinaryWidth)
	})
	t.Run("not numeric", func(t *testing.T) {
		f := FromRaw("X", TextAny, []byte("AB"))
		_, err := f.Int64()
		require.ErrorIs(t, err, ErrNotNumeric)
	})
	t.Run("blank reads zero", func(t *testing.T) {
		v, err := New("X", TextAny, 3).Int64()
		require.NoError(t, err)
		assert.Zero(t, v)
	})
}

func TestSetReal(t *testing.T) {
	tests := []struct {
		name   string
		length int
		value  float64
		format byte
		plus   bool
		want   string
	}{
		{"fits decimals", 7, 3.14159, 'f', false, "3.14159"},
		{"shrinks precision", 5, 3.14159, 'f', false, "3.142"},
		{"plus sign", 6, 2.5, 'f', true, "+2.500"},
		{"exponent", 9, 1234.5, 'E', false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New("X", TextNumeric, tt.length)
			require.NoError(t, f.SetReal(tt.value, tt.format, tt.plus))
			assert.Len(t, f.String(), tt.length)
			if tt.format == 'f' {
				assert.Equal(t, tt.want, f.String())
			}
		})
	}

	t.Run("binary float32", func(t *testing.T) {
		f := New("X", Binary, 4)
		require.NoError(t, f.SetReal(1.5, 'f', false))
		v, err := f.Float64()
		require.NoError(t, err)
		assert.InDelta(t, 1.5, v, 1e-9)
	})
	t.Run("bad format", func(t *testing.T) {
		require.Error(t, New("X", TextNumeric, 4).SetReal(1, 'g', false))
	})
}

func TestResize(t *testing.T) {
	f := New("X", TextAny, 3)
	require.NoError(t, f.SetString("ABC"))
	require.NoError(t, f.Resize(5))
	assert.Equal(t, "ABC  ", f.String())
	require.NoError(t, f.Resize(2))
	assert.Equal(t, "AB", f.String())
	require.ErrorIs(t, f.Resize(0), ErrEmptyValue)
}

func TestTrimmedAndClone(t *testing.T) {
	f := New("NAME", TextAny, 8)
	require.NoError(t, f.SetString("BAND_A"))
	assert.Equal(t, "BAND_A", f.Trimmed())

	c := f.Clone()
	require.NoError(t, c.SetString("OTHER"))
	assert.Equal(t, "BAND_A", f.Trimmed(), "clone must not share bytes")
}

func TestText(t *testing.T) {
	f := New("X", TextAny, 6)
	require.NoError(t, f.SetText("café"))
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9, ' ', ' '}, f.Raw())
	s, err := f.Text()
	require.NoError(t, err)
	assert.Equal(t, "café", s)

	require.ErrorIs(t, f.SetText("日本"), ErrInvalidText)
}

func TestParseValueType(t *testing.T) {
	for in, want := range map[string]ValueType{"A": TextAny, "bcs_n": TextNumeric, "BINARY": Binary} {
		got, err := ParseValueType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseValueType("Q")
	require.Error(t, err)
}
