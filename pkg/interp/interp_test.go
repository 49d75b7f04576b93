package interp

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinfer/tre-plugin/pkg/field"
	"github.com/twinfer/tre-plugin/pkg/schema"
)

func pad(s string, n int) string {
	return s + strings.Repeat(" ", n-len(s))
}

func bandsInterpreter() *Interpreter {
	tbl := schema.MustBuild("BANDS", []schema.Descriptor{
		schema.Field(field.TextNumeric, 5, "Band count", "COUNT"),
		schema.Loop("COUNT"),
		schema.Field(field.TextAny, 50, "Band id", "BANDID"),
		schema.EndLoop(),
		schema.End(),
	})
	return New("BANDS", tbl, nil)
}

func mustGet(t *testing.T, s *Store, name string) *field.Field {
	t.Helper()
	f, ok := s.Get(name)
	require.True(t, ok, "field %s not stored", name)
	return f
}

func TestDecodeBands(t *testing.T) {
	ctx := context.Background()
	p := bandsInterpreter()
	input := "00002" + pad("BAND_A", 50) + pad("BAND_B", 50)

	store, err := p.DecodeBytes(ctx, []byte(input))
	require.NoError(t, err)

	count, err := mustGet(t, store, "COUNT").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, "BAND_A", mustGet(t, store, "BANDID[0]").Trimmed())
	assert.Equal(t, "BAND_B", mustGet(t, store, "BANDID[1]").Trimmed())
	assert.Equal(t, []string{"COUNT", "BANDID[0]", "BANDID[1]"}, store.Names())

	size, err := p.Size(store)
	require.NoError(t, err)
	assert.Equal(t, 105, size)

	out, err := p.EncodeBytes(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, input, string(out))
}

func nestedInterpreter() *Interpreter {
	tbl := schema.MustBuild("NESTED", []schema.Descriptor{
		schema.Field(field.TextNumeric, 1, "", "N"),
		schema.Loop("N"),
		schema.Field(field.TextNumeric, 1, "", "M"),
		schema.Loop("M"),
		schema.Field(field.TextAny, 2, "", "V"),
		schema.EndLoop(),
		schema.EndLoop(),
		schema.End(),
	})
	return New("NESTED", tbl, nil)
}

func TestNestedLoops(t *testing.T) {
	ctx := context.Background()
	p := nestedInterpreter()
	input := "2" + "3" + "aabbcc" + "1" + "dd"

	store, err := p.DecodeBytes(ctx, []byte(input))
	require.NoError(t, err)

	want := []string{"N", "M[0]", "V[0][0]", "V[0][1]", "V[0][2]", "M[1]", "V[1][0]"}
	if diff := cmp.Diff(want, store.Names()); diff != "" {
		t.Errorf("field order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "cc", mustGet(t, store, "V[0][2]").String())
	assert.Equal(t, "dd", mustGet(t, store, "V[1][0]").String())

	out, err := p.EncodeBytes(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, input, string(out))
}

func TestNestedReshapeCardinality(t *testing.T) {
	p := nestedInterpreter()
	store, err := p.Reshape(NewStore())
	require.NoError(t, err)
	assert.Equal(t, []string{"N"}, store.Names())

	require.NoError(t, mustGet(t, store, "N").SetInt64(3))
	store, err = p.Reshape(store)
	require.NoError(t, err)
	for i := range 3 {
		require.NoError(t, mustGet(t, store, schema.IndexedName("M", []int{i})).SetInt64(2))
	}
	store, err = p.Reshape(store)
	require.NoError(t, err)

	// 1 + 3 outer counts + 3*2 values
	assert.Equal(t, 10, store.Len())
	want := []string{
		"N",
		"M[0]", "V[0][0]", "V[0][1]",
		"M[1]", "V[1][0]", "V[1][1]",
		"M[2]", "V[2][0]", "V[2][1]",
	}
	assert.Equal(t, want, store.Names())
}

func conditionalInterpreter() *Interpreter {
	tbl := schema.MustBuild("COND", []schema.Descriptor{
		schema.Field(field.TextAny, 1, "Type", "TYPE"),
		schema.If("TYPE", "eq X"),
		schema.Field(field.TextAny, 3, "Extra", "EXTRA"),
		schema.EndIf(),
		schema.Field(field.TextAny, 2, "Tail", "TAIL"),
		schema.End(),
	})
	return New("COND", tbl, nil)
}

func TestConditionalGating(t *testing.T) {
	ctx := context.Background()
	p := conditionalInterpreter()

	tests := []struct {
		name  string
		input string
		names []string
	}{
		{"false", "Yzz", []string{"TYPE", "TAIL"}},
		{"true", "Xabczz", []string{"TYPE", "EXTRA", "TAIL"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := p.DecodeBytes(ctx, []byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.names, store.Names())

			size, err := p.Size(store)
			require.NoError(t, err)
			assert.Equal(t, len(tt.input), size)

			out, err := p.EncodeBytes(ctx, store)
			require.NoError(t, err)
			assert.Equal(t, tt.input, string(out))
		})
	}

	t.Run("flip and reshape", func(t *testing.T) {
		store, err := p.DecodeBytes(ctx, []byte("Yzz"))
		require.NoError(t, err)
		require.NoError(t, mustGet(t, store, "TYPE").SetString("X"))

		store, err = p.Reshape(store)
		require.NoError(t, err)
		assert.Equal(t, []string{"TYPE", "EXTRA", "TAIL"}, store.Names())
		assert.Equal(t, "   ", mustGet(t, store, "EXTRA").String())
		assert.Equal(t, "zz", mustGet(t, store, "TAIL").String())

		require.NoError(t, mustGet(t, store, "TYPE").SetString("Y"))
		store, err = p.Reshape(store)
		require.NoError(t, err)
		assert.False(t, store.Has("EXTRA"))
	})
}

func TestBitmaskCondition(t *testing.T) {
	ctx := context.Background()
	tbl := schema.MustBuild("MASKED", []schema.Descriptor{
		schema.Field(field.Binary, 4, "Existence mask", "MASK"),
		schema.If("MASK", "& 0x80000000"),
		schema.Field(field.TextAny, 2, "", "HIGH"),
		schema.EndIf(),
		schema.If("MASK", "& 0x00000001"),
		schema.Field(field.TextAny, 2, "", "LOW"),
		schema.EndIf(),
		schema.End(),
	})
	p := New("MASKED", tbl, nil)

	store, err := p.DecodeBytes(ctx, []byte("\x80\x00\x00\x00hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"MASK", "HIGH"}, store.Names())

	store, err = p.DecodeBytes(ctx, []byte("\x80\x00\x00\x01hilo"))
	require.NoError(t, err)
	assert.Equal(t, []string{"MASK", "HIGH", "LOW"}, store.Names())
}

func TestReshapeLoopCardinality(t *testing.T) {
	ctx := context.Background()
	p := bandsInterpreter()
	store, err := p.DecodeBytes(ctx, []byte("00002"+pad("BAND_A", 50)+pad("BAND_B", 50)))
	require.NoError(t, err)

	require.NoError(t, mustGet(t, store, "COUNT").SetInt64(3))
	grown, err := p.Reshape(store)
	require.NoError(t, err)
	assert.Equal(t, []string{"COUNT", "BANDID[0]", "BANDID[1]", "BANDID[2]"}, grown.Names())
	assert.Equal(t, "BAND_B", mustGet(t, grown, "BANDID[1]").Trimmed())
	assert.Equal(t, strings.Repeat(" ", 50), mustGet(t, grown, "BANDID[2]").String())

	size, err := p.Size(grown)
	require.NoError(t, err)
	assert.Equal(t, 155, size)

	require.NoError(t, mustGet(t, grown, "COUNT").SetInt64(1))
	shrunk, err := p.Reshape(grown)
	require.NoError(t, err)
	assert.Equal(t, []string{"COUNT", "BANDID[0]"}, shrunk.Names())
	assert.Equal(t, "BAND_A", mustGet(t, shrunk, "BANDID[0]").Trimmed())

	// The input store is not modified.
	assert.Equal(t, 4, grown.Len())
}

var errTooMany = errors.New("too many values")

// funcInterpreter repeats V one time less than N says, refusing N == 99.
func funcInterpreter() *Interpreter {
	tbl := schema.MustBuild("FUNC", []schema.Descriptor{
		schema.Field(field.TextNumeric, 2, "Count plus one", "N"),
		schema.LoopFunc(func(lookup schema.Lookup) (int, error) {
			f, err := lookup("N")
			if err != nil {
				return 0, err
			}
			n, err := f.Int64()
			if err != nil {
				return 0, err
			}
			if n == 99 {
				return 0, errTooMany
			}
			return int(n) - 1, nil
		}),
		schema.Field(field.TextAny, 2, "Value", "V"),
		schema.EndLoop(),
		schema.End(),
	})
	return New("FUNC", tbl, nil)
}

func TestLoopFunction(t *testing.T) {
	ctx := context.Background()
	p := funcInterpreter()

	t.Run("decode and reshape", func(t *testing.T) {
		store, err := p.DecodeBytes(ctx, []byte("03aabb"))
		require.NoError(t, err)
		assert.Equal(t, []string{"N", "V[0]", "V[1]"}, store.Names())

		require.NoError(t, mustGet(t, store, "N").SetInt64(4))
		grown, err := p.Reshape(store)
		require.NoError(t, err)
		assert.Equal(t, []string{"N", "V[0]", "V[1]", "V[2]"}, grown.Names())
		assert.Equal(t, "bb", mustGet(t, grown, "V[1]").String())

		out, err := p.EncodeBytes(ctx, grown)
		require.NoError(t, err)
		assert.Equal(t, "04aabb  ", string(out))
	})

	t.Run("negative count clamps to zero", func(t *testing.T) {
		store, err := p.DecodeBytes(ctx, []byte("00"))
		require.NoError(t, err)
		assert.Equal(t, []string{"N"}, store.Names())

		_, err = p.DecodeBytes(ctx, []byte("00aa"))
		assert.ErrorIs(t, err, ErrTrailingData)
	})

	t.Run("function error", func(t *testing.T) {
		store, err := p.DecodeBytes(ctx, []byte("99aa"))
		require.ErrorIs(t, err, errTooMany)
		var de *DecodeError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, int64(2), de.Offset)
		assert.Equal(t, []string{"N"}, store.Names())

		_, err = p.Reshape(store)
		assert.ErrorIs(t, err, errTooMany)
	})
}

func TestReshapeDefaults(t *testing.T) {
	tbl := schema.MustBuild("DEFAULTS", []schema.Descriptor{
		schema.Field(field.TextNumeric, 4, "", "NUM"),
		schema.Field(field.TextAny, 3, "", "TXT"),
		schema.Field(field.Binary, 2, "", "BIN"),
		schema.Remaining(field.TextAny, "", "REST"),
		schema.End(),
	})
	p := New("DEFAULTS", tbl, nil)

	store, err := p.Reshape(NewStore())
	require.NoError(t, err)
	assert.Equal(t, "0000", mustGet(t, store, "NUM").String())
	assert.Equal(t, "   ", mustGet(t, store, "TXT").String())
	assert.Equal(t, []byte{0, 0}, mustGet(t, store, "BIN").Raw())

	rest := mustGet(t, store, "REST")
	assert.Equal(t, 1, rest.Len())
	assert.True(t, rest.Resizable())
	require.NoError(t, rest.SetString("free text"))

	size, err := p.Size(store)
	require.NoError(t, err)
	assert.Equal(t, 4+3+2+9, size)
}

func TestRemaining(t *testing.T) {
	ctx := context.Background()
	tbl := schema.MustBuild("GOBBLE", []schema.Descriptor{
		schema.Field(field.TextAny, 2, "", "HDR"),
		schema.Remaining(field.TextAny, "", "DATA"),
		schema.End(),
	})
	p := New("GOBBLE", tbl, nil)

	store, err := p.DecodeBytes(ctx, []byte("HIhello"))
	require.NoError(t, err)
	data := mustGet(t, store, "DATA")
	assert.Equal(t, "hello", data.String())
	assert.True(t, data.Resizable())

	store, err = p.DecodeBytes(ctx, []byte("HI"))
	require.NoError(t, err)
	assert.Equal(t, []string{"HDR"}, store.Names())

	out, err := p.EncodeBytes(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "HI", string(out))
}

func engrdaInterpreter() *Interpreter {
	tbl := schema.MustBuild("ENGRDA", []schema.Descriptor{
		schema.Field(field.TextNumeric, 1, "Data size", "ENGDTS"),
		schema.Field(field.TextNumeric, 3, "Data count", "ENGDATC"),
		schema.Computed(field.TextAny, "ENGDATC ENGDTS *", "Data", "ENGDATA"),
		schema.Field(field.TextAny, 1, "", "END"),
		schema.End(),
	})
	return New("ENGRDA", tbl, nil)
}

func TestComputedLength(t *testing.T) {
	ctx := context.Background()
	p := engrdaInterpreter()

	store, err := p.DecodeBytes(ctx, []byte("2003abcdef."))
	require.NoError(t, err)
	assert.Equal(t, "abcdef", mustGet(t, store, "ENGDATA").String())

	store, err = p.DecodeBytes(ctx, []byte("2000."))
	require.NoError(t, err)
	assert.Equal(t, []string{"ENGDTS", "ENGDATC", "END"}, store.Names())

	t.Run("reshape follows computed length", func(t *testing.T) {
		require.NoError(t, mustGet(t, store, "ENGDTS").SetInt64(3))
		require.NoError(t, mustGet(t, store, "ENGDATC").SetInt64(1))
		store, err := p.Reshape(store)
		require.NoError(t, err)
		data := mustGet(t, store, "ENGDATA")
		assert.Equal(t, 3, data.Len())
		require.NoError(t, data.SetString("ABC"))

		out, err := p.EncodeBytes(ctx, store)
		require.NoError(t, err)
		assert.Equal(t, "3001ABC.", string(out))

		require.NoError(t, mustGet(t, store, "ENGDATC").SetInt64(2))
		store, err = p.Reshape(store)
		require.NoError(t, err)
		assert.Equal(t, "ABC   ", mustGet(t, store, "ENGDATA").String())
	})
}

func TestDecodeErrors(t *testing.T) {
	ctx := context.Background()
	p := bandsInterpreter()

	t.Run("short input", func(t *testing.T) {
		store, err := p.DecodeBytes(ctx, []byte("00002"+pad("BAND_A", 50)+"BAND_B"))
		require.Error(t, err)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

		var de *DecodeError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "BANDS", de.Tag)
		assert.Equal(t, "BANDID[1]", de.Field)
		assert.Equal(t, int64(55), de.Offset)

		// Fields before the failure are kept.
		assert.Equal(t, []string{"COUNT", "BANDID[0]"}, store.Names())
	})

	t.Run("trailing data", func(t *testing.T) {
		_, err := p.DecodeBytes(ctx, []byte("00001"+pad("BAND_A", 50)+"extra"))
		assert.ErrorIs(t, err, ErrTrailingData)
		var de *DecodeError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, int64(55), de.Offset)
	})

	t.Run("non numeric count", func(t *testing.T) {
		_, err := p.DecodeBytes(ctx, []byte("0000X"))
		assert.ErrorIs(t, err, field.ErrNotNumeric)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.DecodeBytes(cctx, []byte("00000"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestEncodeMissingField(t *testing.T) {
	p := bandsInterpreter()
	store := NewStore()
	count := field.New("COUNT", field.TextNumeric, 5)
	require.NoError(t, count.SetInt64(1))
	store.Put(count)

	_, err := p.EncodeBytes(context.Background(), store)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingField)

	var ee *EncodeError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "BANDID[0]", ee.Field)

	_, err = p.Size(store)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestSizeMatchesConsumed(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		p     *Interpreter
		input string
	}{
		{"bands", bandsInterpreter(), "00001" + pad("X", 50)},
		{"empty loop", bandsInterpreter(), "00000"},
		{"nested", nestedInterpreter(), "21ab2cdef"},
		{"conditional", conditionalInterpreter(), "Xabczz"},
		{"computed", engrdaInterpreter(), "1004wxyz!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := tt.p.DecodeBytes(ctx, []byte(tt.input))
			require.NoError(t, err)
			size, err := tt.p.Size(store)
			require.NoError(t, err)
			assert.Equal(t, len(tt.input), size)

			out, err := tt.p.EncodeBytes(ctx, store)
			require.NoError(t, err)
			assert.Equal(t, tt.input, string(out))
		})
	}
}

func TestStore(t *testing.T) {
	s := NewStore()
	s.Put(field.New("A", field.TextAny, 1))
	s.Put(field.New("B", field.TextAny, 1))
	replacement := field.New("A", field.TextAny, 2)
	s.Put(replacement)

	assert.Equal(t, []string{"A", "B"}, s.Names())
	got, ok := s.Get("A")
	require.True(t, ok)
	assert.Same(t, replacement, got)

	c := s.Clone()
	require.NoError(t, got.SetString("zz"))
	cf, _ := c.Get("A")
	assert.Equal(t, "  ", cf.String())

	// All can be ranged over twice.
	var n int
	for range s.All() {
		n++
	}
	for range s.All() {
		n++
	}
	assert.Equal(t, 4, n)

	assert.True(t, s.Delete("B"))
	assert.False(t, s.Has("B"))
	assert.Equal(t, 1, s.Len())
}
