package tre

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinfer/tre-plugin/pkg/field"
	"github.com/twinfer/tre-plugin/pkg/schema"
)

func pad(s string, n int) string {
	return s + strings.Repeat(" ", n-len(s))
}

func bandsTable() *schema.Table {
	return schema.MustBuild("BANDS", []schema.Descriptor{
		schema.Field(field.TextNumeric, 5, "Band count", "COUNT"),
		schema.Loop("COUNT"),
		schema.Field(field.TextAny, 50, "Band id", "BANDID"),
		schema.EndLoop(),
		schema.End(),
	})
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register("BANDS", bandsTable()))

	short := schema.MustBuild("MULTI_SHORT", []schema.Descriptor{
		schema.Field(field.TextAny, 4, "", "CODE"),
		schema.End(),
	})
	long := schema.MustBuild("MULTI_LONG", []schema.Descriptor{
		schema.Field(field.TextAny, 4, "", "CODE"),
		schema.Field(field.TextNumeric, 2, "", "EXTRA"),
		schema.End(),
	})
	require.NoError(t, r.Register("MULTI", short, long))
	r.Freeze()
	return r
}

func TestConstruct(t *testing.T) {
	r := testRegistry(t)

	e, err := r.Construct("BANDS", "")
	require.NoError(t, err)
	assert.Equal(t, "BANDS", e.Tag())
	assert.Equal(t, "BANDS", e.ID())
	assert.Equal(t, Empty, e.State())

	e, err = r.Construct("MULTI", "MULTI_LONG")
	require.NoError(t, err)
	assert.Equal(t, "MULTI_LONG", e.ID())

	_, err = r.Construct("NOPE", "")
	assert.ErrorIs(t, err, ErrUnknownTag)
	_, err = r.Construct("MULTI", "MULTI_OTHER")
	assert.ErrorIs(t, err, ErrUnknownID)

	assert.Equal(t, []string{"BANDS", "MULTI"}, r.Tags())
	assert.Equal(t, []string{"MULTI_SHORT", "MULTI_LONG"}, r.IDs("MULTI"))
}

func TestRegistryFrozen(t *testing.T) {
	r := testRegistry(t)
	assert.True(t, r.Frozen())
	err := r.Register("LATE", bandsTable())
	assert.ErrorIs(t, err, ErrRegistryFrozen)
	assert.False(t, r.Has("LATE"))

	r2 := NewRegistry()
	require.NoError(t, r2.Register("BANDS", bandsTable()))
	assert.ErrorIs(t, r2.Register("BANDS", bandsTable()), ErrDuplicateTag)
	assert.ErrorIs(t, r2.Register("TWICE", bandsTable(), bandsTable()), ErrDuplicateTag)
	assert.Error(t, r2.Register("TOOLONGTAG", bandsTable()))
}

func TestDecodeEncode(t *testing.T) {
	ctx := context.Background()
	r := testRegistry(t)
	input := []byte("00002" + pad("BAND_A", 50) + pad("BAND_B", 50))

	e, err := r.Decode(ctx, "BANDS", "", input)
	require.NoError(t, err)
	assert.Equal(t, Serializable, e.State())
	assert.True(t, e.IsSane())

	f, err := e.Field("BANDID[1]")
	require.NoError(t, err)
	assert.Equal(t, "BAND_B", f.Trimmed())

	size, err := e.Size()
	require.NoError(t, err)
	assert.Equal(t, 105, size)

	out, err := e.Encode(ctx)
	require.NoError(t, err)
	assert.Equal(t, input, out)
}

func TestVariantFallback(t *testing.T) {
	ctx := context.Background()
	r := testRegistry(t)

	e, err := r.Decode(ctx, "MULTI", "", []byte("ABCD"))
	require.NoError(t, err)
	assert.Equal(t, "MULTI_SHORT", e.ID())

	e, err = r.Decode(ctx, "MULTI", "", []byte("ABCD42"))
	require.NoError(t, err)
	assert.Equal(t, "MULTI_LONG", e.ID())
	assert.Equal(t, []string{"CODE", "EXTRA"}, e.Names())

	e, err = r.Decode(ctx, "MULTI", "", []byte("ABCD4"))
	require.Error(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "MULTI_SHORT", e.ID())

	_, err = r.Decode(ctx, "MULTI", "MULTI_SHORT", []byte("ABCD42"))
	assert.Error(t, err)
}

func TestRawExtension(t *testing.T) {
	ctx := context.Background()
	r := testRegistry(t)
	data := []byte{0x00, 0xff, 'x', 0x10}

	e, err := r.DecodeRaw(ctx, "UNKNWN", data)
	require.NoError(t, err)
	assert.True(t, e.IsRaw())
	assert.Equal(t, []string{RawFieldName}, e.Names())

	out, err := e.Encode(ctx)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	require.NoError(t, e.SetField(RawFieldName, []byte("replaced")))
	size, err := e.Size()
	require.NoError(t, err)
	assert.Equal(t, 8, size)
}

func TestSetFieldRejectsUnknownNames(t *testing.T) {
	ctx := context.Background()
	r := testRegistry(t)
	input := []byte("00001" + pad("BAND_A", 50))
	e, err := r.Decode(ctx, "BANDS", "", input)
	require.NoError(t, err)

	for _, name := range []string{"NOPE", "BANDID", "COUNT[0]", "BANDID[0][0]"} {
		err := e.SetField(name, "X")
		assert.ErrorIs(t, err, ErrFieldNotFound, name)
	}

	err = e.SetField("COUNT", "TOO LONG VALUE")
	assert.Error(t, err)

	out, err := e.Encode(ctx)
	require.NoError(t, err)
	assert.Equal(t, input, out)
	assert.Equal(t, []string{"COUNT", "BANDID[0]"}, e.Names())
}

func TestBuildFromScratch(t *testing.T) {
	ctx := context.Background()
	r := testRegistry(t)
	e, err := r.Construct("BANDS", "")
	require.NoError(t, err)

	require.NoError(t, e.SetField("COUNT", 2))
	assert.Equal(t, Populated, e.State())
	require.NoError(t, e.UpdateFields())
	assert.Equal(t, []string{"COUNT", "BANDID[0]", "BANDID[1]"}, e.Names())
	require.NoError(t, e.SetField("BANDID[0]", "FIRST"))
	require.NoError(t, e.SetField("BANDID[1]", "SECOND"))
	assert.Equal(t, Serializable, e.State())

	out, err := e.Encode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "00002"+pad("FIRST", 50)+pad("SECOND", 50), string(out))

	_, err = e.Field("BANDID[2]")
	assert.ErrorIs(t, err, ErrFieldNotFound)
}

func TestSetFieldValues(t *testing.T) {
	tbl := schema.MustBuild("VALUES", []schema.Descriptor{
		schema.Field(field.TextNumeric, 6, "", "NUM"),
		schema.Field(field.Binary, 2, "", "BIN"),
		schema.Field(field.TextAny, 8, "", "TXT"),
		schema.End(),
	})
	r := NewRegistry()
	require.NoError(t, r.Register("VALUES", tbl))
	e, err := r.Construct("VALUES", "")
	require.NoError(t, err)

	require.NoError(t, e.SetField("NUM", int32(-42)))
	f, _ := e.Field("NUM")
	assert.Equal(t, "-00042", f.String())

	require.NoError(t, e.SetField("NUM", 1.5))
	f, _ = e.Field("NUM")
	assert.Equal(t, "1.5000", f.String())

	require.NoError(t, e.SetField("BIN", uint16(0x0102)))
	f, _ = e.Field("BIN")
	assert.Equal(t, []byte{1, 2}, f.Raw())

	require.NoError(t, e.SetField("TXT", "abc"))
	f, _ = e.Field("TXT")
	assert.Equal(t, "abc     ", f.String())

	assert.ErrorIs(t, e.SetField("TXT", struct{}{}), ErrUnsupportedValue)
}

func TestCloneAndFind(t *testing.T) {
	ctx := context.Background()
	r := testRegistry(t)
	e, err := r.Decode(ctx, "BANDS", "", []byte("00002"+pad("BAND_A", 50)+pad("BAND_B", 50)))
	require.NoError(t, err)

	c := e.Clone()
	require.NoError(t, c.SetField("BANDID[0]", "CHANGED"))
	orig, _ := e.Field("BANDID[0]")
	assert.Equal(t, "BAND_A", orig.Trimmed())
	assert.Same(t, e.Table(), c.Table())

	found, err := e.Find(`^BANDID\[\d+\]$`)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = e.Find("COUNT")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = e.Find("[")
	assert.Error(t, err)

	assert.Len(t, e.FindPrefix("BAND"), 2)
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"tres/aaa.yaml": {Data: []byte(`
tag: AAA
description:
  - {field: N, type: N, length: 1}
  - {loop: N}
  - {field: V, type: A, length: 2}
  - endloop
  - end
`)},
		"tres/notes.txt": {Data: []byte("ignored")},
	}
	r := NewRegistry()
	require.NoError(t, r.LoadFS(fsys, "tres"))
	r.Freeze()

	e, err := r.Decode(context.Background(), "AAA", "", []byte("2abcd"))
	require.NoError(t, err)
	assert.Equal(t, []string{"N", "V[0]", "V[1]"}, e.Names())

	bad := fstest.MapFS{"x.yaml": {Data: []byte("tag: BAD\ndescription:\n  - {loop: N}\n  - endloop\n")}}
	err = NewRegistry().LoadFS(bad, ".")
	assert.ErrorIs(t, err, schema.ErrUnknownRef)
}
