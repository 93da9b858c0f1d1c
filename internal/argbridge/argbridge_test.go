package argbridge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxdag/fluxdag/internal/ipld"
)

func roundTrip(t *testing.T, v ipld.Value, typ Type) ipld.Value {
	t.Helper()
	tags := NewTags()
	a, err := ToWasm(v, typ, tags)
	require.NoError(t, err)
	back, err := FromWasm(a, typ, tags)
	require.NoError(t, err)
	return back
}

func TestBoolRoundTrip(t *testing.T) {
	got := roundTrip(t, ipld.Bool(true), Bool())
	require.True(t, got.Equal(ipld.Bool(true)))
}

func TestIntegerRoundTripAndOverflow(t *testing.T) {
	got := roundTrip(t, ipld.Int(42), S16())
	require.True(t, got.Equal(ipld.Int(42)))

	_, err := ToWasm(ipld.Int(1000), S8(), NewTags())
	require.ErrorIs(t, err, ErrIntegerOverflow)

	_, err = ToWasm(ipld.Int(-1), U8(), NewTags())
	require.ErrorIs(t, err, ErrIntegerOverflow)

	// Unconstrained defaults to s64.
	a, err := ToWasm(ipld.Int(7), Unconstrained(), NewTags())
	require.NoError(t, err)
	require.Equal(t, KindS64, a.Kind)
}

func TestFloatRoundTrip(t *testing.T) {
	got := roundTrip(t, ipld.Float(3.5), F64())
	require.True(t, got.Equal(ipld.Float(3.5)))

	a, err := ToWasm(ipld.Float(1.5), F32(), NewTags())
	require.NoError(t, err)
	require.Equal(t, KindF32, a.Kind)
	require.Equal(t, float32(1.5), a.F32)
}

func TestStringRoundTrip(t *testing.T) {
	got := roundTrip(t, ipld.String("hello"), Str())
	require.True(t, got.Equal(ipld.String("hello")))
}

func TestBytesAsListU8RoundTrip(t *testing.T) {
	got := roundTrip(t, ipld.Bytes([]byte{1, 2, 3}), List(U8()))
	require.True(t, got.Equal(ipld.Bytes([]byte{1, 2, 3})))
}

func TestBytesAsBase64StringUnderUnconstrained(t *testing.T) {
	tags := NewTags()
	a, err := ToWasm(ipld.Bytes([]byte{0xff, 0x00}), Unconstrained(), tags)
	require.NoError(t, err)
	require.Equal(t, KindString, a.Kind)
	back, err := FromWasm(a, Unconstrained(), tags)
	require.NoError(t, err)
	require.True(t, back.Equal(ipld.Bytes([]byte{0xff, 0x00})))
}

func TestLinkRoundTripViaUnconstrained(t *testing.T) {
	c, err := ipld.Sum([]byte("hello"), ipld.HashBlake2b256, ipld.CIDV1)
	require.NoError(t, err)
	tags := NewTags()
	a, err := ToWasm(ipld.Link(c), Str(), tags)
	require.NoError(t, err)
	back, err := FromWasm(a, Unconstrained(), tags)
	require.NoError(t, err)
	require.Equal(t, ipld.KindLink, back.Kind())
	require.True(t, back.AsLink().Equal(c))
}

func TestListRoundTrip(t *testing.T) {
	v := ipld.List(ipld.Int(1), ipld.Int(2), ipld.Int(3))
	got := roundTrip(t, v, List(S64()))
	require.True(t, got.Equal(v))
}

func TestMapAsListOfTuplesRoundTrip(t *testing.T) {
	v := ipld.Map(map[string]ipld.Value{"a": ipld.Int(1), "b": ipld.Int(2)})
	typ := List(Tuple(Str(), S64()))
	got := roundTrip(t, v, typ)
	require.True(t, got.Equal(v))
}

func TestRecordRoundTrip(t *testing.T) {
	v := ipld.Map(map[string]ipld.Value{"x": ipld.Int(1), "y": ipld.String("two")})
	typ := Record(
		RecordField{Name: "x", Type: S32()},
		RecordField{Name: "y", Type: Str()},
	)
	got := roundTrip(t, v, typ)
	require.True(t, got.Equal(v))
}

func TestTaggedUnionRoundTrip(t *testing.T) {
	v := ipld.Wrap("num", ipld.Int(9))
	typ := Union(S64(), Str())
	got := roundTrip(t, v, typ)
	require.True(t, got.Equal(v))
}

func TestUntaggedUnionFirstMatch(t *testing.T) {
	v := ipld.String("hi")
	typ := Union(S64(), Str())
	tags := NewTags()
	a, err := ToWasm(v, typ, tags)
	require.NoError(t, err)
	require.Equal(t, 1, a.Union.Index)
	back, err := FromWasm(a, typ, tags)
	require.NoError(t, err)
	require.True(t, back.Equal(v))
}

func TestNoDiscriminantMatched(t *testing.T) {
	v := ipld.Bool(true)
	typ := Union(S64(), Str())
	_, err := ToWasm(v, typ, NewTags())
	require.ErrorIs(t, err, ErrNoDiscriminantMatch)
}

func TestTagsEmptyOnBareUnionPop(t *testing.T) {
	tags := NewTags()
	_, err := tags.Pop()
	require.ErrorIs(t, err, ErrTagsEmpty)
}

func TestOptionRoundTrip(t *testing.T) {
	none := roundTrip(t, ipld.Null(), Option(S64()))
	require.True(t, none.Equal(ipld.Null()))

	some := roundTrip(t, ipld.Int(5), Option(S64()))
	require.True(t, some.Equal(ipld.Int(5)))
}

func TestNestedListOfRecords(t *testing.T) {
	rec := Record(RecordField{Name: "n", Type: S64()})
	v := ipld.List(
		ipld.Map(map[string]ipld.Value{"n": ipld.Int(1)}),
		ipld.Map(map[string]ipld.Value{"n": ipld.Int(2)}),
	)
	got := roundTrip(t, v, List(rec))
	require.True(t, got.Equal(v))
}
