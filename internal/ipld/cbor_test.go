package ipld

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleValues(t *testing.T) []Value {
	t.Helper()
	link, err := Sum([]byte("linked-entity"), HashSHA2_256, CIDV1)
	require.NoError(t, err)

	return []Value{
		Null(),
		Bool(true),
		Bool(false),
		Int(0),
		Int(23),
		Int(24),
		Int(-1),
		Int(-1000000),
		Int(1 << 40),
		Float(3.5),
		Float(0),
		String(""),
		String("hello ipvm"),
		Bytes([]byte{0x00, 0x01, 0xff}),
		Link(link),
		List(Int(1), String("a"), Bool(true)),
		Map(map[string]Value{
			"z": Int(1),
			"a": String("first"),
			"m": List(Int(1), Int(2)),
		}),
		Wrap("ipvm/workflow", Map(map[string]Value{"num_tasks": Int(3)})),
	}
}

func TestCBORRoundTrip(t *testing.T) {
	for _, v := range sampleValues(t) {
		encoded, err := EncodeCBOR(v)
		require.NoError(t, err)

		decoded, err := DecodeCBOR(encoded)
		require.NoError(t, err)
		require.True(t, v.Equal(decoded), "round-trip mismatch for %+v", v)
	}
}

func TestCBORCanonicalMapKeyOrder(t *testing.T) {
	v := Map(map[string]Value{"b": Int(2), "a": Int(1), "c": Int(3)})
	require.Equal(t, []string{"a", "b", "c"}, v.MapKeys())

	encoded, err := EncodeCBOR(v)
	require.NoError(t, err)
	decoded, err := DecodeCBOR(encoded)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, decoded.MapKeys())
}

func TestCBORRejectsNonFiniteFloat(t *testing.T) {
	_, err := EncodeCBOR(Float(posInf()))
	require.ErrorIs(t, err, ErrCanonicalization)
}

func posInf() float64 {
	var zero float64
	return 1 / zero
}

func TestCIDStableAcrossEncodings(t *testing.T) {
	v := Map(map[string]Value{"op": String("add_one"), "n": Int(1)})
	b1, err := EncodeCBOR(v)
	require.NoError(t, err)
	b2, err := EncodeCBOR(v)
	require.NoError(t, err)
	require.Equal(t, b1, b2)

	c1, err := Sum(b1, HashSHA2_256, CIDV1)
	require.NoError(t, err)
	c2, err := Sum(b2, HashSHA2_256, CIDV1)
	require.NoError(t, err)
	require.True(t, c1.Equal(c2))
}

func TestCIDTextRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name    string
		hashFn  HashFunc
		version CIDVersion
	}{
		{"sha256-v1", HashSHA2_256, CIDV1},
		{"blake2b-v1", HashBlake2b256, CIDV1},
		{"sha256-v0", HashSHA2_256, CIDV0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Sum([]byte("payload"), tc.hashFn, tc.version)
			require.NoError(t, err)

			text := c.String()
			parsed, err := ParseCID(text)
			require.NoError(t, err)
			require.True(t, c.Equal(parsed))
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	for _, v := range sampleValues(t) {
		encoded, err := EncodeJSON(v)
		require.NoError(t, err)
		decoded, err := DecodeJSON(encoded)
		require.NoError(t, err)
		require.True(t, v.Equal(decoded), "json round-trip mismatch for %+v", v)
	}
}

func TestCapsuleWrapUnwrap(t *testing.T) {
	inner := Map(map[string]Value{"num_tasks": Int(2)})
	wrapped := Wrap(TagWorkflowInfo, inner)

	tag, got, err := Unwrap(wrapped, TagWorkflowInfo, TagReceipt)
	require.NoError(t, err)
	require.Equal(t, TagWorkflowInfo, tag)
	require.True(t, inner.Equal(got))

	_, _, err = Unwrap(wrapped, TagReceipt)
	require.ErrorIs(t, err, ErrUnsupportedTag)
}

func TestVerifyBytesDetectsMismatch(t *testing.T) {
	c, err := Sum([]byte("abc"), HashSHA2_256, CIDV1)
	require.NoError(t, err)
	require.NoError(t, VerifyBytes([]byte("abc"), c))
	require.ErrorIs(t, VerifyBytes([]byte("abcd"), c), ErrHashMismatch)
}
