package ipld

import "fmt"

// Reserved capsule tags, framing values put on the wire or in the DHT so a
// receiver can tell a workflow-info record from a receipt record without
// guessing from shape.
const (
	TagWorkflowInfo = "ipvm/workflow"
	TagReceipt      = "ipvm/receipt"
)

// Unwrap requires v to be a capsule tagged with one of wantTags and returns
// its inner value and matched tag.
func Unwrap(v Value, wantTags ...string) (tag string, inner Value, err error) {
	tag, inner, ok := v.IsCapsule()
	if !ok {
		return "", Value{}, ErrCapsuleDecode
	}
	for _, want := range wantTags {
		if tag == want {
			return tag, inner, nil
		}
	}
	return "", Value{}, fmt.Errorf("%w: got %q", ErrUnsupportedTag, tag)
}

// CIDOf computes the CID of an entity's canonical CBOR encoding, verifying
// it round-trips (decode(encode(v)) re-encodes identically) is the caller's
// responsibility; CIDOf only derives the identity hash.
func CIDOf(v Value, hashFn HashFunc, version CIDVersion) (CID, []byte, error) {
	b, err := EncodeCBOR(v)
	if err != nil {
		return CID{}, nil, err
	}
	c, err := Sum(b, hashFn, version)
	if err != nil {
		return CID{}, nil, err
	}
	return c, b, nil
}

// VerifyBytes recomputes a CID from bytes and confirms it matches want,
// surfacing ErrHashMismatch on failure. Used when loading a (bytes, CID)
// pair back from a store.
func VerifyBytes(data []byte, want CID) error {
	got, err := Sum(data, want.HashFunc(), want.Version())
	if err != nil {
		return err
	}
	if !got.Equal(want) {
		return ErrHashMismatch
	}
	return nil
}
