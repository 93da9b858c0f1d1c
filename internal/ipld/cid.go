package ipld

import (
	"bytes"
	"crypto/sha256"
	"encoding/base32"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// HashFunc names the hash algorithm a CID is derived from.
type HashFunc int

const (
	// HashSHA2_256 is the universally-supported alternate (multicodec 0x12);
	// HashBlake2b256 is the default this module derives CIDs with.
	HashSHA2_256 HashFunc = iota
	// HashBlake2b256 stands in for the spec's Blake3-256: no repo in the
	// example pack imports a Blake3 implementation, while golang.org/x/crypto
	// (already a teacher dependency) ships blake2b, the nearest fast keyed
	// hash actually available in the pack's dependency closure. See
	// DESIGN.md for the substitution rationale.
	HashBlake2b256
)

const (
	mcSHA2_256   = 0x12
	mcBlake2b256 = 0xb220
	mcDagCBOR    = 0x71
)

// CIDVersion selects the textual/binary framing of a CID.
type CIDVersion int

const (
	CIDV0 CIDVersion = 0
	CIDV1 CIDVersion = 1
)

// CID is a content identifier: a hash function tag, a version, and the
// raw digest bytes. Two CIDs are equal iff their (version, hash func,
// digest) triples are equal.
type CID struct {
	version CIDVersion
	hashFn  HashFunc
	digest  []byte
}

// Sum hashes data with hashFn and builds a CID of the requested version.
// CID v0 is only defined over SHA2-256 per the historical IPFS convention.
func Sum(data []byte, hashFn HashFunc, version CIDVersion) (CID, error) {
	var digest []byte
	switch hashFn {
	case HashSHA2_256:
		sum := sha256.Sum256(data)
		digest = sum[:]
	case HashBlake2b256:
		sum := blake2b.Sum256(data)
		digest = sum[:]
	default:
		return CID{}, fmt.Errorf("ipld: unknown hash function %d", hashFn)
	}
	if version == CIDV0 && hashFn != HashSHA2_256 {
		return CID{}, fmt.Errorf("ipld: CID v0 requires sha2-256")
	}
	return CID{version: version, hashFn: hashFn, digest: digest}, nil
}

func multihashCode(hashFn HashFunc) uint64 {
	switch hashFn {
	case HashBlake2b256:
		return mcBlake2b256
	default:
		return mcSHA2_256
	}
}

// Bytes returns the binary multihash (v0) or version+codec+multihash (v1)
// encoding of the CID.
func (c CID) Bytes() []byte {
	mh := encodeMultihash(multihashCode(c.hashFn), c.digest)
	if c.version == CIDV0 {
		return mh
	}
	var buf bytes.Buffer
	writeUvarint(&buf, uint64(c.version))
	writeUvarint(&buf, mcDagCBOR)
	buf.Write(mh)
	return buf.Bytes()
}

// Version reports the CID version.
func (c CID) Version() CIDVersion { return c.version }

// HashFunc reports the hash algorithm used.
func (c CID) HashFunc() HashFunc { return c.hashFn }

// Digest returns the raw hash digest (no multihash framing).
func (c CID) Digest() []byte { return c.digest }

// IsZero reports whether c is the zero CID (no digest set).
func (c CID) IsZero() bool { return len(c.digest) == 0 }

// Equal compares two CIDs by value.
func (c CID) Equal(o CID) bool {
	if c.version != o.version || c.hashFn != o.hashFn {
		return false
	}
	return bytes.Equal(c.digest, o.digest)
}

var base32Lower = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// String renders the CID in its textual form: base32-lower (with a leading
// 'b' multibase prefix) for v1, base58-btc for v0.
func (c CID) String() string {
	if c.version == CIDV0 {
		return base58Encode(c.Bytes())
	}
	return "b" + base32Lower.EncodeToString(c.Bytes())
}

// ParseCID decodes a textual CID, trying v1 base32 ('b' prefix) first, then
// v0 base58-btc.
func ParseCID(s string) (CID, error) {
	if len(s) > 0 && s[0] == 'b' {
		raw, err := base32Lower.DecodeString(s[1:])
		if err != nil {
			return CID{}, fmt.Errorf("%w: %v", ErrCidParse, err)
		}
		return decodeCIDBytes(raw)
	}
	raw, err := base58Decode(s)
	if err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrCidParse, err)
	}
	code, digest, _, err := decodeMultihash(raw)
	if err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrCidParse, err)
	}
	if code != mcSHA2_256 {
		return CID{}, fmt.Errorf("%w: v0 CID with non-sha2-256 multihash", ErrCidParse)
	}
	return CID{version: CIDV0, hashFn: HashSHA2_256, digest: digest}, nil
}

func decodeCIDBytes(raw []byte) (CID, error) {
	version, n1, err := readUvarint(raw)
	if err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrCidParse, err)
	}
	_, n2, err := readUvarint(raw[n1:]) // codec, unused beyond validation
	if err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrCidParse, err)
	}
	code, digest, _, err := decodeMultihash(raw[n1+n2:])
	if err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrCidParse, err)
	}
	hashFn := HashSHA2_256
	if code == mcBlake2b256 {
		hashFn = HashBlake2b256
	}
	return CID{version: CIDVersion(version), hashFn: hashFn, digest: digest}, nil
}

func encodeMultihash(code uint64, digest []byte) []byte {
	var buf bytes.Buffer
	writeUvarint(&buf, code)
	writeUvarint(&buf, uint64(len(digest)))
	buf.Write(digest)
	return buf.Bytes()
}

func decodeMultihash(raw []byte) (code uint64, digest []byte, n int, err error) {
	code, n1, err := readUvarint(raw)
	if err != nil {
		return 0, nil, 0, err
	}
	length, n2, err := readUvarint(raw[n1:])
	if err != nil {
		return 0, nil, 0, err
	}
	start := n1 + n2
	if uint64(len(raw)-start) < length {
		return 0, nil, 0, ErrTruncated
	}
	return code, raw[start : start+int(length)], start + int(length), nil
}
