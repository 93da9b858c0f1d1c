package ipld

import (
	"encoding/binary"
	"fmt"
	"math"
)

type cborReader struct {
	data []byte
	pos  int
}

func (r *cborReader) remaining() int { return len(r.data) - r.pos }

func (r *cborReader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrTruncated
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *cborReader) readN(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, ErrTruncated
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// readHead parses a CBOR initial byte and its argument, validating that the
// argument was written in canonical (shortest) form.
func (r *cborReader) readHead() (major byte, arg uint64, err error) {
	ib, err := r.readByte()
	if err != nil {
		return 0, 0, err
	}
	major = ib >> 5
	a := ib & 0x1f
	switch {
	case a < 24:
		return major, uint64(a), nil
	case a == 24:
		b, err := r.readByte()
		if err != nil {
			return 0, 0, err
		}
		if b < 24 {
			return 0, 0, fmt.Errorf("%w: non-canonical 1-byte length", ErrNonCanonical)
		}
		return major, uint64(b), nil
	case a == 25:
		b, err := r.readN(2)
		if err != nil {
			return 0, 0, err
		}
		v := binary.BigEndian.Uint16(b)
		if v <= 0xff {
			return 0, 0, fmt.Errorf("%w: non-canonical 2-byte length", ErrNonCanonical)
		}
		return major, uint64(v), nil
	case a == 26:
		b, err := r.readN(4)
		if err != nil {
			return 0, 0, err
		}
		v := binary.BigEndian.Uint32(b)
		if v <= 0xffff {
			return 0, 0, fmt.Errorf("%w: non-canonical 4-byte length", ErrNonCanonical)
		}
		return major, uint64(v), nil
	case a == 27:
		b, err := r.readN(8)
		if err != nil {
			return 0, 0, err
		}
		v := binary.BigEndian.Uint64(b)
		if v <= 0xffffffff {
			return 0, 0, fmt.Errorf("%w: non-canonical 8-byte length", ErrNonCanonical)
		}
		return major, v, nil
	default:
		return 0, 0, fmt.Errorf("%w: unsupported additional info %d", ErrNonCanonical, a)
	}
}

// DecodeCBOR parses canonical DAG-CBOR bytes into a Value, rejecting
// non-canonical integer/length encodings and any trailing bytes.
func DecodeCBOR(data []byte) (Value, error) {
	r := &cborReader{data: data}
	v, err := decodeValue(r)
	if err != nil {
		return Value{}, err
	}
	if r.remaining() != 0 {
		return Value{}, fmt.Errorf("%w: trailing bytes after top-level value", ErrNonCanonical)
	}
	return v, nil
}

func decodeValue(r *cborReader) (Value, error) {
	major, arg, err := r.readHead()
	if err != nil {
		return Value{}, err
	}
	switch major {
	case majorUint:
		return Int(int64(arg)), nil
	case majorNegInt:
		return Int(-1 - int64(arg)), nil
	case majorBytes:
		b, err := r.readN(int(arg))
		if err != nil {
			return Value{}, err
		}
		return Bytes(b), nil
	case majorString:
		b, err := r.readN(int(arg))
		if err != nil {
			return Value{}, err
		}
		return String(string(b)), nil
	case majorArray:
		items := make([]Value, arg)
		for i := range items {
			v, err := decodeValue(r)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items...), nil
	case majorMap:
		keys := make([]string, arg)
		vals := make([]Value, arg)
		for i := uint64(0); i < arg; i++ {
			kMajor, kArg, err := r.readHead()
			if err != nil {
				return Value{}, err
			}
			if kMajor != majorString {
				return Value{}, fmt.Errorf("%w: map key must be a text string", ErrNonCanonical)
			}
			kb, err := r.readN(int(kArg))
			if err != nil {
				return Value{}, err
			}
			keys[i] = string(kb)
			v, err := decodeValue(r)
			if err != nil {
				return Value{}, err
			}
			vals[i] = v
		}
		if !sortedStrings(keys) {
			return Value{}, fmt.Errorf("%w: map keys not in canonical order", ErrNonCanonical)
		}
		return MapFromOrdered(keys, vals), nil
	case majorTag:
		if arg != cidLinkTag {
			return Value{}, fmt.Errorf("%w: unsupported CBOR tag %d", ErrUnsupportedTag, arg)
		}
		inner, err := decodeValue(r)
		if err != nil {
			return Value{}, err
		}
		if inner.Kind() != KindBytes || len(inner.AsBytes()) == 0 || inner.AsBytes()[0] != 0x00 {
			return Value{}, fmt.Errorf("%w: malformed CID link", ErrCidParse)
		}
		cidBytes := inner.AsBytes()[1:]
		c, err := decodeCIDFromBinary(cidBytes)
		if err != nil {
			return Value{}, err
		}
		return Link(c), nil
	case majorSimple:
		switch arg {
		case simpleFalse:
			return Bool(false), nil
		case simpleTrue:
			return Bool(true), nil
		case simpleNull:
			return Null(), nil
		case simpleFloat:
			b, err := r.readN(8)
			if err != nil {
				return Value{}, err
			}
			bits := binary.BigEndian.Uint64(b)
			f := math.Float64frombits(bits)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return Value{}, fmt.Errorf("%w: non-finite float in input", ErrCanonicalization)
			}
			return Float(f), nil
		default:
			return Value{}, fmt.Errorf("%w: unsupported simple value %d", ErrNonCanonical, arg)
		}
	default:
		return Value{}, fmt.Errorf("%w: unknown major type %d", ErrNonCanonical, major)
	}
}

// decodeCIDFromBinary parses either a v0 (bare sha2-256 multihash) or v1
// (version+codec+multihash) binary CID. A v0 CID is exactly 34 bytes and
// starts with the sha2-256 multihash code (0x12) and length (0x20); that
// shape cannot occur as a valid v1 header (whose first byte is the version,
// 1), so the two framings are unambiguous.
func decodeCIDFromBinary(raw []byte) (CID, error) {
	if len(raw) == 34 && raw[0] == mcSHA2_256 && raw[1] == 0x20 {
		return CID{version: CIDV0, hashFn: HashSHA2_256, digest: append([]byte(nil), raw[2:]...)}, nil
	}
	v, err := decodeCIDBytes(raw)
	if err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrCidParse, err)
	}
	return v, nil
}
