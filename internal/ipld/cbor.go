package ipld

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	majorUint    = 0
	majorNegInt  = 1
	majorBytes   = 2
	majorString  = 3
	majorArray   = 4
	majorMap     = 5
	majorTag     = 6
	majorSimple  = 7
	cidLinkTag   = 42
)

const (
	simpleFalse = 20
	simpleTrue  = 21
	simpleNull  = 22
	simpleFloat = 27
)

// EncodeCBOR produces the canonical DAG-CBOR byte representation of v.
// Canonical form: deterministic (sorted) map keys, shortest-form integers,
// and rejection of NaN/infinite floats.
func EncodeCBOR(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v Value) error {
	switch v.Kind() {
	case KindNull:
		buf.WriteByte(head(majorSimple, simpleNull))
		return nil
	case KindBool:
		if v.AsBool() {
			buf.WriteByte(head(majorSimple, simpleTrue))
		} else {
			buf.WriteByte(head(majorSimple, simpleFalse))
		}
		return nil
	case KindInt:
		n := v.AsInt()
		if n < 0 {
			writeHeadArg(buf, majorNegInt, uint64(-(n+1)))
		} else {
			writeHeadArg(buf, majorUint, uint64(n))
		}
		return nil
	case KindFloat:
		f := v.AsFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite float", ErrCanonicalization)
		}
		buf.WriteByte(head(majorSimple, simpleFloat))
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(f))
		buf.Write(tmp[:])
		return nil
	case KindString:
		s := v.AsString()
		writeHeadArg(buf, majorString, uint64(len(s)))
		buf.WriteString(s)
		return nil
	case KindBytes:
		b := v.AsBytes()
		writeHeadArg(buf, majorBytes, uint64(len(b)))
		buf.Write(b)
		return nil
	case KindLink:
		writeHeadArg(buf, majorTag, cidLinkTag)
		cidBytes := v.AsLink().Bytes()
		writeHeadArg(buf, majorBytes, uint64(len(cidBytes)+1))
		buf.WriteByte(0x00) // identity multibase prefix, per DAG-CBOR link convention
		buf.Write(cidBytes)
		return nil
	case KindList:
		items := v.AsList()
		writeHeadArg(buf, majorArray, uint64(len(items)))
		for _, it := range items {
			if err := encodeValue(buf, it); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		keys, vals := v.MapKeys(), v.MapValues()
		if !sortedStrings(keys) {
			return fmt.Errorf("%w: map keys not in canonical order", ErrCanonicalization)
		}
		writeHeadArg(buf, majorMap, uint64(len(keys)))
		for i, k := range keys {
			writeHeadArg(buf, majorString, uint64(len(k)))
			buf.WriteString(k)
			if err := encodeValue(buf, vals[i]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown value kind", ErrCanonicalization)
	}
}

func sortedStrings(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] >= s[i] {
			return false
		}
	}
	return true
}

func head(major, arg byte) byte {
	return (major << 5) | arg
}

// writeHeadArg writes the canonical (shortest-form) CBOR head for a major
// type and its unsigned argument.
func writeHeadArg(buf *bytes.Buffer, major byte, arg uint64) {
	switch {
	case arg < 24:
		buf.WriteByte(head(major, byte(arg)))
	case arg <= 0xff:
		buf.WriteByte(head(major, 24))
		buf.WriteByte(byte(arg))
	case arg <= 0xffff:
		buf.WriteByte(head(major, 25))
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(arg))
		buf.Write(tmp[:])
	case arg <= 0xffffffff:
		buf.WriteByte(head(major, 26))
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(arg))
		buf.Write(tmp[:])
	default:
		buf.WriteByte(head(major, 27))
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], arg)
		buf.Write(tmp[:])
	}
}
