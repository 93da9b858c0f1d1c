package argbridge

import (
	"encoding/base64"
	"strconv"

	"github.com/fluxdag/fluxdag/internal/ipld"
)

// ToWasm projects an IPLD value onto the Wasm component type t, per the
// contract table in spec.md §4.2. tags carries tagged-union framing across
// nested calls; pass a fresh NewTags() at the top of one conversion.
func ToWasm(v ipld.Value, t Type, tags *Tags) (Arg, error) {
	switch t.Kind {
	case KindUnion:
		return toWasmUnion(v, t, tags)
	case KindOption:
		return toWasmOption(v, t, tags)
	}

	switch v.Kind() {
	case ipld.KindNull:
		if t.Kind != KindString && t.Kind != KindUnconstrained {
			return Arg{}, mismatch(t.Kind, "null")
		}
		return Arg{Kind: KindString, Str: "null"}, nil
	case ipld.KindBool:
		if t.Kind != KindBool && t.Kind != KindUnconstrained {
			return Arg{}, mismatch(t.Kind, "bool")
		}
		return Arg{Kind: KindBool, B: v.AsBool()}, nil
	case ipld.KindInt:
		return toWasmInt(v.AsInt(), t)
	case ipld.KindFloat:
		return toWasmFloat(v.AsFloat(), t)
	case ipld.KindString:
		return toWasmString(v.AsString(), t)
	case ipld.KindBytes:
		return toWasmBytes(v.AsBytes(), t)
	case ipld.KindLink:
		if t.Kind != KindString && t.Kind != KindUnconstrained {
			return Arg{}, mismatch(t.Kind, "link")
		}
		return Arg{Kind: KindString, Str: v.AsLink().String()}, nil
	case ipld.KindList:
		return toWasmList(v, t, tags)
	case ipld.KindMap:
		return toWasmMap(v, t, tags)
	default:
		return Arg{}, mismatch(t.Kind, "unrecognized ipld kind")
	}
}

func toWasmString(s string, t Type) (Arg, error) {
	if t.Kind == KindChar {
		runes := []rune(s)
		if len(runes) != 1 {
			return Arg{}, mismatch(t.Kind, "string of length != 1")
		}
		return Arg{Kind: KindChar, Ch: runes[0]}, nil
	}
	if t.Kind != KindString && t.Kind != KindUnconstrained {
		return Arg{}, mismatch(t.Kind, "string")
	}
	return Arg{Kind: KindString, Str: s}, nil
}

func intBounds(kind Kind) (min int64, max uint64) {
	switch kind {
	case KindS8:
		return -1 << 7, 1<<7 - 1
	case KindS16:
		return -1 << 15, 1<<15 - 1
	case KindS32:
		return -1 << 31, 1<<31 - 1
	case KindS64:
		return -1 << 63, 1<<63 - 1
	case KindU8:
		return 0, 1<<8 - 1
	case KindU16:
		return 0, 1<<16 - 1
	case KindU32:
		return 0, 1<<32 - 1
	case KindU64:
		return 0, 1<<64 - 1
	}
	return 0, 0
}

func toWasmInt(n int64, t Type) (Arg, error) {
	kind := t.Kind
	if kind == KindUnconstrained {
		kind = KindS64 // default to s64 per spec.md §4.2
	}
	if !kind.IsInteger() {
		return Arg{}, mismatch(t.Kind, "integer")
	}
	minV, maxV := intBounds(kind)
	if kind.IsSigned() {
		if n < minV || (n >= 0 && uint64(n) > maxV) {
			return Arg{}, ErrIntegerOverflow
		}
		return Arg{Kind: kind, I: n}, nil
	}
	if n < 0 || uint64(n) > maxV {
		return Arg{}, ErrIntegerOverflow
	}
	return Arg{Kind: kind, U: uint64(n)}, nil
}

func toWasmFloat(f float64, t Type) (Arg, error) {
	kind := t.Kind
	if kind == KindUnconstrained {
		kind = KindF64
	}
	switch kind {
	case KindF64:
		return Arg{Kind: KindF64, F64: f}, nil
	case KindF32:
		// Route through a decimal intermediate rather than a direct
		// float64->float32 cast, matching spec.md's "avoid double
		// rounding" rule; precision loss beyond f32's 24-bit mantissa
		// is accepted, not an error.
		s := strconv.FormatFloat(f, 'g', -1, 64)
		f32, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return Arg{}, ErrFloatPrecision
		}
		return Arg{Kind: KindF32, F32: float32(f32)}, nil
	default:
		return Arg{}, mismatch(t.Kind, "float")
	}
}

func toWasmBytes(b []byte, t Type) (Arg, error) {
	if t.Kind == KindList && t.Elem != nil && t.Elem.Kind == KindU8 {
		items := make([]Arg, len(b))
		for i, by := range b {
			items[i] = Arg{Kind: KindU8, U: uint64(by)}
		}
		return Arg{Kind: KindList, Items: items}, nil
	}
	if t.Kind == KindString || t.Kind == KindUnconstrained {
		return Arg{Kind: KindString, Str: base64.StdEncoding.EncodeToString(b)}, nil
	}
	return Arg{}, mismatch(t.Kind, "bytes")
}

func toWasmList(v ipld.Value, t Type, tags *Tags) (Arg, error) {
	if t.Kind == KindTuple {
		items := v.AsList()
		if len(items) != len(t.Arms) {
			return Arg{}, mismatch(t.Kind, "list/tuple arity mismatch")
		}
		out := make([]Arg, len(items))
		for i, it := range items {
			a, err := ToWasm(it, t.Arms[i], tags)
			if err != nil {
				return Arg{}, err
			}
			out[i] = a
		}
		return Arg{Kind: KindTuple, Items: out}, nil
	}
	if t.Kind != KindList && t.Kind != KindUnconstrained {
		return Arg{}, mismatch(t.Kind, "list")
	}
	elemType := Unconstrained()
	if t.Elem != nil {
		elemType = *t.Elem
	}
	items := v.AsList()
	out := make([]Arg, len(items))
	for i, it := range items {
		a, err := ToWasm(it, elemType, tags)
		if err != nil {
			return Arg{}, err
		}
		out[i] = a
	}
	return Arg{Kind: KindList, Items: out}, nil
}

func toWasmMap(v ipld.Value, t Type, tags *Tags) (Arg, error) {
	if t.Kind == KindRecord {
		fields := make([]ArgField, len(t.Fields))
		for i, f := range t.Fields {
			fv, ok := v.MapGet(f.Name)
			if !ok {
				return Arg{}, mismatch(t.Kind, "record missing field "+f.Name)
			}
			a, err := ToWasm(fv, f.Type, tags)
			if err != nil {
				return Arg{}, err
			}
			fields[i] = ArgField{Name: f.Name, Value: a}
		}
		return Arg{Kind: KindRecord, Fields: fields}, nil
	}
	if t.Kind != KindList && t.Kind != KindUnconstrained {
		return Arg{}, mismatch(t.Kind, "map")
	}
	valType := Unconstrained()
	if t.Kind == KindList && t.Elem != nil && t.Elem.Kind == KindTuple && len(t.Elem.Arms) == 2 {
		valType = t.Elem.Arms[1]
	}
	keys, vals := v.MapKeys(), v.MapValues()
	items := make([]Arg, len(keys))
	for i, k := range keys {
		val, err := ToWasm(vals[i], valType, tags)
		if err != nil {
			return Arg{}, err
		}
		items[i] = Arg{Kind: KindTuple, Items: []Arg{
			{Kind: KindString, Str: k},
			val,
		}}
	}
	return Arg{Kind: KindList, Items: items}, nil
}

// toWasmUnion handles both variants of spec.md's union row: a single-entry
// tagged map (the tag is pushed onto tags, the inner value matched against
// arms in order) and an untagged list/scalar value (arms tried in
// declaration order with no tag push).
func toWasmUnion(v ipld.Value, t Type, tags *Tags) (Arg, error) {
	if tag, inner, ok := v.IsCapsule(); ok {
		tags.Push(tag)
		for i, arm := range t.Arms {
			a, err := ToWasm(inner, arm, tags)
			if err == nil {
				return Arg{Kind: KindUnion, Union: &ArgUnion{Index: i, Value: a}}, nil
			}
		}
		tags.Pop() // nolint:errcheck — undo the push so the stack stays balanced on failure
		return Arg{}, ErrNoDiscriminantMatch
	}
	for i, arm := range t.Arms {
		a, err := ToWasm(v, arm, tags)
		if err == nil {
			return Arg{Kind: KindUnion, Union: &ArgUnion{Index: i, Value: a}}, nil
		}
	}
	return Arg{}, ErrNoDiscriminantMatch
}

func toWasmOption(v ipld.Value, t Type, tags *Tags) (Arg, error) {
	if v.Kind() == ipld.KindNull {
		return Arg{Kind: KindOption, Opt: nil}, nil
	}
	elemType := Unconstrained()
	if t.Elem != nil {
		elemType = *t.Elem
	}
	inner, err := ToWasm(v, elemType, tags)
	if err != nil {
		return Arg{}, err
	}
	return Arg{Kind: KindOption, Opt: &inner}, nil
}
