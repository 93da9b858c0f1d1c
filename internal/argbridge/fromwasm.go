package argbridge

import (
	"encoding/base64"

	"github.com/fluxdag/fluxdag/internal/ipld"
)

// FromWasm reconstructs an IPLD value from a Wasm Arg produced by ToWasm,
// consuming tags pushed during the matching ToWasm call so
// from_wasm(to_wasm(v, T)) = v for every v expressible in T. Known
// ambiguity (documented, not fixed): an IPLD Null and the literal string
// "null" both project to the same string Arg under a string target, so a
// genuine string value equal to "null" does not round-trip through a
// string-typed target; this mirrors the homestar source's own design.
func FromWasm(a Arg, t Type, tags *Tags) (ipld.Value, error) {
	switch a.Kind {
	case KindBool:
		return ipld.Bool(a.B), nil
	case KindChar:
		return ipld.String(string(a.Ch)), nil
	case KindString:
		if a.Str == "null" && (t.Kind == KindString || t.Kind == KindUnconstrained) {
			return ipld.Null(), nil
		}
		if t.Kind == KindUnconstrained {
			return decodeStringHeuristic(a.Str), nil
		}
		return ipld.String(a.Str), nil
	case KindOption:
		return fromWasmOption(a, t, tags)
	case KindUnion:
		return fromWasmUnion(a, t, tags)
	case KindList:
		return fromWasmList(a, t, tags)
	case KindTuple:
		return fromWasmTuple(a, t, tags)
	case KindRecord:
		return fromWasmRecord(a, t, tags)
	case KindResult:
		return fromWasmResult(a, t, tags)
	}
	if a.Kind.IsInteger() {
		if a.Kind.IsSigned() {
			return ipld.Int(a.I), nil
		}
		return ipld.Int(int64(a.U)), nil
	}
	switch a.Kind {
	case KindF32:
		return ipld.Float(float64(a.F32)), nil
	case KindF64:
		return ipld.Float(a.F64), nil
	}
	return ipld.Value{}, mismatch(t.Kind, "unrecognized arg kind")
}

// decodeStringHeuristic implements spec.md's "CID link decode" rule for
// values reaching the bridge with no declared target type: try a CID
// parse, then base64, otherwise keep it as a plain string.
func decodeStringHeuristic(s string) ipld.Value {
	if c, err := ipld.ParseCID(s); err == nil {
		return ipld.Link(c)
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return ipld.Bytes(b)
	}
	return ipld.String(s)
}

func fromWasmOption(a Arg, t Type, tags *Tags) (ipld.Value, error) {
	if a.Opt == nil {
		return ipld.Null(), nil
	}
	elemType := Unconstrained()
	if t.Elem != nil {
		elemType = *t.Elem
	}
	return FromWasm(*a.Opt, elemType, tags)
}

func fromWasmResult(a Arg, t Type, tags *Tags) (ipld.Value, error) {
	if a.Res == nil {
		return ipld.Value{}, mismatch(t.Kind, "result missing value")
	}
	branchType := t.ErrElem
	tag := "err"
	if a.Res.Ok {
		branchType = t.Elem
		tag = "ok"
	}
	elemType := Unconstrained()
	if branchType != nil {
		elemType = *branchType
	}
	inner, err := FromWasm(a.Res.Value, elemType, tags)
	if err != nil {
		return ipld.Value{}, err
	}
	return ipld.Wrap(tag, inner), nil
}

func fromWasmUnion(a Arg, t Type, tags *Tags) (ipld.Value, error) {
	if a.Union == nil {
		return ipld.Value{}, mismatch(t.Kind, "union missing value")
	}
	armType := Unconstrained()
	if a.Union.Index < len(t.Arms) {
		armType = t.Arms[a.Union.Index]
	}
	inner, err := FromWasm(a.Union.Value, armType, tags)
	if err != nil {
		return ipld.Value{}, err
	}
	tag, err := tags.Pop()
	if err != nil {
		// Untagged union: no capsule to reconstruct, return the bare value.
		return inner, nil
	}
	return ipld.Wrap(tag, inner), nil
}

func fromWasmList(a Arg, t Type, tags *Tags) (ipld.Value, error) {
	if t.Kind == KindList && t.Elem != nil && t.Elem.Kind == KindU8 {
		buf := make([]byte, len(a.Items))
		for i, it := range a.Items {
			buf[i] = byte(it.U)
		}
		return ipld.Bytes(buf), nil
	}
	// list<tuple<string,V>> reconstructs a map: the shape is declared
	// either explicitly (List of Tuple(string, V)) or implicitly under an
	// unconstrained target, recognized structurally.
	isMapShapeTarget := t.Kind == KindUnconstrained ||
		(t.Kind == KindList && t.Elem != nil && t.Elem.Kind == KindTuple &&
			len(t.Elem.Arms) == 2 && t.Elem.Arms[0].Kind == KindString)
	if isMapShapeTarget && allTupleOfStringAnd(a.Items) {
		var valType Type
		if t.Kind == KindList && t.Elem != nil {
			valType = t.Elem.Arms[1]
		} else {
			valType = Unconstrained()
		}
		return fromWasmMapShape(a, valType, tags)
	}
	elemType := Unconstrained()
	if t.Elem != nil {
		elemType = *t.Elem
	}
	items := make([]ipld.Value, len(a.Items))
	for i, it := range a.Items {
		v, err := FromWasm(it, elemType, tags)
		if err != nil {
			return ipld.Value{}, err
		}
		items[i] = v
	}
	return ipld.List(items...), nil
}

func allTupleOfStringAnd(items []Arg) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if it.Kind != KindTuple || len(it.Items) != 2 || it.Items[0].Kind != KindString {
			return false
		}
	}
	return true
}

func fromWasmMapShape(a Arg, valType Type, tags *Tags) (ipld.Value, error) {
	entries := map[string]ipld.Value{}
	for _, it := range a.Items {
		v, err := FromWasm(it.Items[1], valType, tags)
		if err != nil {
			return ipld.Value{}, err
		}
		entries[it.Items[0].Str] = v
	}
	return ipld.Map(entries), nil
}

func fromWasmTuple(a Arg, t Type, tags *Tags) (ipld.Value, error) {
	items := make([]ipld.Value, len(a.Items))
	for i, it := range a.Items {
		armT := Unconstrained()
		if i < len(t.Arms) {
			armT = t.Arms[i]
		}
		v, err := FromWasm(it, armT, tags)
		if err != nil {
			return ipld.Value{}, err
		}
		items[i] = v
	}
	return ipld.List(items...), nil
}

func fromWasmRecord(a Arg, t Type, tags *Tags) (ipld.Value, error) {
	out := map[string]ipld.Value{}
	for _, f := range a.Fields {
		fieldType := Unconstrained()
		for _, tf := range t.Fields {
			if tf.Name == f.Name {
				fieldType = tf.Type
			}
		}
		v, err := FromWasm(f.Value, fieldType, tags)
		if err != nil {
			return ipld.Value{}, err
		}
		out[f.Name] = v
	}
	return ipld.Map(out), nil
}
