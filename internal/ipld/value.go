// Package ipld implements the canonical DAG-CBOR/DAG-JSON value model and
// CID identity shared by every persisted or wire-transmitted fluxdag entity.
package ipld

import "sort"

// Kind identifies which variant of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindLink
	KindList
	KindMap
)

// Value is the universal sum type for IPLD data: null, bool, a signed
// integer, an IEEE-754 double, a UTF-8 string, raw bytes, a CID link, an
// ordered list of Value, or an ordered map from string keys to Value. Map
// entries are always held in canonical (lexicographic byte) key order.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	by   []byte
	link CID
	list []Value
	keys []string
	vals []Value
}

// Null returns the IPLD null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps a signed integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps an IEEE-754 double. NaN and +/-Inf are rejected at encode time.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a UTF-8 string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes wraps a raw byte slice.
func Bytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBytes, by: cp}
}

// Link wraps a CID reference to another entity.
func Link(c CID) Value { return Value{kind: KindLink, link: c} }

// List wraps an ordered sequence of values.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Map wraps an ordered map from string key to Value. Keys are sorted into
// canonical (lexicographic, byte-wise) order regardless of input order.
func Map(entries map[string]Value) Value {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]Value, len(keys))
	for i, k := range keys {
		vals[i] = entries[k]
	}
	return Value{kind: KindMap, keys: keys, vals: vals}
}

// MapFromOrdered builds a map Value from already-sorted parallel key/value
// slices without re-sorting; callers must guarantee canonical order (the
// decoder uses this to avoid re-sorting bytes it already parsed in order).
func MapFromOrdered(keys []string, vals []Value) Value {
	return Value{kind: KindMap, keys: keys, vals: vals}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsBool() bool       { return v.b }
func (v Value) AsInt() int64       { return v.i }
func (v Value) AsFloat() float64   { return v.f }
func (v Value) AsString() string   { return v.s }
func (v Value) AsBytes() []byte    { return v.by }
func (v Value) AsLink() CID        { return v.link }
func (v Value) AsList() []Value    { return v.list }

// MapKeys returns the canonical-order keys of a map value.
func (v Value) MapKeys() []string { return v.keys }

// MapValues returns the map values, parallel to MapKeys.
func (v Value) MapValues() []Value { return v.vals }

// MapGet looks up a key in a map value.
func (v Value) MapGet(key string) (Value, bool) {
	for i, k := range v.keys {
		if k == key {
			return v.vals[i], true
		}
	}
	return Value{}, false
}

// IsCapsule reports whether v is a single-entry map, and returns its sole
// tag and inner value.
func (v Value) IsCapsule() (tag string, inner Value, ok bool) {
	if v.kind != KindMap || len(v.keys) != 1 {
		return "", Value{}, false
	}
	return v.keys[0], v.vals[0], true
}

// Wrap produces the single-entry capsule map {tag: value}.
func Wrap(tag string, value Value) Value {
	return MapFromOrdered([]string{tag}, []Value{value})
}

// Equal performs a deep structural comparison.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBytes:
		if len(v.by) != len(o.by) {
			return false
		}
		for i := range v.by {
			if v.by[i] != o.by[i] {
				return false
			}
		}
		return true
	case KindLink:
		return v.link.Equal(o.link)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.keys) != len(o.keys) {
			return false
		}
		for i := range v.keys {
			if v.keys[i] != o.keys[i] || !v.vals[i].Equal(o.vals[i]) {
				return false
			}
		}
		return true
	}
	return false
}
