package argbridge

// Kind identifies a Wasm component type (or the sentinel "no declared
// type" used when a target is unconstrained, in which case the table's
// defaults apply: s64 for integers, base64 string for bytes).
type Kind int

const (
	KindUnconstrained Kind = iota
	KindBool
	KindS8
	KindS16
	KindS32
	KindS64
	KindU8
	KindU16
	KindU32
	KindU64
	KindF32
	KindF64
	KindChar
	KindString
	KindList
	KindTuple
	KindRecord
	KindUnion
	KindOption
	KindResult
)

func (k Kind) String() string {
	names := map[Kind]string{
		KindUnconstrained: "unconstrained", KindBool: "bool",
		KindS8: "s8", KindS16: "s16", KindS32: "s32", KindS64: "s64",
		KindU8: "u8", KindU16: "u16", KindU32: "u32", KindU64: "u64",
		KindF32: "f32", KindF64: "f64", KindChar: "char", KindString: "string",
		KindList: "list", KindTuple: "tuple", KindRecord: "record",
		KindUnion: "union", KindOption: "option", KindResult: "result",
	}
	if n, ok := names[k]; ok {
		return n
	}
	return "unknown"
}

// IsInteger reports whether k is one of the eight sized integer kinds.
func (k Kind) IsInteger() bool {
	return k >= KindS8 && k <= KindU64
}

// IsSigned reports whether k is a signed integer kind.
func (k Kind) IsSigned() bool { return k >= KindS8 && k <= KindS64 }

// RecordField names one member of a Record type.
type RecordField struct {
	Name string
	Type Type
}

// Type is a Wasm component type descriptor tree: for list/option, Elem is
// the element type; for result, Elem is the ok type and ErrElem the err
// type; for tuple/union, Arms holds the ordered member types; for record,
// Fields holds the named members.
type Type struct {
	Kind    Kind
	Elem    *Type
	ErrElem *Type
	Arms    []Type
	Fields  []RecordField
}

func Unconstrained() Type { return Type{Kind: KindUnconstrained} }
func Bool() Type           { return Type{Kind: KindBool} }
func S8() Type             { return Type{Kind: KindS8} }
func S16() Type            { return Type{Kind: KindS16} }
func S32() Type            { return Type{Kind: KindS32} }
func S64() Type            { return Type{Kind: KindS64} }
func U8() Type             { return Type{Kind: KindU8} }
func U16() Type            { return Type{Kind: KindU16} }
func U32() Type            { return Type{Kind: KindU32} }
func U64() Type            { return Type{Kind: KindU64} }
func F32() Type            { return Type{Kind: KindF32} }
func F64() Type            { return Type{Kind: KindF64} }
func Char() Type           { return Type{Kind: KindChar} }
func Str() Type            { return Type{Kind: KindString} }

func List(elem Type) Type                 { return Type{Kind: KindList, Elem: &elem} }
func Tuple(arms ...Type) Type             { return Type{Kind: KindTuple, Arms: arms} }
func Record(fields ...RecordField) Type   { return Type{Kind: KindRecord, Fields: fields} }
func Union(arms ...Type) Type             { return Type{Kind: KindUnion, Arms: arms} }
func Option(elem Type) Type               { return Type{Kind: KindOption, Elem: &elem} }
func Result(ok, errT Type) Type           { return Type{Kind: KindResult, Elem: &ok, ErrElem: &errT} }

// Arg is a runtime Wasm value produced by ToWasm / consumed by FromWasm.
type Arg struct {
	Kind   Kind
	B      bool
	I      int64
	U      uint64
	F32    float32
	F64    float64
	Ch     rune
	Str    string
	Items  []Arg
	Fields []ArgField
	Union  *ArgUnion
	Opt    *Arg // nil means None
	Res    *ArgResult
}

type ArgField struct {
	Name  string
	Value Arg
}

type ArgUnion struct {
	Index int
	Value Arg
}

type ArgResult struct {
	Ok    bool
	Value Arg
}
