package model

import (
	"fmt"

	"github.com/fluxdag/fluxdag/internal/ipld"
)

// Branch selects which variant of an awaited task's outcome an Await wants.
type Branch int

const (
	BranchOk Branch = iota
	BranchErr
	BranchAny
)

func (b Branch) String() string {
	switch b {
	case BranchOk:
		return "await/ok"
	case BranchErr:
		return "await/err"
	default:
		return "await/*"
	}
}

// ParseBranch inverts Branch.String.
func ParseBranch(s string) (Branch, error) {
	switch s {
	case "await/ok":
		return BranchOk, nil
	case "await/err":
		return BranchErr, nil
	case "await/*":
		return BranchAny, nil
	default:
		return 0, fmt.Errorf("%w: branch %q", ErrUnknownVariant, s)
	}
}

// Await is a deferred reference to another task's output, selectable on the
// ok/err/any branch.
type Await struct {
	Task   ipld.CID
	Branch Branch
}

func (a Await) ToIPLD() ipld.Value {
	return ipld.Map(map[string]ipld.Value{
		"await/task":   ipld.Link(a.Task),
		"await/branch": ipld.String(a.Branch.String()),
	})
}

func AwaitFromIPLD(v ipld.Value) (Await, error) {
	taskV, ok := v.MapGet("await/task")
	if !ok || taskV.Kind() != ipld.KindLink {
		return Await{}, fmt.Errorf("%w: await missing task link", ErrMissingField)
	}
	branchV, ok := v.MapGet("await/branch")
	if !ok || branchV.Kind() != ipld.KindString {
		return Await{}, fmt.Errorf("%w: await missing branch", ErrMissingField)
	}
	branch, err := ParseBranch(branchV.AsString())
	if err != nil {
		return Await{}, err
	}
	return Await{Task: taskV.AsLink(), Branch: branch}, nil
}

// InputKind distinguishes the three variants an Instruction's input can take.
type InputKind int

const (
	InputIPLD InputKind = iota
	InputDeferred
	InputArg
)

// Input is a Task's argument: raw IPLD, a deferred Await, or (only after
// resolution) a materialized Arg carrying another task's output.
type Input struct {
	kind   InputKind
	ipld   ipld.Value
	await  Await
	arg    ipld.Value
}

func NewIPLDInput(v ipld.Value) Input     { return Input{kind: InputIPLD, ipld: v} }
func NewAwaitInput(a Await) Input          { return Input{kind: InputDeferred, await: a} }
func NewArgInput(v ipld.Value) Input       { return Input{kind: InputArg, arg: v} }

func (in Input) Kind() InputKind   { return in.kind }
func (in Input) IPLD() ipld.Value  { return in.ipld }
func (in Input) Await() Await      { return in.await }
func (in Input) Arg() ipld.Value   { return in.arg }

// IsDeferred reports whether the input still needs resolution.
func (in Input) IsDeferred() bool { return in.kind == InputDeferred }

// ToIPLD encodes the input's persisted form (Arg inputs only exist at
// runtime and are never encoded directly — callers must resolve-and-store
// them as the Receipt that produced them instead).
func (in Input) ToIPLD() (ipld.Value, error) {
	switch in.kind {
	case InputIPLD:
		return in.ipld, nil
	case InputDeferred:
		return ipld.Wrap("ipvm/await", in.await.ToIPLD()), nil
	default:
		return ipld.Value{}, fmt.Errorf("model: cannot persist a materialized Arg input")
	}
}

func InputFromIPLD(v ipld.Value) (Input, error) {
	if tag, inner, ok := v.IsCapsule(); ok && tag == "ipvm/await" {
		a, err := AwaitFromIPLD(inner)
		if err != nil {
			return Input{}, err
		}
		return NewAwaitInput(a), nil
	}
	return NewIPLDInput(v), nil
}

// Instruction is the (resource, ability, input) triple identifying one unit
// of work. Its CID is the hash of its canonical encoding; two instructions
// with identical fields share a CID, so a Nonce is provided to force
// uniqueness when a workflow needs to run "the same" instruction twice.
type Instruction struct {
	Resource Resource
	Ability  string
	Input    Input
	Nonce    []byte
}

func (ins Instruction) ToIPLD() (ipld.Value, error) {
	inputV, err := ins.Input.ToIPLD()
	if err != nil {
		return ipld.Value{}, err
	}
	fields := map[string]ipld.Value{
		"rsc": ins.Resource.ToIPLD(),
		"op":  ipld.String(ins.Ability),
		"in":  inputV,
	}
	if len(ins.Nonce) > 0 {
		fields["nnc"] = ipld.Bytes(ins.Nonce)
	}
	return ipld.Map(fields), nil
}

func InstructionFromIPLD(v ipld.Value) (Instruction, error) {
	rscV, ok := v.MapGet("rsc")
	if !ok {
		return Instruction{}, fmt.Errorf("%w: instruction missing resource", ErrMissingField)
	}
	resource, err := ResourceFromIPLD(rscV)
	if err != nil {
		return Instruction{}, err
	}
	opV, ok := v.MapGet("op")
	if !ok || opV.Kind() != ipld.KindString {
		return Instruction{}, fmt.Errorf("%w: instruction missing ability", ErrMissingField)
	}
	inV, ok := v.MapGet("in")
	if !ok {
		return Instruction{}, fmt.Errorf("%w: instruction missing input", ErrMissingField)
	}
	input, err := InputFromIPLD(inV)
	if err != nil {
		return Instruction{}, err
	}
	ins := Instruction{Resource: resource, Ability: opV.AsString(), Input: input}
	if nnc, ok := v.MapGet("nnc"); ok && nnc.Kind() == ipld.KindBytes {
		ins.Nonce = nnc.AsBytes()
	}
	return ins, nil
}

// CID computes the instruction's content identity using the module-wide
// default hash (BLAKE2b-256, CID v1).
func (ins Instruction) CID() (ipld.CID, error) {
	v, err := ins.ToIPLD()
	if err != nil {
		return ipld.CID{}, err
	}
	c, _, err := ipld.CIDOf(v, ipld.HashBlake2b256, ipld.CIDV1)
	return c, err
}
