package model

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxdag/fluxdag/internal/ipld"
)

func mustResource(t *testing.T, raw string) Resource {
	t.Helper()
	r, err := ParseResourceURL(raw)
	require.NoError(t, err)
	return r
}

func TestInstructionRoundTrip(t *testing.T) {
	cases := []Instruction{
		{
			Resource: mustResource(t, "ipfs://bafkaddone"),
			Ability:  "wasm/run",
			Input:    NewIPLDInput(ipld.List(ipld.Int(1))),
		},
		{
			Resource: mustResource(t, "ipfs://bafkaddone"),
			Ability:  "wasm/run",
			Input:    NewIPLDInput(ipld.List(ipld.Int(1))),
			Nonce:    []byte("distinguish-me"),
		},
	}
	for _, ins := range cases {
		v, err := ins.ToIPLD()
		require.NoError(t, err)
		back, err := InstructionFromIPLD(v)
		require.NoError(t, err)
		backV, err := back.ToIPLD()
		require.NoError(t, err)
		require.True(t, v.Equal(backV))
	}
}

func TestInstructionCIDStableAndNonceDistinguishes(t *testing.T) {
	base := Instruction{
		Resource: mustResource(t, "ipfs://bafkaddone"),
		Ability:  "wasm/run",
		Input:    NewIPLDInput(ipld.List(ipld.Int(1))),
	}
	c1, err := base.CID()
	require.NoError(t, err)
	c2, err := base.CID()
	require.NoError(t, err)
	require.True(t, c1.Equal(c2), "CID must be stable across runs")

	withNonce := base
	withNonce.Nonce = []byte("x")
	c3, err := withNonce.CID()
	require.NoError(t, err)
	require.False(t, c1.Equal(c3), "nonce must distinguish otherwise-identical instructions")
}

func TestAwaitRoundTrip(t *testing.T) {
	taskCID, err := Instruction{
		Resource: mustResource(t, "ipfs://bafkaddone"),
		Ability:  "wasm/run",
		Input:    NewIPLDInput(ipld.Int(1)),
	}.CID()
	require.NoError(t, err)

	for _, b := range []Branch{BranchOk, BranchErr, BranchAny} {
		a := Await{Task: taskCID, Branch: b}
		v := a.ToIPLD()
		back, err := AwaitFromIPLD(v)
		require.NoError(t, err)
		require.Equal(t, a.Branch, back.Branch)
		require.True(t, a.Task.Equal(back.Task))
	}
}

func TestReceiptRoundTripAndCID(t *testing.T) {
	insCID, err := Instruction{
		Resource: mustResource(t, "ipfs://bafkaddone"),
		Ability:  "wasm/run",
		Input:    NewIPLDInput(ipld.Int(1)),
	}.CID()
	require.NoError(t, err)

	r := NewOkReceipt(insCID, "add_one", ipld.Int(2))
	v, err := r.ToIPLD()
	require.NoError(t, err)
	back, err := ReceiptFromIPLD(v)
	require.NoError(t, err)
	require.Equal(t, r.Ok, back.Ok)
	require.True(t, r.Result.Equal(back.Result))
	require.Equal(t, "add_one", back.Op())

	c1, err := r.CID()
	require.NoError(t, err)
	c2, err := back.CID()
	require.NoError(t, err)
	require.True(t, c1.Equal(c2))
}

func TestReceiptCapsuleRoundTrip(t *testing.T) {
	insCID, _ := Instruction{
		Resource: mustResource(t, "ipfs://bafkaddone"),
		Ability:  "wasm/run",
		Input:    NewIPLDInput(ipld.Int(1)),
	}.CID()
	r := NewErrReceipt(insCID, "add_one", "trap: divide by zero")
	capV, err := r.Capsule()
	require.NoError(t, err)
	back, err := ReceiptFromCapsule(capV)
	require.NoError(t, err)
	require.False(t, back.Ok)
	require.Equal(t, "trap: divide by zero", back.Result.AsString())
}

func TestWorkflowInfoProgressMonotonic(t *testing.T) {
	wf, err := Instruction{
		Resource: mustResource(t, "ipfs://bafkaddone"),
		Ability:  "wasm/run",
		Input:    NewIPLDInput(ipld.Int(1)),
	}.CID()
	require.NoError(t, err)

	wi := NewWorkflowInfo(wf, "trivial", 2, NewIndexedResources())
	require.Equal(t, StatusPending, wi.Status())

	insA, _ := Instruction{Resource: mustResource(t, "ipfs://a"), Ability: "wasm/run", Input: NewIPLDInput(ipld.Int(1))}.CID()
	wi.RecordProgress(insA)
	wi.RecordProgress(insA) // idempotent
	require.Equal(t, 1, wi.ProgressCount())
	require.Equal(t, len(wi.Progress()), wi.ProgressCount())

	require.NoError(t, wi.SetStatus(StatusRunning))
	require.NoError(t, wi.SetStatus(StatusCompleted))
	require.Error(t, wi.SetStatus(StatusPending))
	require.NoError(t, wi.SetStatus(StatusRunning)) // replay re-entry allowed
}

func TestWorkflowInfoCapsuleRoundTrip(t *testing.T) {
	wf, _ := Instruction{Resource: mustResource(t, "ipfs://wf"), Ability: "wasm/run", Input: NewIPLDInput(ipld.Int(1))}.CID()
	res := NewIndexedResources()
	insA, _ := Instruction{Resource: mustResource(t, "ipfs://a"), Ability: "wasm/run", Input: NewIPLDInput(ipld.Int(1))}.CID()
	res.Put(insA, []Resource{mustResource(t, "ipfs://a")})

	wi := NewWorkflowInfo(wf, "chained", 2, res)
	wi.RecordProgress(insA)
	require.NoError(t, wi.SetStatus(StatusRunning))

	capV, err := wi.Capsule()
	require.NoError(t, err)
	back, err := WorkflowInfoFromCapsule(capV)
	require.NoError(t, err)
	require.Equal(t, wi.NumTasks, back.NumTasks)
	require.Equal(t, wi.ProgressCount(), back.ProgressCount())
	require.Equal(t, wi.Status(), back.Status())
	gotResources, ok := back.Resources.Get(insA)
	require.True(t, ok)
	require.Len(t, gotResources, 1)
}

func TestResourceEqualityNormalizes(t *testing.T) {
	a := mustResource(t, "ipfs://bafkaddone")
	b := mustResource(t, "ipfs://bafkaddone")
	c := mustResource(t, "ipfs://other")
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestIndexedResourcesAllDedups(t *testing.T) {
	ir := NewIndexedResources()
	insA, _ := Instruction{Resource: mustResource(t, "ipfs://a"), Ability: "wasm/run", Input: NewIPLDInput(ipld.Int(1))}.CID()
	insB, _ := Instruction{Resource: mustResource(t, "ipfs://b"), Ability: "wasm/run", Input: NewIPLDInput(ipld.Int(1))}.CID()
	shared := mustResource(t, "ipfs://shared")
	ir.Put(insA, []Resource{shared})
	ir.Put(insB, []Resource{shared, mustResource(t, "ipfs://only-b")})
	all := ir.All()
	require.Len(t, all, 2)
}

func TestCloseBindsTemplate(t *testing.T) {
	tmpl := InstructionTemplate{
		Name:     "increment",
		Resource: mustResource(t, "ipfs://bafkaddone"),
		Ability:  "wasm/run",
	}
	ins := CloseArg(tmpl, ipld.Int(41))
	require.Equal(t, "wasm/run", ins.Ability)
	require.Equal(t, InputIPLD, ins.Input.Kind())
	require.Equal(t, int64(41), ins.Input.IPLD().AsList()[0].AsInt())
}
