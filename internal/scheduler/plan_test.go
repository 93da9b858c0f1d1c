package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
	"github.com/fluxdag/fluxdag/internal/store"
)

func mustResource(t *testing.T, url string) model.Resource {
	t.Helper()
	r, err := model.ParseResourceURL(url)
	require.NoError(t, err)
	return r
}

func noopFetch(_ context.Context, resources []model.Resource) (map[string][]byte, error) {
	out := map[string][]byte{}
	for _, r := range resources {
		out[r.Normalized()] = []byte("wasm-bytes:" + r.Normalized())
	}
	return out, nil
}

func inlineTask(t *testing.T, resource model.Resource, ability string, input model.Input, nonce []byte) model.Task {
	t.Helper()
	ins := model.Instruction{Resource: resource, Ability: ability, Input: input, Nonce: nonce}
	return model.NewInlineTask(ins, model.ResourceConfig{Fuel: 1000})
}

func TestPlanSingleTaskNoDeps(t *testing.T) {
	resource := mustResource(t, "ipfs://mod-a")
	task := inlineTask(t, resource, "wasm/run", model.NewIPLDInput(ipld.List(ipld.Int(1))), nil)
	inv := model.Invocation{Run: map[model.TaskLabel]model.Task{"a": task}}

	sc, err := Plan(context.Background(), inv, store.NewMemory(), noopFetch)
	require.NoError(t, err)
	require.Len(t, sc.Graph.Batches, 1)
	require.Len(t, sc.Ran, 0)
	require.Len(t, sc.Run, 1)
	step, ok := sc.ResumeStep.Get()
	require.True(t, ok)
	require.Equal(t, 0, step)
	require.Len(t, sc.Resources, 1)
}

func TestPlanChainedAwaitBatchesInOrder(t *testing.T) {
	resA := mustResource(t, "ipfs://mod-a")
	taskA := inlineTask(t, resA, "wasm/run", model.NewIPLDInput(ipld.List(ipld.Int(1))), nil)
	cidA, err := taskA.InstructionCID()
	require.NoError(t, err)

	resB := mustResource(t, "ipfs://mod-b")
	taskB := inlineTask(t, resB, "wasm/run", model.NewAwaitInput(model.Await{Task: cidA, Branch: model.BranchOk}), nil)

	inv := model.Invocation{Run: map[model.TaskLabel]model.Task{"a": taskA, "b": taskB}}
	sc, err := Plan(context.Background(), inv, store.NewMemory(), noopFetch)
	require.NoError(t, err)
	require.Len(t, sc.Graph.Batches, 2)
	require.Len(t, sc.Graph.Batches[0], 1)
	require.Equal(t, cidA.String(), sc.Graph.Batches[0][0].Instruction.String())
	require.Len(t, sc.Graph.Batches[1], 1)
}

func TestPlanDuplicateInstructionRejected(t *testing.T) {
	resource := mustResource(t, "ipfs://mod-a")
	task := inlineTask(t, resource, "wasm/run", model.NewIPLDInput(ipld.List(ipld.Int(1))), nil)
	inv := model.Invocation{Run: map[model.TaskLabel]model.Task{"a": task, "b": task}}

	_, err := Plan(context.Background(), inv, store.NewMemory(), noopFetch)
	require.ErrorIs(t, err, ErrDuplicateTasks)
}

func TestPlanReconciliationResumesPastSatisfiedBatch(t *testing.T) {
	resA := mustResource(t, "ipfs://mod-a")
	taskA := inlineTask(t, resA, "wasm/run", model.NewIPLDInput(ipld.List(ipld.Int(1))), nil)
	cidA, err := taskA.InstructionCID()
	require.NoError(t, err)

	resB := mustResource(t, "ipfs://mod-b")
	taskB := inlineTask(t, resB, "wasm/run", model.NewAwaitInput(model.Await{Task: cidA, Branch: model.BranchOk}), nil)

	inv := model.Invocation{Run: map[model.TaskLabel]model.Task{"a": taskA, "b": taskB}}

	mem := store.NewMemory()
	require.NoError(t, mem.Put(context.Background(), model.NewOkReceipt(cidA, "wasm/run", ipld.Int(2))))

	sc, err := Plan(context.Background(), inv, mem, noopFetch)
	require.NoError(t, err)
	require.Len(t, sc.Ran, 1)
	require.Len(t, sc.Run, 1)
	step, ok := sc.ResumeStep.Get()
	require.True(t, ok)
	require.Equal(t, 1, step)
	_, seeded := sc.LinkMap[cidA.String()]
	require.True(t, seeded)
}

func TestPlanFullyReconciledWorkflowHasNoResumeStep(t *testing.T) {
	resource := mustResource(t, "ipfs://mod-a")
	task := inlineTask(t, resource, "wasm/run", model.NewIPLDInput(ipld.List(ipld.Int(1))), nil)
	cid, err := task.InstructionCID()
	require.NoError(t, err)

	inv := model.Invocation{Run: map[model.TaskLabel]model.Task{"a": task}}
	mem := store.NewMemory()
	require.NoError(t, mem.Put(context.Background(), model.NewOkReceipt(cid, "wasm/run", ipld.Int(2))))

	sc, err := Plan(context.Background(), inv, mem, noopFetch)
	require.NoError(t, err)
	require.Len(t, sc.Ran, 1)
	require.Len(t, sc.Run, 0)
	_, ok := sc.ResumeStep.Get()
	require.False(t, ok)
}

func TestPlanOutFlowAwaitResolvedFromStore(t *testing.T) {
	external, err := model.Instruction{
		Resource: mustResource(t, "ipfs://mod-external"),
		Ability:  "wasm/run",
		Input:    model.NewIPLDInput(ipld.List(ipld.Int(9))),
	}.CID()
	require.NoError(t, err)

	resB := mustResource(t, "ipfs://mod-b")
	taskB := inlineTask(t, resB, "wasm/run", model.NewAwaitInput(model.Await{Task: external, Branch: model.BranchOk}), nil)
	inv := model.Invocation{Run: map[model.TaskLabel]model.Task{"b": taskB}}

	mem := store.NewMemory()
	require.NoError(t, mem.Put(context.Background(), model.NewOkReceipt(external, "wasm/run", ipld.Int(42))))

	sc, err := Plan(context.Background(), inv, mem, noopFetch)
	require.NoError(t, err)
	r, ok := sc.LinkMap[external.String()]
	require.True(t, ok)
	require.True(t, r.Result.Equal(ipld.Int(42)))
}

func TestPlanFetchesOnlyRunResources(t *testing.T) {
	resA := mustResource(t, "ipfs://mod-a")
	taskA := inlineTask(t, resA, "wasm/run", model.NewIPLDInput(ipld.List(ipld.Int(1))), nil)
	cidA, err := taskA.InstructionCID()
	require.NoError(t, err)

	resB := mustResource(t, "ipfs://mod-b")
	taskB := inlineTask(t, resB, "wasm/run", model.NewAwaitInput(model.Await{Task: cidA, Branch: model.BranchOk}), nil)

	inv := model.Invocation{Run: map[model.TaskLabel]model.Task{"a": taskA, "b": taskB}}
	mem := store.NewMemory()
	require.NoError(t, mem.Put(context.Background(), model.NewOkReceipt(cidA, "wasm/run", ipld.Int(2))))

	var fetchedKeys []string
	fetch := func(_ context.Context, resources []model.Resource) (map[string][]byte, error) {
		out := map[string][]byte{}
		for _, r := range resources {
			fetchedKeys = append(fetchedKeys, r.Normalized())
			out[r.Normalized()] = []byte("bytes")
		}
		return out, nil
	}

	_, err = Plan(context.Background(), inv, mem, fetch)
	require.NoError(t, err)
	require.Equal(t, []string{resB.Normalized()}, fetchedKeys)
}

func TestPlanResourceUnknownWhenFetchOmitsEntry(t *testing.T) {
	resource := mustResource(t, "ipfs://mod-a")
	task := inlineTask(t, resource, "wasm/run", model.NewIPLDInput(ipld.List(ipld.Int(1))), nil)
	inv := model.Invocation{Run: map[model.TaskLabel]model.Task{"a": task}}

	fetch := func(_ context.Context, _ []model.Resource) (map[string][]byte, error) {
		return map[string][]byte{}, nil
	}
	_, err := Plan(context.Background(), inv, store.NewMemory(), fetch)
	require.ErrorIs(t, err, ErrResourceUnknown)
}
