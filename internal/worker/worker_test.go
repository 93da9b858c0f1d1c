package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
	"github.com/fluxdag/fluxdag/internal/notify"
	"github.com/fluxdag/fluxdag/internal/scheduler"
	"github.com/fluxdag/fluxdag/internal/store"
)

// addOneInvoker treats every invocation as add_one on a single-element
// list input, grounded on spec.md §8 scenario 1/2's "add_one" fixture.
type addOneInvoker struct{ calls int }

func (a *addOneInvoker) Invoke(_ context.Context, _ []byte, ability string, input ipld.Value) (ipld.Value, error) {
	a.calls++
	items := input.AsList()
	return ipld.List(ipld.Int(items[0].AsInt() + 1)), nil
}

func noopFetch(_ context.Context, resources []model.Resource) (map[string][]byte, error) {
	out := map[string][]byte{}
	for _, r := range resources {
		out[r.Normalized()] = []byte("wasm-bytes:" + r.Normalized())
	}
	return out, nil
}

func mustResource(t *testing.T, url string) model.Resource {
	t.Helper()
	r, err := model.ParseResourceURL(url)
	require.NoError(t, err)
	return r
}

func inlineTask(t *testing.T, resource model.Resource, ability string, input model.Input) model.Task {
	t.Helper()
	ins := model.Instruction{Resource: resource, Ability: ability, Input: input}
	return model.NewInlineTask(ins, model.ResourceConfig{Fuel: 1000})
}

// TestWorkerTrivialIncrement covers spec.md §8 scenario 1: a single task
// produces exactly one Ok(2) receipt and advances progress_count to 1.
func TestWorkerTrivialIncrement(t *testing.T) {
	resource := mustResource(t, "ipfs://mod-a")
	task := inlineTask(t, resource, "wasm/run", model.NewIPLDInput(ipld.List(ipld.Int(1))))
	cid, err := task.InstructionCID()
	require.NoError(t, err)

	inv := model.Invocation{Run: map[model.TaskLabel]model.Task{"a": task}}
	workflowCID, err := inv.CID()
	require.NoError(t, err)

	mem := store.NewMemory()
	bus := notify.NewBus(16)
	captured := bus.Subscribe(notify.CapturedReceipt)
	invoker := &addOneInvoker{}

	info := model.NewWorkflowInfo(workflowCID, "trivial", 1, model.NewIndexedResources())
	w := New(Config{Store: mem, Fetch: noopFetch, Invoker: invoker, Notify: bus}, workflowCID, "trivial", info)

	require.NoError(t, w.Run(context.Background(), inv))

	require.Equal(t, 1, invoker.calls)
	require.Equal(t, model.StatusCompleted, info.Status())
	require.Equal(t, 1, info.ProgressCount())

	receipt, found, err := mem.GetByInstruction(context.Background(), cid)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, receipt.Ok)
	require.Equal(t, int64(2), receipt.Result.AsList()[0].AsInt())

	select {
	case e := <-captured:
		require.Equal(t, notify.CapturedReceipt, e.Tag)
	case <-time.After(time.Second):
		t.Fatal("expected one CapturedReceipt notification")
	}
}

// TestWorkerChainedAwaitResolvesPriorOutput covers spec.md §8 scenario 2:
// T2 awaits T1's ok branch and receives T1's materialized output as its
// resolved input.
func TestWorkerChainedAwaitResolvesPriorOutput(t *testing.T) {
	resA := mustResource(t, "ipfs://mod-a")
	taskA := inlineTask(t, resA, "wasm/run", model.NewIPLDInput(ipld.List(ipld.Int(1))))
	cidA, err := taskA.InstructionCID()
	require.NoError(t, err)

	resB := mustResource(t, "ipfs://mod-b")
	taskB := inlineTask(t, resB, "wasm/run", model.NewAwaitInput(model.Await{Task: cidA, Branch: model.BranchOk}))
	cidB, err := taskB.InstructionCID()
	require.NoError(t, err)

	inv := model.Invocation{Run: map[model.TaskLabel]model.Task{"a": taskA, "b": taskB}}
	workflowCID, err := inv.CID()
	require.NoError(t, err)

	mem := store.NewMemory()
	bus := notify.NewBus(16)
	invoker := &addOneInvoker{}

	info := model.NewWorkflowInfo(workflowCID, "chained", 2, model.NewIndexedResources())
	w := New(Config{Store: mem, Fetch: noopFetch, Invoker: invoker, Notify: bus}, workflowCID, "chained", info)

	require.NoError(t, w.Run(context.Background(), inv))

	require.Equal(t, 2, invoker.calls)
	require.Equal(t, 2, info.ProgressCount())

	rA, found, err := mem.GetByInstruction(context.Background(), cidA)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(2), rA.Result.AsList()[0].AsInt())

	rB, found, err := mem.GetByInstruction(context.Background(), cidB)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(3), rB.Result.AsList()[0].AsInt())
}

// TestWorkerReplaysWhenAllReceiptsAlreadyStored covers spec.md §8 scenario
// 4: a second submission of an already-completed workflow makes no new
// Wasm calls and emits a replay notification instead.
func TestWorkerReplaysWhenAllReceiptsAlreadyStored(t *testing.T) {
	resource := mustResource(t, "ipfs://mod-a")
	task := inlineTask(t, resource, "wasm/run", model.NewIPLDInput(ipld.List(ipld.Int(1))))
	cid, err := task.InstructionCID()
	require.NoError(t, err)

	inv := model.Invocation{Run: map[model.TaskLabel]model.Task{"a": task}}
	workflowCID, err := inv.CID()
	require.NoError(t, err)

	mem := store.NewMemory()
	require.NoError(t, mem.Put(context.Background(), model.NewOkReceipt(cid, "wasm/run", ipld.List(ipld.Int(2)))))

	bus := notify.NewBus(16)
	replay := bus.Subscribe(notify.ReplayReceipts)
	invoker := &addOneInvoker{}

	info := model.NewWorkflowInfo(workflowCID, "replay", 1, model.NewIndexedResources())
	w := New(Config{Store: mem, Fetch: noopFetch, Invoker: invoker, Notify: bus}, workflowCID, "replay", info)

	require.NoError(t, w.Run(context.Background(), inv))

	require.Equal(t, 0, invoker.calls)
	require.Equal(t, model.StatusCompleted, info.Status())

	select {
	case e := <-replay:
		instrs := e.Fields["instructions"].AsList()
		require.Len(t, instrs, 1)
	case <-time.After(time.Second):
		t.Fatal("expected a ReplayReceipts notification")
	}
}

var _ = scheduler.FetchFunc(noopFetch)
