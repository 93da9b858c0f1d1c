package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
	"github.com/fluxdag/fluxdag/internal/notify"
	"github.com/fluxdag/fluxdag/internal/store"
)

type fakeInvoker struct{}

func (fakeInvoker) Invoke(ctx context.Context, module []byte, ability string, input ipld.Value) (ipld.Value, error) {
	return ipld.Int(input.AsList()[0].AsInt() + 1), nil
}

func noopFetch(ctx context.Context, resources []model.Resource) (map[string][]byte, error) {
	out := make(map[string][]byte, len(resources))
	for _, r := range resources {
		out[r.Normalized()] = []byte("wasm-bytes")
	}
	return out, nil
}

func mustResource(t *testing.T, raw string) model.Resource {
	t.Helper()
	r, err := model.ParseResourceURL(raw)
	require.NoError(t, err)
	return r
}

func singleTaskInvocation(t *testing.T) model.Invocation {
	t.Helper()
	ins := model.Instruction{
		Resource: mustResource(t, "ipfs://bafkaddmodule"),
		Ability:  "wasm/run",
		Input:    model.NewIPLDInput(ipld.List(ipld.Int(41))),
	}
	task := model.NewInlineTask(ins, model.ResourceConfig{Fuel: 1000, TimeCap: time.Second})
	return model.Invocation{Run: map[model.TaskLabel]model.Task{"step": task}}
}

func TestRunWorkflowCompletesAndPersistsReceipt(t *testing.T) {
	st := store.NewMemory()
	bus := notify.NewBus(16)
	r := New(Config{
		Store:      st,
		Fetch:      noopFetch,
		Invoker:    fakeInvoker{},
		Notify:     bus,
		GCInterval: 50 * time.Millisecond,
		WorkerTTL:  50 * time.Millisecond,
	})
	defer r.Shutdown()

	inv := singleTaskInvocation(t)
	info, err := r.RunWorkflow(context.Background(), "trivial", inv)
	require.NoError(t, err)
	require.Equal(t, 1, info.NumTasks)

	workflowCID, err := inv.CID()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		wi, ok, err := st.GetWorkflowInfo(context.Background(), workflowCID)
		return err == nil && ok && wi.Status() == model.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	task := inv.Tasks()[0]
	insCID, err := task.InstructionCID()
	require.NoError(t, err)
	receipt, found, err := st.GetByInstruction(context.Background(), insCID)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, receipt.Ok)
	require.Equal(t, int64(42), receipt.Result.AsInt())
}

func TestRunWorkflowIsIdempotentWhileInFlight(t *testing.T) {
	st := store.NewMemory()
	r := New(Config{
		Store:   st,
		Fetch:   noopFetch,
		Invoker: fakeInvoker{},
		Notify:  notify.NewBus(16),
	})
	defer r.Shutdown()

	inv := singleTaskInvocation(t)
	info1, err := r.RunWorkflow(context.Background(), "trivial", inv)
	require.NoError(t, err)
	info2, err := r.RunWorkflow(context.Background(), "trivial", inv)
	require.NoError(t, err)
	require.Same(t, info1, info2)
}

func TestMaintainSweepsExpiredWorkers(t *testing.T) {
	st := store.NewMemory()
	r := New(Config{
		Store:      st,
		Fetch:      noopFetch,
		Invoker:    fakeInvoker{},
		Notify:     notify.NewBus(16),
		GCInterval: 20 * time.Millisecond,
		WorkerTTL:  20 * time.Millisecond,
	})
	defer r.Shutdown()

	inv := singleTaskInvocation(t)
	_, err := r.RunWorkflow(context.Background(), "trivial", inv)
	require.NoError(t, err)

	workflowCID, err := inv.CID()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := r.Status(workflowCID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "expired worker handle should eventually be swept")
}

func TestSaveAndLoadWorkflowInfoFile(t *testing.T) {
	wf, err := model.Instruction{
		Resource: mustResource(t, "ipfs://wf"),
		Ability:  "wasm/run",
		Input:    model.NewIPLDInput(ipld.Int(1)),
	}.CID()
	require.NoError(t, err)

	wi := model.NewWorkflowInfo(wf, "snapshot", 1, model.NewIndexedResources())
	path := t.TempDir() + "/workflow-info.json"
	require.NoError(t, SaveWorkflowInfoFile(path, wi))

	back, err := LoadWorkflowInfoFile(path)
	require.NoError(t, err)
	require.Equal(t, wi.Name, back.Name)
	require.Equal(t, wi.NumTasks, back.NumTasks)
	require.True(t, wi.Workflow.Equal(back.Workflow))
}
