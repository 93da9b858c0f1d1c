package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
)

func mustInsCID(t *testing.T, resource string, arg int64) ipld.CID {
	t.Helper()
	r, err := model.ParseResourceURL(resource)
	require.NoError(t, err)
	c, err := model.Instruction{Resource: r, Ability: "wasm/run", Input: model.NewIPLDInput(ipld.List(ipld.Int(arg)))}.CID()
	require.NoError(t, err)
	return c
}

func lookupFrom(receipts map[string]model.Receipt) Lookup {
	return func(_ context.Context, task ipld.CID) (model.Receipt, bool, error) {
		r, ok := receipts[task.String()]
		return r, ok, nil
	}
}

func TestResolveDeferredInputFound(t *testing.T) {
	taskCID := mustInsCID(t, "ipfs://a", 1)
	receipts := map[string]model.Receipt{
		taskCID.String(): model.NewOkReceipt(taskCID, "add_one", ipld.Int(2)),
	}
	in := model.NewAwaitInput(model.Await{Task: taskCID, Branch: model.BranchOk})
	out, err := Resolve(context.Background(), in, lookupFrom(receipts))
	require.NoError(t, err)
	require.Equal(t, model.InputArg, out.Kind())
	require.True(t, out.Arg().Equal(ipld.Int(2)))
}

func TestResolveDeferredInputNotFoundStaysDeferred(t *testing.T) {
	taskCID := mustInsCID(t, "ipfs://a", 1)
	in := model.NewAwaitInput(model.Await{Task: taskCID, Branch: model.BranchOk})
	out, err := Resolve(context.Background(), in, lookupFrom(nil))
	require.NoError(t, err)
	require.True(t, out.IsDeferred())
}

func TestResolveDeferredBranchMismatchStaysDeferred(t *testing.T) {
	taskCID := mustInsCID(t, "ipfs://a", 1)
	receipts := map[string]model.Receipt{
		taskCID.String(): model.NewErrReceipt(taskCID, "add_one", "boom"),
	}
	in := model.NewAwaitInput(model.Await{Task: taskCID, Branch: model.BranchOk})
	out, err := Resolve(context.Background(), in, lookupFrom(receipts))
	require.NoError(t, err)
	require.True(t, out.IsDeferred())
}

func TestResolveNestedAwaitInsideList(t *testing.T) {
	taskCID := mustInsCID(t, "ipfs://a", 1)
	receipts := map[string]model.Receipt{
		taskCID.String(): model.NewOkReceipt(taskCID, "add_one", ipld.Int(2)),
	}
	nested := ipld.List(
		ipld.Int(1),
		ipld.Wrap(awaitTag, model.Await{Task: taskCID, Branch: model.BranchOk}.ToIPLD()),
	)
	in := model.NewIPLDInput(nested)
	out, err := Resolve(context.Background(), in, lookupFrom(receipts))
	require.NoError(t, err)
	require.Equal(t, model.InputArg, out.Kind())
	require.True(t, out.Arg().AsList()[1].Equal(ipld.Int(2)))
}

func TestResolveNestedAwaitInsideMapStaysIPLDWhenPartial(t *testing.T) {
	taskA := mustInsCID(t, "ipfs://a", 1)
	taskB := mustInsCID(t, "ipfs://b", 2)
	receipts := map[string]model.Receipt{
		taskA.String(): model.NewOkReceipt(taskA, "add_one", ipld.Int(2)),
	}
	nested := ipld.Map(map[string]ipld.Value{
		"resolved":   ipld.Wrap(awaitTag, model.Await{Task: taskA, Branch: model.BranchOk}.ToIPLD()),
		"unresolved": ipld.Wrap(awaitTag, model.Await{Task: taskB, Branch: model.BranchOk}.ToIPLD()),
	})
	in := model.NewIPLDInput(nested)
	out, err := Resolve(context.Background(), in, lookupFrom(receipts))
	require.NoError(t, err)
	require.Equal(t, model.InputIPLD, out.Kind())
	require.True(t, HasDeferred(out.IPLD()))
	resolvedV, _ := out.IPLD().MapGet("resolved")
	require.True(t, resolvedV.Equal(ipld.Int(2)))
}

func TestResolveBranchAny(t *testing.T) {
	taskCID := mustInsCID(t, "ipfs://a", 1)
	receipts := map[string]model.Receipt{
		taskCID.String(): model.NewErrReceipt(taskCID, "add_one", "boom"),
	}
	in := model.NewAwaitInput(model.Await{Task: taskCID, Branch: model.BranchAny})
	out, err := Resolve(context.Background(), in, lookupFrom(receipts))
	require.NoError(t, err)
	require.Equal(t, model.InputArg, out.Kind())
	require.Equal(t, "boom", out.Arg().AsString())
}

func TestResolveRecursionBudgetExceeded(t *testing.T) {
	// Build a list nested 11 levels deep, well past the budget of 5.
	v := ipld.List(ipld.Int(1))
	for i := 0; i < 10; i++ {
		v = ipld.List(v)
	}
	in := model.NewIPLDInput(v)
	_, err := ResolveWithBudget(context.Background(), in, lookupFrom(nil), 5)
	require.ErrorIs(t, err, ErrRecursionBudget)
}
