package runner

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
	"github.com/fluxdag/fluxdag/internal/network"
	"github.com/fluxdag/fluxdag/internal/network/dht"
	"github.com/fluxdag/fluxdag/internal/notify"
	"github.com/fluxdag/fluxdag/internal/store"
)

// countingInvoker is addOneInvoker's runner-package counterpart, kept
// separate from fakeInvoker in runner_test.go so each peer's invocation count can be
// asserted independently.
type countingInvoker struct{ calls int32 }

func (c *countingInvoker) Invoke(_ context.Context, _ []byte, _ string, input ipld.Value) (ipld.Value, error) {
	atomic.AddInt32(&c.calls, 1)
	items := input.AsList()
	return ipld.List(ipld.Int(items[0].AsInt() + 1)), nil
}

// peerPair is a two-node fixture sharing one Redis keyspace (via
// miniredis) for the DHT and a real loopback gRPC connection for
// request/response, used to exercise spec.md §8 scenarios 5-6 without
// a real Redis server or real network.
type peerPair struct {
	storeA, storeB   store.ReceiptStore
	notifyA, notifyB *notify.Bus
	netA, netB       *network.Loop
	dhtA, dhtB       *dht.Table
	runnerA, runnerB *Runner
	invokerA         *countingInvoker
	invokerB         *countingInvoker
}

func newPeerPair(t *testing.T, ctx context.Context) *peerPair {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdbA.Close(); rdbB.Close() })

	const namespace = "fluxdag-e2e"
	dhtA := dht.New(rdbA, namespace, 0)
	dhtB := dht.New(rdbB, namespace, 0)

	lisA, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { lisA.Close() })

	storeA, storeB := store.NewMemory(), store.NewMemory()
	notifyA, notifyB := notify.NewBus(32), notify.NewBus(32)

	cfgA := network.Config{PeerID: "nodeA", ListenAddr: lisA.Addr().String(), Namespace: namespace}
	netA := network.New(cfgA, dhtA, nil, storeA, notifyA)
	grpcServer := netA.NewServer()
	go grpcServer.Serve(lisA)
	t.Cleanup(grpcServer.GracefulStop)

	cfgB := network.Config{
		PeerID:    "nodeB",
		Namespace: namespace,
		KnownPeers: []network.PeerAddr{
			{ID: "nodeA", Addr: lisA.Addr().String()},
		},
	}
	netB := network.New(cfgB, dhtB, nil, storeB, notifyB)

	go netA.Run(ctx)
	go netB.Run(ctx)
	// give both loops a moment to finish their startup dial so B's
	// swarm has nodeA connected before a test sends OutboundRequest.
	time.Sleep(50 * time.Millisecond)

	invokerA := &countingInvoker{}
	invokerB := &countingInvoker{}

	runnerA := New(Config{
		Store: storeA, Fetch: noopFetch, Invoker: invokerA, Notify: notifyA,
		Net: netA, PeerLookup: network.NewPeerLookup(netA),
		PeerLookupTimeout: time.Second, GCInterval: time.Hour, WorkerTTL: time.Hour,
	})
	runnerB := New(Config{
		Store: storeB, Fetch: noopFetch, Invoker: invokerB, Notify: notifyB,
		Net: netB, PeerLookup: network.NewPeerLookup(netB),
		PeerLookupTimeout: time.Second, GCInterval: time.Hour, WorkerTTL: time.Hour,
	})
	t.Cleanup(runnerA.Shutdown)
	t.Cleanup(runnerB.Shutdown)

	return &peerPair{
		storeA: storeA, storeB: storeB,
		notifyA: notifyA, notifyB: notifyB,
		netA: netA, netB: netB,
		dhtA: dhtA, dhtB: dhtB,
		runnerA: runnerA, runnerB: runnerB,
		invokerA: invokerA, invokerB: invokerB,
	}
}

// TestPeerFetchSatisfiesAwaitViaDht covers spec.md §8 scenario 5: node A
// runs and publishes a single task, node B submits a workflow whose only
// task awaits A's task by CID (an OutFlow await, never re-listed in B's
// own workflow). B's await resolves via a DHT get of A's receipt, with
// no local Wasm invocation for A's task.
func TestPeerFetchSatisfiesAwaitViaDht(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newPeerPair(t, ctx)

	taskA := model.NewInlineTask(model.Instruction{
		Resource: mustResource(t, "ipfs://mod-a"),
		Ability:  "wasm/run",
		Input:    model.NewIPLDInput(ipld.List(ipld.Int(1))),
	}, model.ResourceConfig{Fuel: 1000})
	cidA, err := taskA.InstructionCID()
	require.NoError(t, err)

	invA := model.Invocation{Run: map[model.TaskLabel]model.Task{"a": taskA}}
	_, err = p.runnerA.RunWorkflow(ctx, "scenario5-a", invA)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, found, err := p.storeA.GetByInstruction(ctx, cidA)
		return err == nil && found
	}, 2*time.Second, 10*time.Millisecond, "A's receipt should be captured and DHT-published")
	require.Eventually(t, func() bool {
		_, err := p.dhtB.Get(ctx, cidA.Bytes())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "A's receipt should propagate through the shared DHT before B resolves it")

	gotReceiptDht := p.notifyB.Subscribe(notify.GotReceiptDht)

	taskB := model.NewInlineTask(model.Instruction{
		Resource: mustResource(t, "ipfs://mod-b"),
		Ability:  "wasm/run",
		Input:    model.NewAwaitInput(model.Await{Task: cidA, Branch: model.BranchOk}),
	}, model.ResourceConfig{Fuel: 1000})
	cidB, err := taskB.InstructionCID()
	require.NoError(t, err)

	invB := model.Invocation{Run: map[model.TaskLabel]model.Task{"b": taskB}}
	_, err = p.runnerB.RunWorkflow(ctx, "scenario5-b", invB)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, found, err := p.storeB.GetByInstruction(ctx, cidB)
		return err == nil && found && r.Ok
	}, 2*time.Second, 10*time.Millisecond, "B's await should resolve via peer lookup")

	rB, _, err := p.storeB.GetByInstruction(ctx, cidB)
	require.NoError(t, err)
	require.Equal(t, int64(3), rB.Result.AsList()[0].AsInt())

	require.Equal(t, int32(1), atomic.LoadInt32(&p.invokerA.calls))
	require.Equal(t, int32(1), atomic.LoadInt32(&p.invokerB.calls), "B must invoke Wasm only for its own task")

	select {
	case e := <-gotReceiptDht:
		require.Equal(t, notify.GotReceiptDht, e.Tag)
	case <-time.After(time.Second):
		t.Fatal("expected exactly one GotReceiptDht notification on B")
	}
	select {
	case <-gotReceiptDht:
		t.Fatal("expected exactly one GotReceiptDht notification, got a second")
	default:
	}
}

// TestFetchWorkflowInfoProviderFallback covers spec.md §8 scenario 6: B's
// DHT get for A's workflow info misses (the record was never DHT-put),
// but B discovers A as a provider and fetches the workflow info over the
// request/response transport instead.
func TestFetchWorkflowInfoProviderFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newPeerPair(t, ctx)

	wfCID, err := model.Instruction{
		Resource: mustResource(t, "ipfs://wf-info"),
		Ability:  "wasm/run",
		Input:    model.NewIPLDInput(ipld.Int(1)),
	}.CID()
	require.NoError(t, err)

	wi := model.NewWorkflowInfo(wfCID, "remote-workflow", 1, model.NewIndexedResources())
	require.NoError(t, p.storeA.PutWorkflowInfo(ctx, wi))
	require.NoError(t, p.dhtA.Provide(ctx, wi.Workflow.Bytes(), "nodeA"))

	_, err = p.dhtB.Get(ctx, wfCID.Bytes())
	require.ErrorIs(t, err, dht.ErrNotFound, "the workflow info record itself must not be DHT-visible to B")

	received := p.notifyB.Subscribe(notify.ReceivedWorkflowInfo)

	got, found, err := network.FetchWorkflowInfo(ctx, p.netB, wfCID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "remote-workflow", got.Name)
	require.True(t, got.Workflow.Equal(wfCID))

	select {
	case e := <-received:
		require.True(t, e.Fields["workflow"].AsLink().Equal(wfCID))
	case <-time.After(time.Second):
		t.Fatal("expected a ReceivedWorkflowInfo notification on B")
	}
}
