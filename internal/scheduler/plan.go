package scheduler

import (
	"context"
	"fmt"

	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
	"github.com/fluxdag/fluxdag/internal/resolver"
	"github.com/fluxdag/fluxdag/internal/store"
)

const awaitTag = "ipvm/await"

// FetchFunc fetches bytes for a set of resources, keyed by each resource's
// Normalized() form in the returned map. Implementations should wrap
// failures in ErrResourceUnknown or ErrFetchFailed as appropriate.
type FetchFunc func(ctx context.Context, resources []model.Resource) (map[string][]byte, error)

// SchedulerContext is the scheduler's output: the batched plan split at
// the resume point, an initial link map seeded from receipts already on
// hand, and the resource bytes the remaining batches need.
type SchedulerContext struct {
	Graph *model.ExecutionGraph

	// Ran is the prefix of batches already fully satisfied by stored
	// receipts.
	Ran [][]model.Node

	// Run is the remaining, not-yet-satisfied suffix of batches.
	Run [][]model.Node

	// ResumeStep is the index (within Graph.Batches) of the first batch
	// in Run, or None if the workflow is already fully done.
	ResumeStep Option[int]

	// LinkMap holds the stored receipts of the tasks in Ran (receipts of
	// later batches are left out) and of any out-flow awaits found in the
	// store during planning, keyed by instruction CID string.
	LinkMap map[string]model.Receipt

	// Resources holds the fetched bytes for every resource referenced
	// by a Run instruction, keyed by Resource.Normalized().
	Resources map[string][]byte
}

// dependency graph edge, internal to Plan.
type depEdge struct {
	from ipld.CID // the awaiting instruction
	to   ipld.CID // the awaited instruction (in-flow only)
}

// plannedTask pairs a task with its precomputed instruction CID and
// decoded instruction, so later passes don't re-derive them.
type plannedTask struct {
	cid  ipld.CID
	task model.Task
	ins  model.Instruction
}

// Plan builds the batched execution graph for inv, reconciles it against
// rs, and fetches the resources the remaining work needs.
func Plan(ctx context.Context, inv model.Invocation, rs store.ReceiptStore, fetch FetchFunc) (*SchedulerContext, error) {
	tasks := inv.Tasks()

	infos := make([]plannedTask, 0, len(tasks))
	seen := map[string]bool{}
	for _, t := range tasks {
		cid, err := t.InstructionCID()
		if err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
		key := cid.String()
		if seen[key] {
			return nil, ErrDuplicateTasks
		}
		seen[key] = true
		ins := t.Instruction
		if ins == nil {
			return nil, fmt.Errorf("scheduler: linked-only task %s not resolvable without instruction store", cid)
		}
		infos = append(infos, plannedTask{cid: cid, task: t, ins: *ins})
	}

	graph := model.NewExecutionGraph()
	var edges []depEdge
	for _, info := range infos {
		awaits, err := collectTaskAwaits(info.ins)
		if err != nil {
			return nil, err
		}
		for _, a := range awaits {
			if seen[a.Task.String()] {
				edges = append(edges, depEdge{from: info.cid, to: a.Task})
				graph.InFlow[info.cid.String()] = append(graph.InFlow[info.cid.String()], a.Task)
			} else {
				graph.OutFlow[info.cid.String()] = append(graph.OutFlow[info.cid.String()], a.Task)
			}
		}
		graph.Resources.Put(info.cid, []model.Resource{info.ins.Resource})
	}

	batches, err := layerBatches(infos, edges)
	if err != nil {
		return nil, err
	}
	graph.Batches = batches

	batchSatisfied := make([]bool, len(batches))
	linkMap := map[string]model.Receipt{}
	for i, batch := range batches {
		ok := true
		for _, node := range batch {
			r, found, err := rs.GetByInstruction(ctx, node.Instruction)
			if err != nil {
				return nil, fmt.Errorf("scheduler: reconcile: %w", err)
			}
			if !found {
				ok = false
				continue
			}
			linkMap[node.Instruction.String()] = r
		}
		batchSatisfied[i] = ok
	}

	k := -1
	for i := 0; i < len(batches); i++ {
		if !batchSatisfied[i] {
			break
		}
		k = i
	}

	var resume Option[int]
	if k+1 < len(batches) {
		resume = Some(k + 1)
	} else {
		resume = None[int]()
	}

	ran := batches[:k+1]
	run := batches[k+1:]

	// A receipt for a batch not in the satisfied prefix is stale for our
	// purposes (it belongs to a future re-run), so drop it from the link
	// map; only the satisfied prefix's receipts seed resumption.
	for i := k + 1; i < len(batches); i++ {
		for _, node := range batches[i] {
			delete(linkMap, node.Instruction.String())
		}
	}

	for instrKey, outflows := range graph.OutFlow {
		for _, oc := range outflows {
			if _, already := linkMap[oc.String()]; already {
				continue
			}
			r, found, err := rs.GetByInstruction(ctx, oc)
			if err != nil {
				return nil, fmt.Errorf("scheduler: outflow reconcile %s: %w", instrKey, err)
			}
			if found {
				linkMap[oc.String()] = r
			}
		}
	}

	resourceSet := map[string]model.Resource{}
	for _, batch := range run {
		for _, node := range batch {
			for _, r := range graph.Resources[node.Instruction.String()] {
				resourceSet[r.Normalized()] = r
			}
		}
	}
	resourceList := make([]model.Resource, 0, len(resourceSet))
	for _, r := range resourceSet {
		resourceList = append(resourceList, r)
	}

	fetched := map[string][]byte{}
	if len(resourceList) > 0 {
		var err error
		fetched, err = fetch(ctx, resourceList)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
		for _, r := range resourceList {
			if _, ok := fetched[r.Normalized()]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrResourceUnknown, r.Normalized())
			}
		}
	}

	return &SchedulerContext{
		Graph:      graph,
		Ran:        ran,
		Run:        run,
		ResumeStep: resume,
		LinkMap:    linkMap,
		Resources:  fetched,
	}, nil
}

// collectTaskAwaits extracts every Await an instruction's input references,
// whether it is the input itself (InputDeferred) or nested arbitrarily deep
// inside an IPLD tree (InputIPLD).
func collectTaskAwaits(ins model.Instruction) ([]model.Await, error) {
	switch ins.Input.Kind() {
	case model.InputDeferred:
		return []model.Await{ins.Input.Await()}, nil
	case model.InputIPLD:
		capsules := resolver.CollectAwaits(ins.Input.IPLD())
		awaits := make([]model.Await, 0, len(capsules))
		for _, c := range capsules {
			_, inner, err := ipld.Unwrap(c, awaitTag)
			if err != nil {
				return nil, fmt.Errorf("scheduler: unwrap await: %w", err)
			}
			a, err := model.AwaitFromIPLD(inner)
			if err != nil {
				return nil, fmt.Errorf("scheduler: decode await: %w", err)
			}
			awaits = append(awaits, a)
		}
		return awaits, nil
	default:
		return nil, nil
	}
}

// layerBatches computes a Kahn's-algorithm topological layering over the
// in-flow edges only; out-flow awaits are resolved externally and never
// participate in this workflow's own ordering.
func layerBatches(infos []plannedTask, edges []depEdge) ([][]model.Node, error) {
	indegree := make(map[string]int, len(infos))
	dependents := make(map[string][]string)
	byKey := make(map[string]model.Node, len(infos))
	for _, info := range infos {
		key := info.cid.String()
		indegree[key] = 0
		byKey[key] = model.Node{Instruction: info.cid, Task: info.task}
	}
	for _, e := range edges {
		indegree[e.from.String()]++
		dependents[e.to.String()] = append(dependents[e.to.String()], e.from.String())
	}

	var batches [][]model.Node
	remaining := len(infos)
	frontier := make([]string, 0, len(infos))
	for key, d := range indegree {
		if d == 0 {
			frontier = append(frontier, key)
		}
	}
	for len(frontier) > 0 {
		batch := make([]model.Node, 0, len(frontier))
		for _, key := range frontier {
			batch = append(batch, byKey[key])
		}
		batches = append(batches, batch)
		remaining -= len(frontier)

		var next []string
		for _, key := range frontier {
			for _, dep := range dependents[key] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}
	if remaining != 0 {
		return nil, ErrCycleDetected
	}
	return batches, nil
}
