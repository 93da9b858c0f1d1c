package model

import "github.com/fluxdag/fluxdag/internal/ipld"

// Node is one instruction-bearing vertex of an ExecutionGraph batch.
type Node struct {
	Instruction ipld.CID
	Task        Task
}

// ExecutionGraph is the scheduler's batched execution plan: a topological
// layering of Nodes (Batches), the set of promises that cross the
// workflow's boundary in either direction, and the resources every batch
// references.
type ExecutionGraph struct {
	// Batches holds the full topological layering of the workflow. For
	// any edge u->v, u's batch index is strictly less than v's.
	Batches [][]Node

	// InFlow maps an instruction CID to the in-workflow instruction CIDs
	// it awaits (promises resolved entirely within this workflow).
	InFlow map[string][]ipld.CID

	// OutFlow maps an instruction CID to task CIDs it awaits that live
	// outside this workflow (resolved via the local store or a peer).
	OutFlow map[string][]ipld.CID

	Resources IndexedResources
}

// NewExecutionGraph builds an empty graph ready for population.
func NewExecutionGraph() *ExecutionGraph {
	return &ExecutionGraph{
		InFlow:    map[string][]ipld.CID{},
		OutFlow:   map[string][]ipld.CID{},
		Resources: NewIndexedResources(),
	}
}

// Len returns the total number of nodes across all batches.
func (g *ExecutionGraph) Len() int {
	n := 0
	for _, b := range g.Batches {
		n += len(b)
	}
	return n
}

// OutstandingOutFlow returns the deduplicated set of out-of-workflow task
// CIDs referenced anywhere in the graph.
func (g *ExecutionGraph) OutstandingOutFlow() []ipld.CID {
	seen := map[string]bool{}
	var out []ipld.CID
	for _, cids := range g.OutFlow {
		for _, c := range cids {
			k := c.String()
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, c)
		}
	}
	return out
}
