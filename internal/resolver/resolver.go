package resolver

import (
	"context"
	"fmt"

	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
)

// awaitTag is the capsule tag model.Input uses to persist a deferred
// Await; resolver recognizes the same tag at any depth of an IPLD tree,
// not just at an Instruction's top-level Input.
const awaitTag = "ipvm/await"

// DefaultRecursionBudget bounds how deep an IPLD tree may nest before
// Resolve gives up rather than growing its explicit worklist forever.
const DefaultRecursionBudget = 4096

// Lookup resolves a task CID to its receipt. ok=false means "not found
// (yet)", which is not an error: the caller's Input stays Deferred. err
// is reserved for failures of the lookup mechanism itself (a broken
// connection, a corrupt store entry).
type Lookup func(ctx context.Context, task ipld.CID) (receipt model.Receipt, ok bool, err error)

// Resolve rewrites in using lookup, with the default recursion budget.
func Resolve(ctx context.Context, in model.Input, lookup Lookup) (model.Input, error) {
	return ResolveWithBudget(ctx, in, lookup, DefaultRecursionBudget)
}

// ResolveWithBudget is Resolve with an explicit stack-growth budget.
func ResolveWithBudget(ctx context.Context, in model.Input, lookup Lookup, budget int) (model.Input, error) {
	switch in.Kind() {
	case model.InputArg:
		return in, nil
	case model.InputDeferred:
		wrapped := ipld.Wrap(awaitTag, in.Await().ToIPLD())
		resolved, err := resolveTree(ctx, wrapped, lookup, budget)
		if err != nil {
			return model.Input{}, err
		}
		if tag, _, ok := resolved.IsCapsule(); ok && tag == awaitTag {
			return in, nil // still not found; remains deferred
		}
		return model.NewArgInput(resolved), nil
	case model.InputIPLD:
		resolved, err := resolveTree(ctx, in.IPLD(), lookup, budget)
		if err != nil {
			return model.Input{}, err
		}
		if HasDeferred(resolved) {
			return model.NewIPLDInput(resolved), nil
		}
		return model.NewArgInput(resolved), nil
	default:
		return model.Input{}, fmt.Errorf("resolver: unknown input kind %d", in.Kind())
	}
}

// HasDeferred reports whether v still contains an unresolved await capsule
// anywhere in its tree, so a caller can decide whether to retry resolution
// before invoking Wasm.
func HasDeferred(v ipld.Value) bool {
	if tag, _, ok := v.IsCapsule(); ok && tag == awaitTag {
		return true
	}
	switch v.Kind() {
	case ipld.KindList:
		for _, item := range v.AsList() {
			if HasDeferred(item) {
				return true
			}
		}
	case ipld.KindMap:
		for _, val := range v.MapValues() {
			if HasDeferred(val) {
				return true
			}
		}
	}
	return false
}

func branchValue(r model.Receipt, b model.Branch) (ipld.Value, bool) {
	switch b {
	case model.BranchOk:
		if r.Ok {
			return r.Result, true
		}
		return ipld.Value{}, false
	case model.BranchErr:
		if !r.Ok {
			return r.Result, true
		}
		return ipld.Value{}, false
	default:
		return r.Result, true
	}
}

func resolveAwaitCapsule(ctx context.Context, v ipld.Value, lookup Lookup) (ipld.Value, error) {
	_, inner, err := ipld.Unwrap(v, awaitTag)
	if err != nil {
		return ipld.Value{}, err
	}
	await, err := model.AwaitFromIPLD(inner)
	if err != nil {
		return ipld.Value{}, err
	}
	r, found, err := lookup(ctx, await.Task)
	if err != nil {
		return ipld.Value{}, fmt.Errorf("%w: %v", ErrLookupFailure, err)
	}
	if !found {
		return v, nil
	}
	val, matched := branchValue(r, await.Branch)
	if !matched {
		return v, nil
	}
	return val, nil
}

type nodeKind int

const (
	nodeLeaf nodeKind = iota
	nodeAwait
	nodeList
	nodeMap
)

func classify(v ipld.Value) nodeKind {
	if tag, _, ok := v.IsCapsule(); ok && tag == awaitTag {
		return nodeAwait
	}
	switch v.Kind() {
	case ipld.KindList:
		return nodeList
	case ipld.KindMap:
		return nodeMap
	default:
		return nodeLeaf
	}
}

// frame is one node of the explicit worklist resolveTree walks instead of
// native recursion, so an arbitrarily deep IPLD tree cannot blow the Go
// goroutine stack; only the (configurable) budget bounds its depth.
type frame struct {
	v        ipld.Value
	kind     nodeKind
	idx      int
	children []ipld.Value
	vals     []ipld.Value
}

// resolveTree rewrites every await capsule found anywhere in root,
// iteratively, honoring budget as the maximum concurrent worklist depth.
func resolveTree(ctx context.Context, root ipld.Value, lookup Lookup, budget int) (ipld.Value, error) {
	stack := []*frame{{v: root, kind: classify(root)}}
	var result ipld.Value
	for len(stack) > 0 {
		if len(stack) > budget {
			return ipld.Value{}, ErrRecursionBudget
		}
		top := stack[len(stack)-1]
		switch top.kind {
		case nodeAwait:
			v, err := resolveAwaitCapsule(ctx, top.v, lookup)
			if err != nil {
				return ipld.Value{}, err
			}
			result = v
			stack = stack[:len(stack)-1]
		case nodeList:
			items := top.v.AsList()
			if top.idx < len(items) {
				child := items[top.idx]
				stack = append(stack, &frame{v: child, kind: classify(child)})
				continue
			}
			result = ipld.List(top.children...)
			stack = stack[:len(stack)-1]
		case nodeMap:
			keys := top.v.MapKeys()
			vals := top.v.MapValues()
			if top.idx < len(keys) {
				child := vals[top.idx]
				stack = append(stack, &frame{v: child, kind: classify(child)})
				continue
			}
			out := make(map[string]ipld.Value, len(keys))
			for i, k := range keys {
				out[k] = top.vals[i]
			}
			result = ipld.Map(out)
			stack = stack[:len(stack)-1]
		default:
			result = top.v
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			break
		}
		parent := stack[len(stack)-1]
		switch parent.kind {
		case nodeList:
			parent.children = append(parent.children, result)
		case nodeMap:
			parent.vals = append(parent.vals, result)
		}
		parent.idx++
	}
	return result, nil
}
