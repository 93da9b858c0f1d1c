package resolver

import "github.com/fluxdag/fluxdag/internal/ipld"

// collectFrame walks the same shape resolveTree does, but only gathers
// await capsules instead of rewriting them; the scheduler uses this to
// build its dependency graph before any receipt is available.
type collectFrame struct {
	v    ipld.Value
	kind nodeKind
	idx  int
}

// CollectAwaits returns every await capsule found anywhere within v, in
// depth-first order, using the same explicit worklist resolveTree uses so
// an arbitrarily deep tree can't grow the native stack.
func CollectAwaits(v ipld.Value) []ipld.Value {
	var out []ipld.Value
	stack := []*collectFrame{{v: v, kind: classify(v)}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		switch top.kind {
		case nodeAwait:
			out = append(out, top.v)
			stack = stack[:len(stack)-1]
		case nodeList:
			items := top.v.AsList()
			if top.idx < len(items) {
				child := items[top.idx]
				top.idx++
				stack = append(stack, &collectFrame{v: child, kind: classify(child)})
				continue
			}
			stack = stack[:len(stack)-1]
		case nodeMap:
			vals := top.v.MapValues()
			if top.idx < len(vals) {
				child := vals[top.idx]
				top.idx++
				stack = append(stack, &collectFrame{v: child, kind: classify(child)})
				continue
			}
			stack = stack[:len(stack)-1]
		default:
			stack = stack[:len(stack)-1]
		}
	}
	return out
}
