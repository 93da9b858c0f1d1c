package model

import (
	"fmt"
	"sort"

	"github.com/fluxdag/fluxdag/internal/ipld"
)

// IndexedResources maps each instruction CID in a workflow to the resources
// (Wasm modules, typically) its instruction references. Every instruction
// in a workflow appears exactly once.
type IndexedResources map[string][]Resource

// NewIndexedResources builds an empty index.
func NewIndexedResources() IndexedResources { return IndexedResources{} }

// Put records the resources an instruction references, keyed by its CID.
func (ir IndexedResources) Put(instruction ipld.CID, resources []Resource) {
	ir[instruction.String()] = resources
}

// Get returns the resources for an instruction CID.
func (ir IndexedResources) Get(instruction ipld.CID) ([]Resource, bool) {
	r, ok := ir[instruction.String()]
	return r, ok
}

// All returns the deduplicated union of every resource across the index, in
// deterministic (sorted-key) order.
func (ir IndexedResources) All() []Resource {
	keys := make([]string, 0, len(ir))
	for k := range ir {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	seen := map[string]bool{}
	var out []Resource
	for _, k := range keys {
		for _, r := range ir[k] {
			n := r.Normalized()
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, r)
		}
	}
	return out
}

func (ir IndexedResources) ToIPLD() (ipld.Value, error) {
	out := map[string]ipld.Value{}
	for k, resources := range ir {
		items := make([]ipld.Value, len(resources))
		for i, r := range resources {
			items[i] = r.ToIPLD()
		}
		out[k] = ipld.List(items...)
	}
	return ipld.Map(out), nil
}

func IndexedResourcesFromIPLD(v ipld.Value) (IndexedResources, error) {
	ir := NewIndexedResources()
	for i, k := range v.MapKeys() {
		listV := v.MapValues()[i]
		resources := make([]Resource, 0, len(listV.AsList()))
		for _, item := range listV.AsList() {
			r, err := ResourceFromIPLD(item)
			if err != nil {
				return nil, fmt.Errorf("model: indexed resources %q: %w", k, err)
			}
			resources = append(resources, r)
		}
		ir[k] = resources
	}
	return ir, nil
}
