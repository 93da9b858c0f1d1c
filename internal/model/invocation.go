package model

import (
	"fmt"
	"sort"

	"github.com/fluxdag/fluxdag/internal/ipld"
)

// TaskLabel is a caller-chosen name for a task within an Invocation's run
// map, used only for presentation; identity is always by instruction CID.
type TaskLabel string

// Invocation is the outer container a client submits: a named batch of
// tasks ("run"), free-form metadata, and authorization proofs. Its CID
// identifies the run request as a whole.
type Invocation struct {
	Run    map[TaskLabel]Task
	Meta   map[string]ipld.Value
	Proofs []ipld.CID
}

func (inv Invocation) ToIPLD() (ipld.Value, error) {
	run := make(map[string]ipld.Value, len(inv.Run))
	for label, task := range inv.Run {
		v, err := task.ToIPLD()
		if err != nil {
			return ipld.Value{}, fmt.Errorf("model: invocation task %q: %w", label, err)
		}
		run[string(label)] = v
	}
	proofs := make([]ipld.Value, len(inv.Proofs))
	for i, p := range inv.Proofs {
		proofs[i] = ipld.Link(p)
	}
	return ipld.Map(map[string]ipld.Value{
		"run":  ipld.Map(run),
		"meta": ipld.Map(inv.Meta),
		"prf":  ipld.List(proofs...),
	}), nil
}

func InvocationFromIPLD(v ipld.Value) (Invocation, error) {
	runV, ok := v.MapGet("run")
	if !ok {
		return Invocation{}, fmt.Errorf("%w: invocation missing run", ErrMissingField)
	}
	run := make(map[TaskLabel]Task, len(runV.MapKeys()))
	for i, k := range runV.MapKeys() {
		t, err := TaskFromIPLD(runV.MapValues()[i])
		if err != nil {
			return Invocation{}, fmt.Errorf("model: invocation task %q: %w", k, err)
		}
		run[TaskLabel(k)] = t
	}
	meta := map[string]ipld.Value{}
	if metaV, ok := v.MapGet("meta"); ok {
		for i, k := range metaV.MapKeys() {
			meta[k] = metaV.MapValues()[i]
		}
	}
	var proofs []ipld.CID
	if prfV, ok := v.MapGet("prf"); ok {
		for _, p := range prfV.AsList() {
			proofs = append(proofs, p.AsLink())
		}
	}
	return Invocation{Run: run, Meta: meta, Proofs: proofs}, nil
}

// CID computes the invocation's content identity.
func (inv Invocation) CID() (ipld.CID, error) {
	v, err := inv.ToIPLD()
	if err != nil {
		return ipld.CID{}, err
	}
	c, _, err := ipld.CIDOf(v, ipld.HashBlake2b256, ipld.CIDV1)
	return c, err
}

// Tasks returns the invocation's tasks as a stable-order slice, sorted by
// label, for callers (e.g. the scheduler) that need deterministic ordering.
func (inv Invocation) Tasks() []Task {
	labels := make([]string, 0, len(inv.Run))
	for l := range inv.Run {
		labels = append(labels, string(l))
	}
	sort.Strings(labels)
	out := make([]Task, len(labels))
	for i, l := range labels {
		out[i] = inv.Run[TaskLabel(l)]
	}
	return out
}
