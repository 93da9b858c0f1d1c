package model

import (
	"fmt"

	"github.com/fluxdag/fluxdag/internal/ipld"
)

// Status tracks a workflow's execution lifecycle. It advances monotonically
// within a single live run (Pending -> Running -> Completed) but may be
// re-entered from Completed back to Running when a completed workflow is
// replayed.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// WorkflowInfo is the mutable execution-progress record associated with one
// workflow CID. Progress only ever grows; NumTasks is fixed at construction.
type WorkflowInfo struct {
	Workflow      ipld.CID
	Name          string
	NumTasks      int
	Resources     IndexedResources
	status        Status
	progress      []ipld.CID
	progressSeen  map[string]bool
}

// NewWorkflowInfo constructs a fresh, Pending WorkflowInfo for a workflow of
// numTasks instructions.
func NewWorkflowInfo(workflow ipld.CID, name string, numTasks int, resources IndexedResources) *WorkflowInfo {
	return &WorkflowInfo{
		Workflow:     workflow,
		Name:         name,
		NumTasks:     numTasks,
		Resources:    resources,
		status:       StatusPending,
		progressSeen: map[string]bool{},
	}
}

// Status returns the current lifecycle status.
func (w *WorkflowInfo) Status() Status { return w.status }

// Progress returns the completed instruction CIDs in the order they were
// recorded.
func (w *WorkflowInfo) Progress() []ipld.CID { return w.progress }

// ProgressCount returns len(Progress()); invariant: always equal.
func (w *WorkflowInfo) ProgressCount() int { return len(w.progress) }

// SetStatus advances the lifecycle status. Regressing from Completed is
// only allowed into Running (replay); any other regression is rejected.
func (w *WorkflowInfo) SetStatus(next Status) error {
	if w.status == StatusCompleted && next == StatusRunning {
		w.status = next
		return nil
	}
	if next < w.status {
		return ErrStatusRegress
	}
	w.status = next
	return nil
}

// RecordProgress appends instruction to the completed set if not already
// present, preserving insertion order. Re-recording the same instruction is
// a no-op, keeping progress monotonic.
func (w *WorkflowInfo) RecordProgress(instruction ipld.CID) {
	key := instruction.String()
	if w.progressSeen[key] {
		return
	}
	w.progressSeen[key] = true
	w.progress = append(w.progress, instruction)
}

// HasProgress reports whether instruction has already been recorded.
func (w *WorkflowInfo) HasProgress(instruction ipld.CID) bool {
	return w.progressSeen[instruction.String()]
}

func (w *WorkflowInfo) ToIPLD() (ipld.Value, error) {
	progress := make([]ipld.Value, len(w.progress))
	for i, c := range w.progress {
		progress[i] = ipld.Link(c)
	}
	resV, err := w.Resources.ToIPLD()
	if err != nil {
		return ipld.Value{}, err
	}
	fields := map[string]ipld.Value{
		"wf":       ipld.Link(w.Workflow),
		"num":      ipld.Int(int64(w.NumTasks)),
		"progress": ipld.List(progress...),
		"cnt":      ipld.Int(int64(len(w.progress))),
		"status":   ipld.String(w.status.String()),
		"rsc":      resV,
	}
	if w.Name != "" {
		fields["name"] = ipld.String(w.Name)
	}
	return ipld.Map(fields), nil
}

func WorkflowInfoFromIPLD(v ipld.Value) (*WorkflowInfo, error) {
	wfV, ok := v.MapGet("wf")
	if !ok || wfV.Kind() != ipld.KindLink {
		return nil, fmt.Errorf("%w: workflow info missing wf link", ErrMissingField)
	}
	numV, ok := v.MapGet("num")
	if !ok {
		return nil, fmt.Errorf("%w: workflow info missing num", ErrMissingField)
	}
	resV, ok := v.MapGet("rsc")
	if !ok {
		return nil, fmt.Errorf("%w: workflow info missing rsc", ErrMissingField)
	}
	resources, err := IndexedResourcesFromIPLD(resV)
	if err != nil {
		return nil, err
	}
	name := ""
	if n, ok := v.MapGet("name"); ok {
		name = n.AsString()
	}
	wi := NewWorkflowInfo(wfV.AsLink(), name, int(numV.AsInt()), resources)
	if progV, ok := v.MapGet("progress"); ok {
		for _, p := range progV.AsList() {
			wi.RecordProgress(p.AsLink())
		}
	}
	if statusV, ok := v.MapGet("status"); ok {
		switch statusV.AsString() {
		case "pending":
			wi.status = StatusPending
		case "running":
			wi.status = StatusRunning
		case "completed":
			wi.status = StatusCompleted
		}
	}
	return wi, nil
}

// Capsule wraps the workflow info in its wire/DHT framing tag.
func (w *WorkflowInfo) Capsule() (ipld.Value, error) {
	v, err := w.ToIPLD()
	if err != nil {
		return ipld.Value{}, err
	}
	return ipld.Wrap(ipld.TagWorkflowInfo, v), nil
}

// WorkflowInfoFromCapsule unwraps and decodes a workflow-info capsule.
func WorkflowInfoFromCapsule(v ipld.Value) (*WorkflowInfo, error) {
	_, inner, err := ipld.Unwrap(v, ipld.TagWorkflowInfo)
	if err != nil {
		return nil, err
	}
	return WorkflowInfoFromIPLD(inner)
}
