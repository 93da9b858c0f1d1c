// Package scheduler computes a workflow's batched execution graph and
// reconciles it against receipts already present locally (spec.md §4.4):
// it turns a flat list of tasks into a topologically layered plan, finds
// how much of that plan is already done, and fetches the resources the
// remaining batches need.
package scheduler

import "errors"

var (
	// ErrResourceUnknown is returned when fetch cannot produce bytes for a
	// resource referenced by some instruction in the to-run portion.
	ErrResourceUnknown = errors.New("scheduler: resource unknown")

	// ErrDuplicateTasks is returned when two tasks in the same workflow
	// share an instruction CID; give one of them a distinct nonce.
	ErrDuplicateTasks = errors.New("scheduler: duplicate instruction CIDs in workflow, use a nonce to ensure uniqueness")

	// ErrCycleDetected is returned when the workflow's await graph is not
	// a DAG.
	ErrCycleDetected = errors.New("scheduler: cycle detected in promise graph")

	// ErrFetchFailed wraps a resource-fetch failure.
	ErrFetchFailed = errors.New("scheduler: resource fetch failed")
)
