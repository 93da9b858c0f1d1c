// Package store defines the receipt-store interface the core consumes as
// an external collaborator (spec.md §1) and provides two implementations:
// a Postgres-backed store for production and an in-memory store for tests
// and single-process replay.
package store

import (
	"context"
	"errors"

	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
)

// ErrNotFound names the "not yet available" case. The ReceiptStore
// implementations in this package do not return it: their lookups report
// a miss as ok=false with a nil error.
var ErrNotFound = errors.New("store: receipt not found")

// ReceiptStore is the key/value receipt store the scheduler and worker
// consult, keyed by receipt CID and by instruction CID.
type ReceiptStore interface {
	// Put persists a receipt, indexed by both its own CID and its
	// instruction's CID.
	Put(ctx context.Context, r model.Receipt) error

	// GetByInstruction looks up the receipt recorded for instruction, if
	// any.
	GetByInstruction(ctx context.Context, instruction ipld.CID) (model.Receipt, bool, error)

	// GetByReceipt looks up a receipt by its own CID.
	GetByReceipt(ctx context.Context, receipt ipld.CID) (model.Receipt, bool, error)

	// PutWorkflowInfo persists (or overwrites) a workflow's progress
	// record.
	PutWorkflowInfo(ctx context.Context, wi *model.WorkflowInfo) error

	// GetWorkflowInfo looks up a workflow's progress record by workflow
	// CID.
	GetWorkflowInfo(ctx context.Context, workflow ipld.CID) (*model.WorkflowInfo, bool, error)
}
