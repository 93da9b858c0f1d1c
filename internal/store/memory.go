package store

import (
	"context"
	"sync"

	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
)

// Memory is an in-process ReceiptStore, used by tests and by single-node
// replay scenarios that don't need Postgres.
type Memory struct {
	mu          sync.RWMutex
	byInstr     map[string]model.Receipt
	byReceipt   map[string]model.Receipt
	byWorkflow  map[string]*model.WorkflowInfo
}

func NewMemory() *Memory {
	return &Memory{
		byInstr:    map[string]model.Receipt{},
		byReceipt:  map[string]model.Receipt{},
		byWorkflow: map[string]*model.WorkflowInfo{},
	}
}

func (m *Memory) Put(_ context.Context, r model.Receipt) error {
	rc, err := r.CID()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byInstr[r.Instruction.String()] = r
	m.byReceipt[rc.String()] = r
	return nil
}

func (m *Memory) GetByInstruction(_ context.Context, instruction ipld.CID) (model.Receipt, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byInstr[instruction.String()]
	return r, ok, nil
}

func (m *Memory) GetByReceipt(_ context.Context, receipt ipld.CID) (model.Receipt, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byReceipt[receipt.String()]
	return r, ok, nil
}

func (m *Memory) PutWorkflowInfo(_ context.Context, wi *model.WorkflowInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byWorkflow[wi.Workflow.String()] = wi
	return nil
}

func (m *Memory) GetWorkflowInfo(_ context.Context, workflow ipld.CID) (*model.WorkflowInfo, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wi, ok := m.byWorkflow[workflow.String()]
	return wi, ok, nil
}
