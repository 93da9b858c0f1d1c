// Package worker implements the worker (spec.md §4.6): it asks the
// scheduler for a workflow's plan, runs each remaining batch concurrently,
// resolves promises via the resolver, invokes Wasm through an external
// invoker, and persists + broadcasts every resulting receipt.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
	"github.com/fluxdag/fluxdag/internal/notify"
	"github.com/fluxdag/fluxdag/internal/resolver"
	"github.com/fluxdag/fluxdag/internal/scheduler"
	"github.com/fluxdag/fluxdag/internal/store"
)

// WasmInvoker calls a Wasm export by ability name against module bytes,
// taking and returning already-IPLD-shaped values; implementations own
// the Arg/IPLD conversion (see internal/argbridge.Adapter).
type WasmInvoker interface {
	Invoke(ctx context.Context, module []byte, ability string, input ipld.Value) (ipld.Value, error)
}

// Config collects a Worker's external collaborators.
type Config struct {
	Store             store.ReceiptStore
	Fetch             scheduler.FetchFunc
	Invoker           WasmInvoker
	Notify            *notify.Bus
	PeerLookup        resolver.Lookup // optional; nil disables peer fallback
	PeerLookupTimeout time.Duration
	PollInterval      time.Duration // how often pollPeers retries outstanding CIDs
}

// Worker owns one workflow's execution from plan to completion.
type Worker struct {
	cfg         Config
	workflowCID ipld.CID
	name        string
	info        *model.WorkflowInfo
	logger      *log.Logger

	mu        sync.RWMutex
	linkMap   map[string]model.Receipt
	resources map[string][]byte
}

// New builds a Worker for workflowCID/name, sharing info (the caller —
// typically the runner — owns info's lifetime beyond this call).
func New(cfg Config, workflowCID ipld.CID, name string, info *model.WorkflowInfo) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Worker{
		cfg:         cfg,
		workflowCID: workflowCID,
		name:        name,
		info:        info,
		logger:      log.New(log.Writer(), "[WORKER] ", log.LstdFlags),
		linkMap:     map[string]model.Receipt{},
		resources:   map[string][]byte{},
	}
}

// Run drives inv to completion, returning an error only for a fatal
// planning failure or a failure to persist the workflow info; individual
// task failures are captured as Err receipts, never returned.
func (w *Worker) Run(ctx context.Context, inv model.Invocation) error {
	sc, err := scheduler.Plan(ctx, inv, w.cfg.Store, w.cfg.Fetch)
	if err != nil {
		return fmt.Errorf("worker: plan: %w", err)
	}

	w.mu.Lock()
	for k, r := range sc.LinkMap {
		w.linkMap[k] = r
	}
	w.resources = sc.Resources
	w.mu.Unlock()

	if len(sc.Ran) > 0 {
		w.emitReplayReceipts(sc.Ran)
	}

	if len(sc.Run) == 0 {
		w.info.SetStatus(model.StatusCompleted)
		return w.cfg.Store.PutWorkflowInfo(ctx, w.info)
	}
	w.info.SetStatus(model.StatusRunning)
	if err := w.cfg.Store.PutWorkflowInfo(ctx, w.info); err != nil {
		return fmt.Errorf("worker: persist workflow info: %w", err)
	}

	if w.cfg.PeerLookup != nil && w.cfg.PeerLookupTimeout > 0 {
		outstanding := w.unresolvedOutFlow(sc.Graph.OutstandingOutFlow())
		if len(outstanding) > 0 {
			go w.pollPeers(ctx, outstanding)
		}
	}

	for _, batch := range sc.Run {
		var wg sync.WaitGroup
		for _, node := range batch {
			node := node
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.runTask(ctx, node)
			}()
		}
		wg.Wait()
	}

	w.info.SetStatus(model.StatusCompleted)
	return w.cfg.Store.PutWorkflowInfo(ctx, w.info)
}

func (w *Worker) unresolvedOutFlow(cids []ipld.CID) []ipld.CID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []ipld.CID
	for _, c := range cids {
		if _, ok := w.linkMap[c.String()]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func (w *Worker) emitReplayReceipts(ran [][]model.Node) {
	var pointers []ipld.Value
	for _, batch := range ran {
		for _, node := range batch {
			pointers = append(pointers, ipld.Link(node.Instruction))
		}
	}
	w.cfg.Notify.Emit(notify.ReplayReceipts, map[string]ipld.Value{
		"workflow":     ipld.Link(w.workflowCID),
		"name":         ipld.String(w.name),
		"instructions": ipld.List(pointers...),
	})
}

// pollPeers retries PeerLookup for any still-outstanding out-flow CID
// until PeerLookupTimeout elapses or ctx is done, inserting any hits into
// the shared link map.
func (w *Worker) pollPeers(ctx context.Context, cids []ipld.CID) {
	deadline := time.Now().Add(w.cfg.PeerLookupTimeout)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		remaining := w.unresolvedOutFlow(cids)
		if len(remaining) == 0 || time.Now().After(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range remaining {
				r, found, err := w.cfg.PeerLookup(ctx, c)
				if err != nil {
					w.logger.Printf("peer lookup for %s failed: %v", c, err)
					continue
				}
				if found {
					w.mu.Lock()
					w.linkMap[c.String()] = r
					w.mu.Unlock()
				}
			}
		}
	}
}

func (w *Worker) lookup(ctx context.Context, task ipld.CID) (model.Receipt, bool, error) {
	w.mu.RLock()
	r, ok := w.linkMap[task.String()]
	w.mu.RUnlock()
	if ok {
		return r, true, nil
	}
	r, found, err := w.cfg.Store.GetByInstruction(ctx, task)
	if err != nil {
		return model.Receipt{}, false, err
	}
	if found {
		return r, true, nil
	}
	if w.cfg.PeerLookup != nil {
		return w.cfg.PeerLookup(ctx, task)
	}
	return model.Receipt{}, false, nil
}

func (w *Worker) runTask(ctx context.Context, node model.Node) {
	ins := node.Task.Instruction
	if ins == nil {
		w.finish(ctx, model.NewErrReceipt(node.Instruction, "", "task has no inline instruction to run"))
		return
	}

	w.mu.RLock()
	moduleBytes, haveModule := w.resources[ins.Resource.Normalized()]
	w.mu.RUnlock()
	if !haveModule {
		w.finish(ctx, model.NewErrReceipt(node.Instruction, ins.Ability, "resource not found: "+ins.Resource.Normalized()))
		return
	}

	resolved, err := resolver.Resolve(ctx, ins.Input, w.lookup)
	if err != nil {
		w.finish(ctx, model.NewErrReceipt(node.Instruction, ins.Ability, err.Error()))
		return
	}
	if resolved.Kind() != model.InputArg {
		w.finish(ctx, model.NewErrReceipt(node.Instruction, ins.Ability, "unresolved promise dependency"))
		return
	}

	out, err := w.cfg.Invoker.Invoke(ctx, moduleBytes, ins.Ability, resolved.Arg())
	var receipt model.Receipt
	if err != nil {
		receipt = model.NewErrReceipt(node.Instruction, ins.Ability, err.Error())
	} else {
		receipt = model.NewOkReceipt(node.Instruction, ins.Ability, out)
	}
	w.finish(ctx, receipt)
}

func (w *Worker) finish(ctx context.Context, receipt model.Receipt) {
	w.mu.Lock()
	w.linkMap[receipt.Instruction.String()] = receipt
	w.mu.Unlock()

	if err := w.cfg.Store.Put(ctx, receipt); err != nil {
		w.logger.Printf("persist receipt for %s failed: %v", receipt.Instruction, err)
	}

	w.mu.Lock()
	w.info.RecordProgress(receipt.Instruction)
	w.mu.Unlock()
	if err := w.cfg.Store.PutWorkflowInfo(ctx, w.info); err != nil {
		w.logger.Printf("persist workflow info failed: %v", err)
	}

	rc, err := receipt.CID()
	if err != nil {
		w.logger.Printf("receipt cid failed: %v", err)
		return
	}
	w.cfg.Notify.Emit(notify.CapturedReceipt, map[string]ipld.Value{
		"receipt":        ipld.Link(rc),
		"instruction":    ipld.Link(receipt.Instruction),
		"workflow":       ipld.Link(w.workflowCID),
		"name":           ipld.String(w.name),
		"replayed":       ipld.Bool(false),
		"progress_count": ipld.Int(int64(w.info.ProgressCount())),
	})
}
