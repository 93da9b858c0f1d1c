// Package runner implements the node-level workflow runner (spec.md
// §4.12): it owns the live-worker map and the background maintainer that
// expires completed workers, the way internal/ghostpool's PoolManager
// owns its container pool under one mutex plus a background goroutine.
// It is the collaborator that turns a captured-receipt/replay-receipts
// notification into a network.CapturedReceiptCmd/ReplayReceiptsCmd sent
// to the node's network event loop.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
	"github.com/fluxdag/fluxdag/internal/network"
	"github.com/fluxdag/fluxdag/internal/notify"
	"github.com/fluxdag/fluxdag/internal/resolver"
	"github.com/fluxdag/fluxdag/internal/scheduler"
	"github.com/fluxdag/fluxdag/internal/store"
	"github.com/fluxdag/fluxdag/internal/worker"
)

// Config collects every external collaborator a Runner needs to drive
// workers end to end.
type Config struct {
	Store             store.ReceiptStore
	Fetch             scheduler.FetchFunc
	Invoker           worker.WasmInvoker
	Notify            *notify.Bus
	Net               *network.Loop // optional; nil means single-node, no gossip/DHT propagation
	PeerLookup        resolver.Lookup
	PeerLookupTimeout time.Duration

	// WorkerTTL is how long a completed worker's handle is kept around
	// before the GC sweep drops it; zero uses a 5 minute default.
	WorkerTTL time.Duration
	// GCInterval is how often the maintainer sweeps expired handles.
	GCInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkerTTL <= 0 {
		c.WorkerTTL = 5 * time.Minute
	}
	if c.GCInterval <= 0 {
		c.GCInterval = 30 * time.Second
	}
	return c
}

// liveWorker is one tracked worker's bookkeeping: its cancel func, its
// shared progress record, and (once the run has finished) the time it
// should be dropped from the map.
type liveWorker struct {
	workflow  ipld.CID
	name      string
	info      *model.WorkflowInfo
	cancel    context.CancelFunc
	expiresAt time.Time // zero while still running
}

// Runner owns every live workflow execution on this node.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*liveWorker

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Runner and starts its background maintainer and (if cfg.Notify
// and cfg.Net are both set) its receipt-propagation watchers.
func New(cfg Config) *Runner {
	cfg = cfg.withDefaults()
	r := &Runner{
		cfg:     cfg,
		logger:  slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "runner"),
		workers: make(map[string]*liveWorker),
		stopCh:  make(chan struct{}),
	}
	go r.maintain()
	if cfg.Notify != nil && cfg.Net != nil {
		go r.watchCapturedReceipts()
		go r.watchReplayReceipts()
	}
	return r
}

// RunWorkflow starts (or resumes) execution of inv under name, returning
// the workflow's progress record immediately; the run itself continues in
// the background. Calling RunWorkflow again for a workflow already
// in-flight is a no-op that returns the existing record.
func (r *Runner) RunWorkflow(ctx context.Context, name string, inv model.Invocation) (*model.WorkflowInfo, error) {
	workflowCID, err := inv.CID()
	if err != nil {
		return nil, fmt.Errorf("runner: workflow cid: %w", err)
	}
	key := workflowCID.String()

	r.mu.Lock()
	if lw, ok := r.workers[key]; ok && lw.expiresAt.IsZero() {
		r.mu.Unlock()
		return lw.info, nil
	}
	r.mu.Unlock()

	info, err := r.loadOrInit(ctx, workflowCID, name, inv)
	if err != nil {
		return nil, err
	}

	wcfg := worker.Config{
		Store:             r.cfg.Store,
		Fetch:             r.cfg.Fetch,
		Invoker:           r.cfg.Invoker,
		Notify:            r.cfg.Notify,
		PeerLookup:        r.cfg.PeerLookup,
		PeerLookupTimeout: r.cfg.PeerLookupTimeout,
	}
	w := worker.New(wcfg, workflowCID, name, info)

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.workers[key] = &liveWorker{workflow: workflowCID, name: name, info: info, cancel: cancel}
	r.mu.Unlock()

	go func() {
		defer r.dropWorker(key)
		if err := w.Run(runCtx, inv); err != nil {
			r.logger.Error("workflow run failed", "workflow", key, "name", name, "error", err)
		}
	}()

	return info, nil
}

// loadOrInit returns the stored WorkflowInfo for workflowCID if one exists
// (a resume), or builds a fresh one from inv's tasks.
func (r *Runner) loadOrInit(ctx context.Context, workflowCID ipld.CID, name string, inv model.Invocation) (*model.WorkflowInfo, error) {
	if existing, ok, err := r.cfg.Store.GetWorkflowInfo(ctx, workflowCID); err != nil {
		return nil, fmt.Errorf("runner: load workflow info: %w", err)
	} else if ok {
		return existing, nil
	}

	tasks := inv.Tasks()
	resources := model.NewIndexedResources()
	for _, t := range tasks {
		cid, err := t.InstructionCID()
		if err != nil {
			return nil, fmt.Errorf("runner: task instruction cid: %w", err)
		}
		if t.Instruction != nil {
			resources.Put(cid, []model.Resource{t.Instruction.Resource})
		} else {
			resources.Put(cid, nil)
		}
	}
	return model.NewWorkflowInfo(workflowCID, name, len(tasks), resources), nil
}

// dropWorker marks a finished worker for expiry rather than deleting it
// immediately, so a caller asking "what happened to workflow X" just
// after completion still finds its record.
func (r *Runner) dropWorker(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lw, ok := r.workers[key]; ok {
		lw.expiresAt = time.Now().Add(r.cfg.WorkerTTL)
	}
}

// Status returns the tracked WorkflowInfo for workflow, if this Runner has
// ever driven or is driving it.
func (r *Runner) Status(workflow ipld.CID) (*model.WorkflowInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lw, ok := r.workers[workflow.String()]
	if !ok {
		return nil, false
	}
	return lw.info, true
}

// RemoteStatus resolves workflow's WorkflowInfo the way Status does, but
// falls back to a peer query (DHT get, then provider fallback via
// request/response, per spec.md §4.10/§8 scenario 6) when this Runner
// has never driven the workflow itself. It requires cfg.Net to be
// configured; single-node deployments should just use Status.
func (r *Runner) RemoteStatus(ctx context.Context, workflow ipld.CID) (*model.WorkflowInfo, bool, error) {
	if info, ok := r.Status(workflow); ok {
		return info, true, nil
	}
	if r.cfg.Net == nil {
		return nil, false, nil
	}
	return network.FetchWorkflowInfo(ctx, r.cfg.Net, workflow)
}

// maintain periodically sweeps expired worker handles, grounded on
// ghostpool's PoolManager.maintainPool background-goroutine shape.
func (r *Runner) maintain() {
	ticker := time.NewTicker(r.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			r.mu.Lock()
			for key, lw := range r.workers {
				if !lw.expiresAt.IsZero() && now.After(lw.expiresAt) {
					delete(r.workers, key)
				}
			}
			r.mu.Unlock()
		}
	}
}

// watchCapturedReceipts subscribes to notify.CapturedReceipt and forwards
// each one to the network loop as a CapturedReceiptCmd, re-reading the
// receipt and workflow info from the store since Event.Fields carries only
// CIDs and scalars, not full model values.
func (r *Runner) watchCapturedReceipts() {
	sub := r.cfg.Notify.Subscribe(notify.CapturedReceipt)
	for e := range sub {
		r.forwardCapturedReceipt(e)
	}
}

func (r *Runner) forwardCapturedReceipt(e notify.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	instrV, ok := e.Fields["instruction"]
	if !ok {
		return
	}
	workflowV, ok := e.Fields["workflow"]
	if !ok {
		return
	}
	nameV := e.Fields["name"]

	receipt, found, err := r.cfg.Store.GetByInstruction(ctx, instrV.AsLink())
	if err != nil || !found {
		return
	}
	wi, _, err := r.cfg.Store.GetWorkflowInfo(ctx, workflowV.AsLink())
	if err != nil {
		wi = nil
	}
	cmd := network.CapturedReceiptCmd(receipt, wi, nameV.AsString())
	if err := r.cfg.Net.TrySend(cmd); err != nil {
		r.logger.Warn("network command dropped", "kind", "CapturedReceipt", "error", err)
	}
}

// watchReplayReceipts subscribes to notify.ReplayReceipts and forwards each
// one to the network loop as a ReplayReceiptsCmd.
func (r *Runner) watchReplayReceipts() {
	sub := r.cfg.Notify.Subscribe(notify.ReplayReceipts)
	for e := range sub {
		r.forwardReplayReceipts(e)
	}
}

func (r *Runner) forwardReplayReceipts(e notify.Event) {
	workflowV, ok := e.Fields["workflow"]
	if !ok {
		return
	}
	nameV := e.Fields["name"]
	instrsV, ok := e.Fields["instructions"]
	if !ok {
		return
	}
	items := instrsV.AsList()
	instructions := make([]ipld.CID, len(items))
	for i, v := range items {
		instructions[i] = v.AsLink()
	}
	cmd := network.ReplayReceiptsCmd(instructions, workflowV.AsLink(), nameV.AsString())
	if err := r.cfg.Net.TrySend(cmd); err != nil {
		r.logger.Warn("network command dropped", "kind", "ReplayReceipts", "error", err)
	}
}

// Shutdown cancels every in-flight worker and stops the maintainer.
func (r *Runner) Shutdown() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lw := range r.workers {
		lw.cancel()
	}
}

// LoadWorkflowInfoFile loads a previously persisted WorkflowInfo snapshot
// from disk, supporting "replay from file" tooling without resubmitting
// the full workflow (homestar's runner/file.rs; see SPEC_FULL.md §9).
func LoadWorkflowInfoFile(path string) (*model.WorkflowInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runner: read workflow info file: %w", err)
	}
	v, err := ipld.DecodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("runner: decode workflow info file: %w", err)
	}
	return model.WorkflowInfoFromCapsule(v)
}

// SaveWorkflowInfoFile writes wi's capsule form to path as DAG-JSON, the
// counterpart to LoadWorkflowInfoFile.
func SaveWorkflowInfoFile(path string, wi *model.WorkflowInfo) error {
	caps, err := wi.Capsule()
	if err != nil {
		return fmt.Errorf("runner: capsule workflow info: %w", err)
	}
	data, err := ipld.EncodeJSON(caps)
	if err != nil {
		return fmt.Errorf("runner: encode workflow info file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
