// Command server boots one fluxdag node: it loads config, opens the
// Postgres receipt store and Redis-backed DHT/gossip, starts the network
// event loop's gRPC listener, and wires a Runner that accepts
// RunWorkflow requests. Grounded on the teacher's cmd/server/main.go
// component-wiring shape (config -> stores -> services -> listen),
// generalized from the teacher's REST gateway to fluxdag's workflow
// runner + peer network.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluxdag/fluxdag/internal/argbridge"
	"github.com/fluxdag/fluxdag/internal/config"
	"github.com/fluxdag/fluxdag/internal/fetch"
	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
	"github.com/fluxdag/fluxdag/internal/network"
	"github.com/fluxdag/fluxdag/internal/network/dht"
	"github.com/fluxdag/fluxdag/internal/network/gossip"
	"github.com/fluxdag/fluxdag/internal/notify"
	"github.com/fluxdag/fluxdag/internal/runner"
	"github.com/fluxdag/fluxdag/internal/scheduler"
	"github.com/fluxdag/fluxdag/internal/store"
	"github.com/fluxdag/fluxdag/internal/worker"
)

func main() {
	cfg := config.Get()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	logger.Info("starting fluxdag node", "env", cfg.Server.Env, "peer_id", cfg.P2P.PeerID)

	receiptStore, closeStore := openReceiptStore(cfg, logger)
	defer closeStore()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	notifyBus := notify.NewBus(256)
	dhtTable := dht.New(rdb, cfg.P2P.Namespace, time.Duration(cfg.P2P.DHTWaitTimeoutMs)*time.Millisecond)
	gossipBus := gossip.New(rdb, cfg.P2P.Namespace, receiptStore, func(r model.Receipt) {})

	netCfg := network.Config{
		PeerID:              network.PeerID(cfg.P2P.PeerID),
		ListenAddr:          cfg.P2P.ListenAddr,
		Namespace:           cfg.P2P.Namespace,
		RendezvousAddr:      cfg.P2P.RendezvousAddr,
		RunRendezvousServer: cfg.P2P.RunRendezvousServer,
		MaxConnectedPeers:   cfg.P2P.MaxConnectedPeers,
		ReceiptQuorum:       cfg.P2P.ReceiptQuorum,
		WorkflowQuorum:      cfg.P2P.WorkflowQuorum,
		DHTWaitTimeout:      time.Duration(cfg.P2P.DHTWaitTimeoutMs) * time.Millisecond,
		DialInterval:        time.Duration(cfg.P2P.DialIntervalSec) * time.Second,
		DiscoveryInterval:   time.Duration(cfg.P2P.DiscoveryIntervalSec) * time.Second,
		RegistrationTTL:     time.Duration(cfg.P2P.RegistrationTTLSec) * time.Second,
		LanDiscoveryEnabled: cfg.P2P.LanDiscoveryEnabled,
		LanBroadcastAddr:    cfg.P2P.LanBroadcastAddr,
		LanListenPort:       cfg.P2P.LanListenPort,
		CommandBuffer:       cfg.P2P.CommandBuffer,
		ShutdownTimeout:     time.Duration(cfg.P2P.ShutdownTimeoutSec) * time.Second,
	}
	for _, p := range cfg.P2P.KnownPeers {
		netCfg.KnownPeers = append(netCfg.KnownPeers, network.PeerAddr{ID: network.PeerID(p.ID), Addr: p.Addr})
	}

	netLoop := network.New(netCfg, dhtTable, gossipBus, receiptStore, notifyBus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.P2P.ListenAddr != "" {
		lis, err := net.Listen("tcp", cfg.P2P.ListenAddr)
		if err != nil {
			logger.Error("listen failed", "addr", cfg.P2P.ListenAddr, "error", err)
			os.Exit(1)
		}
		grpcServer := netLoop.NewServer()
		go func() {
			logger.Info("reqresp listening", "addr", cfg.P2P.ListenAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("reqresp server stopped", "error", err)
			}
		}()
	}

	go func() {
		if err := netLoop.Run(ctx); err != nil {
			logger.Error("network loop exited", "error", err)
		}
	}()

	fetcher := fetch.NewHTTPFetcher(cfg.Workflow.ModuleGateway)
	fetcher.Backoff = fetch.Backoff{
		Initial: time.Duration(cfg.Workflow.FetchInitialDelayMs) * time.Millisecond,
		Max:     time.Duration(cfg.Workflow.FetchMaxDelayMs) * time.Millisecond,
		Retries: cfg.Workflow.FetchRetries,
	}
	node := runner.New(runner.Config{
		Store:             receiptStore,
		Fetch:             fetchAdapter(fetcher),
		Invoker:           newPlaceholderInvoker(logger),
		Notify:            notifyBus,
		Net:               netLoop,
		PeerLookup:        network.NewPeerLookup(netLoop),
		PeerLookupTimeout: time.Duration(cfg.Workflow.PeerLookupTimeoutMs) * time.Millisecond,
		WorkerTTL:         time.Duration(cfg.Workflow.WorkerTTLSec) * time.Second,
		GCInterval:        time.Duration(cfg.Workflow.GCIntervalSec) * time.Second,
	})
	defer node.Shutdown()

	if cfg.Workflow.HealthCheckModule != "" {
		runHealthCheck(ctx, node, cfg, logger)
	}

	logger.Info("fluxdag node ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
}

// runHealthCheck closes cfg.Workflow's health-check InstructionTemplate
// over a canary argument and runs it as an ordinary one-task workflow,
// proving the fetch/invoke/receipt path end to end before the node
// starts accepting real work. Failures are logged, not fatal: a cold
// module gateway or an unwired invoker shouldn't keep the node from
// coming up to serve already-resumable workflows.
func runHealthCheck(ctx context.Context, node *runner.Runner, cfg *config.Config, logger *slog.Logger) {
	resource, err := model.ParseResourceURL(cfg.Workflow.HealthCheckModule)
	if err != nil {
		logger.Error("health check module url invalid", "module", cfg.Workflow.HealthCheckModule, "error", err)
		return
	}
	tmpl := model.InstructionTemplate{Name: "healthcheck", Resource: resource, Ability: cfg.Workflow.HealthCheckAbility}
	ins := model.CloseArg(tmpl, ipld.Int(1))
	task := model.NewInlineTask(ins, model.ResourceConfig{Fuel: 1000})
	inv := model.Invocation{Run: map[model.TaskLabel]model.Task{"healthcheck": task}}

	info, err := node.RunWorkflow(ctx, "healthcheck", inv)
	if err != nil {
		logger.Error("health check workflow failed to start", "error", err)
		return
	}
	logger.Info("health check workflow started", "workflow", info.Workflow.String())
}

func openReceiptStore(cfg *config.Config, logger *slog.Logger) (store.ReceiptStore, func()) {
	if cfg.Database.DSN == "" {
		logger.Warn("no postgres dsn configured, using in-memory receipt store")
		return store.NewMemory(), func() {}
	}
	pg, err := store.Open(cfg.Database.DSN)
	if err != nil {
		logger.Error("postgres open failed, falling back to in-memory store", "error", err)
		return store.NewMemory(), func() {}
	}
	if err := pg.Migrate(context.Background()); err != nil {
		logger.Error("postgres migrate failed", "error", err)
	}
	return pg, func() { pg.Close() }
}

// fetchAdapter bridges fetch.HTTPFetcher's Resource-based Fetch to
// scheduler.FetchFunc's signature.
func fetchAdapter(fetcher *fetch.HTTPFetcher) scheduler.FetchFunc {
	return func(ctx context.Context, resources []model.Resource) (map[string][]byte, error) {
		return fetch.All(ctx, resources, fetcher)
	}
}

// newPlaceholderInvoker wires a RawInvoker stub: actual Wasm execution is
// an external collaborator per spec.md §1 ("Wasm host-binding internals"
// is out of scope), so this echoes the ability name back as an error
// until a real engine (e.g. a wasmtime-go embedding) is wired in.
func newPlaceholderInvoker(logger *slog.Logger) worker.WasmInvoker {
	return argbridge.NewAdapter(noopRawInvoker{logger: logger}, map[string]argbridge.Signature{})
}

type noopRawInvoker struct{ logger *slog.Logger }

func (n noopRawInvoker) InvokeRaw(ctx context.Context, module []byte, ability string, arg argbridge.Arg) (argbridge.Arg, error) {
	n.logger.Warn("no wasm engine wired; invocation rejected", "ability", ability)
	return argbridge.Arg{}, errNoEngine
}

var errNoEngine = errors.New("server: no wasm engine configured (wire one in cmd/server/main.go)")
