// Package network implements the single-owner peer-network event loop
// (spec.md §4.7): it owns the Swarm and is the sole writer of every peer
// connection, dispatching commands from workers/the runner and
// translating connectivity changes into notifications. DHT put/get
// (§4.8), gossip (§4.9), request/response (§4.10), and discovery (§4.11)
// are each a subpackage the loop composes; see SPEC_FULL.md's DOMAIN
// STACK for why this is gRPC+Redis rather than libp2p.
package network

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fluxdag/fluxdag/internal/circuitbreaker"
	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
	"github.com/fluxdag/fluxdag/internal/network/discovery"
	"github.com/fluxdag/fluxdag/internal/network/dht"
	"github.com/fluxdag/fluxdag/internal/network/gossip"
	"github.com/fluxdag/fluxdag/internal/network/reqresp"
	"github.com/fluxdag/fluxdag/internal/notify"
	"github.com/fluxdag/fluxdag/internal/store"

	"google.golang.org/grpc"
)

// Loop is the network event loop. Callers submit work through Commands()
// and observe outcomes through the shared notify.Bus and, for commands
// that carry one, the command's reply channel, matching spec.md §4.7's
// command-channel design.
type Loop struct {
	cfg    Config
	swarm  *Swarm
	dht    *dht.Table
	gossip *gossip.Bus
	store  store.ReceiptStore
	notify *notify.Bus
	logger *log.Logger

	rendezvousServer *discovery.Server // non-nil only if cfg.RunRendezvousServer
	rendezvousClient *discovery.Client
	grpcServer       *grpc.Server

	// dialBreakers trips per-peer after repeated dial failures so a
	// wedged or unreachable peer stops consuming a dialTicker tick every
	// interval; it resets itself to half-open after cfg.DialInterval.
	dialBreakers *circuitbreaker.Manager

	cmds     chan Command
	shutdown chan struct{}
}

// New builds a Loop. store is the externally-owned receipt store; rdb
// connections backing dht/gossip must already be constructed by the
// caller (cmd/server wires this from internal/config).
func New(cfg Config, dhtTable *dht.Table, gossipBus *gossip.Bus, receiptStore store.ReceiptStore, notifyBus *notify.Bus) *Loop {
	cfg = cfg.withDefaults()
	l := &Loop{
		cfg:              cfg,
		swarm:            NewSwarm(cfg.MaxConnectedPeers),
		dht:              dhtTable,
		gossip:           gossipBus,
		store:            receiptStore,
		notify:           notifyBus,
		logger:           log.New(log.Writer(), "[NETLOOP] ", log.LstdFlags),
		rendezvousClient: discovery.NewClient(),
		dialBreakers: circuitbreaker.NewManager(&circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    0, // counts only reset on a state transition, not on a timer
			Timeout:     cfg.DialInterval,
			ReadyToTrip: func(c circuitbreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				notifyBus.Emit(notify.OutgoingConnectionError, map[string]ipld.Value{
					"peer": ipld.String(name), "error": ipld.String(fmt.Sprintf("circuit %s -> %s", from, to)),
				})
			},
		}),
		cmds:     make(chan Command, cfg.CommandBuffer),
		shutdown: make(chan struct{}),
	}
	if cfg.RunRendezvousServer {
		l.rendezvousServer = discovery.NewServer()
	}
	return l
}

// Commands returns the channel callers submit Commands on. Send is
// non-blocking from the caller's side via TrySend; workers/the runner
// should prefer TrySend to honor the backpressure policy of spec.md §5.
func (l *Loop) Commands() chan<- Command { return l.cmds }

// TrySend submits cmd without blocking, returning ErrChannelFull if the
// buffer is full.
func (l *Loop) TrySend(cmd Command) error {
	select {
	case l.cmds <- cmd:
		return nil
	default:
		return ErrChannelFull
	}
}

// Run drives the event loop until ctx is canceled or a Shutdown command
// completes. It is meant to run as exactly one goroutine for the
// lifetime of the node.
func (l *Loop) Run(ctx context.Context) error {
	if l.cfg.Namespace != "" && l.gossip != nil {
		l.gossip.Start(ctx)
	}

	for _, p := range l.cfg.KnownPeers {
		l.dialPeer(ctx, p, true)
	}

	dialTicker := time.NewTicker(l.cfg.DialInterval)
	discoverTicker := time.NewTicker(l.cfg.DiscoveryInterval)
	registerTicker := time.NewTicker(l.cfg.RegistrationTTL)
	defer dialTicker.Stop()
	defer discoverTicker.Stop()
	defer registerTicker.Stop()

	if l.cfg.RendezvousAddr != "" {
		l.registerWithRendezvous(ctx)
		l.discoverFromRendezvous(ctx)
	}

	if l.cfg.LanDiscoveryEnabled {
		lan := discovery.NewLanDiscoverer(string(l.cfg.PeerID), l.cfg.ListenAddr, l.cfg.LanBroadcastAddr, l.cfg.DiscoveryInterval)
		go func() {
			if err := lan.Run(ctx, l.cfg.LanListenPort, l.onLanPeer(ctx)); err != nil {
				l.logger.Printf("lan discovery: %v", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			l.swarm.Close()
			return ctx.Err()

		case cmd := <-l.cmds:
			if l.handleCommand(ctx, cmd) {
				l.swarm.Close()
				return nil
			}

		case <-dialTicker.C:
			for _, p := range l.cfg.KnownPeers {
				if !l.swarm.Connected(p.ID) {
					l.dialPeer(ctx, p, true)
				}
			}

		case <-discoverTicker.C:
			if l.cfg.RendezvousAddr != "" {
				l.discoverFromRendezvous(ctx)
			}

		case <-registerTicker.C:
			if l.cfg.RendezvousAddr != "" {
				l.registerWithRendezvous(ctx)
			}
		}
	}
}

func (l *Loop) dialPeer(ctx context.Context, p PeerAddr, trusted bool) {
	if p.Version != "" && p.Version != l.cfg.ProtocolVersion {
		l.logger.Printf("rejecting peer %s: protocol version %q != %q", p.ID, p.Version, l.cfg.ProtocolVersion)
		return
	}
	if l.swarm.AtCapacity() {
		return
	}
	breaker := l.dialBreakers.Get(string(p.ID))
	if err := breaker.Allow(); err != nil {
		return
	}
	if _, err := breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return l.swarm.Dial(ctx, p, trusted)
	}); err != nil {
		l.notify.Emit(notify.OutgoingConnectionError, map[string]ipld.Value{
			"peer": ipld.String(string(p.ID)), "error": ipld.String(err.Error()),
		})
		return
	}
	l.notify.Emit(notify.ConnectionEstablished, map[string]ipld.Value{"peer": ipld.String(string(p.ID))})
	go l.swarm.watchConnectivity(ctx, p.ID, func(id PeerID) {
		l.notify.Emit(notify.ConnectionClosed, map[string]ipld.Value{"peer": ipld.String(string(id))})
		if trusted {
			// re-dialed by the next dialTicker tick.
			l.logger.Printf("trusted peer %s disconnected, will redial at next interval", id)
		}
	})
}

func (l *Loop) registerWithRendezvous(ctx context.Context) {
	if l.rendezvousServer != nil {
		l.rendezvousServer.Register(l.cfg.Namespace, string(l.cfg.PeerID), l.cfg.ListenAddr, l.cfg.RegistrationTTL)
		l.rendezvousClient.OnRegistered()
		l.notify.Emit(notify.RegisteredRendezvous, map[string]ipld.Value{"peer": ipld.String(string(l.cfg.PeerID))})
		return
	}
	// Remote rendezvous server: dial its address as an ordinary peer and
	// mark the client registered. No registration request is sent to the
	// remote server.
	l.dialPeer(ctx, PeerAddr{ID: PeerID(l.cfg.RendezvousAddr), Addr: l.cfg.RendezvousAddr}, false)
	l.rendezvousClient.OnRegistered()
	l.notify.Emit(notify.RegisteredRendezvous, map[string]ipld.Value{"peer": ipld.String(string(l.cfg.PeerID))})
}

// onLanPeer builds the callback LanDiscoverer invokes for each peer heard
// on the local subnet, dialing it the same way a rendezvous-discovered
// peer is dialed.
func (l *Loop) onLanPeer(ctx context.Context) func(peerID, addr string) {
	return func(peerID, addr string) {
		pid := PeerID(peerID)
		if l.swarm.Connected(pid) || l.swarm.AtCapacity() {
			return
		}
		l.dialPeer(ctx, PeerAddr{ID: pid, Addr: addr}, false)
		l.notify.Emit(notify.DiscoveredMdns, map[string]ipld.Value{"peer": ipld.String(peerID)})
	}
}

func (l *Loop) discoverFromRendezvous(ctx context.Context) {
	var regs []discovery.Registration
	if l.rendezvousServer != nil {
		regs, _ = l.rendezvousServer.Discover(l.cfg.Namespace, string(l.cfg.PeerID))
	}
	l.rendezvousClient.OnDiscovered(l.rendezvousClient.Cookie())
	for _, reg := range regs {
		if l.swarm.Connected(PeerID(reg.PeerID)) || l.swarm.AtCapacity() {
			continue
		}
		l.dialPeer(ctx, PeerAddr{ID: PeerID(reg.PeerID), Addr: reg.Addr}, false)
		l.notify.Emit(notify.DiscoveredRendezvous, map[string]ipld.Value{"peer": ipld.String(reg.PeerID)})
	}
}

// handleCommand processes one Command; returns true when a Shutdown
// command has fully completed and Run should exit.
func (l *Loop) handleCommand(ctx context.Context, cmd Command) bool {
	switch cmd.Kind {
	case CmdFindRecord:
		l.handleFindRecord(ctx, cmd)
	case CmdRemoveRecord:
		err := l.dht.Remove(ctx, cmd.CID.Bytes())
		sendErr(cmd.ErrReply, err)
	case CmdGetProviders:
		l.handleGetProviders(ctx, cmd)
	case CmdProvideRecord:
		err := l.dht.Provide(ctx, cmd.CID.Bytes(), string(l.cfg.PeerID))
		sendErr(cmd.ErrReply, err)
	case CmdOutboundRequest:
		l.handleOutboundRequest(ctx, cmd)
	case CmdProvidersFound:
		for _, p := range cmd.Providers {
			l.TrySend(Command{Kind: CmdOutboundRequest, Peer: p, ReqKey: cmd.CID, ReqCapsTag: cmd.CapsuleTag, Reply: cmd.Reply})
		}
	case CmdCapturedReceipt:
		l.handleCapturedReceipt(ctx, cmd)
	case CmdReplayReceipts:
		l.handleReplayReceipts(ctx, cmd)
	case CmdRegisterPeer:
		l.registerWithRendezvous(ctx)
	case CmdDiscoverPeers:
		l.discoverFromRendezvous(ctx)
	case CmdShutdown:
		close(cmd.Done)
		return true
	}
	return false
}

func (l *Loop) handleFindRecord(ctx context.Context, cmd Command) {
	rec, err := l.dht.Get(ctx, cmd.CID.Bytes())
	if err != nil {
		cmd.Reply <- FoundEvent{Kind: FoundNone, Err: err}
		return
	}
	v, err := ipld.DecodeCBOR(rec.Capsule)
	if err != nil {
		cmd.Reply <- FoundEvent{Kind: FoundNone, Err: err}
		return
	}
	switch rec.Kind {
	case dht.RecordReceipt:
		r, err := model.ReceiptFromCapsule(v)
		if err != nil {
			cmd.Reply <- FoundEvent{Kind: FoundNone, Err: err}
			return
		}
		l.notify.Emit(notify.GotReceiptDht, map[string]ipld.Value{"instruction": ipld.Link(cmd.CID)})
		cmd.Reply <- FoundEvent{Kind: FoundReceipt, Receipt: r}
	case dht.RecordWorkflowInfo:
		wi, err := model.WorkflowInfoFromCapsule(v)
		if err != nil {
			cmd.Reply <- FoundEvent{Kind: FoundNone, Err: err}
			return
		}
		l.notify.Emit(notify.GotWorkflowInfoDht, map[string]ipld.Value{"workflow": ipld.Link(cmd.CID)})
		cmd.Reply <- FoundEvent{Kind: FoundWorkflow, Workflow: wi}
	default:
		cmd.Reply <- FoundEvent{Kind: FoundNone, Err: fmt.Errorf("network: unrecognized capsule for %s", cmd.CID)}
	}
}

func (l *Loop) handleGetProviders(ctx context.Context, cmd Command) {
	peers, err := l.dht.Providers(ctx, cmd.CID.Bytes())
	if err != nil {
		cmd.ProvReply <- nil
		return
	}
	out := make([]PeerID, len(peers))
	for i, p := range peers {
		out[i] = PeerID(p)
	}
	cmd.ProvReply <- out
}

func (l *Loop) handleOutboundRequest(ctx context.Context, cmd Command) {
	client, ok := l.swarm.Client(cmd.Peer)
	if !ok {
		cmd.Reply <- FoundEvent{Kind: FoundNone, Err: ErrProviderUnavailable}
		return
	}
	resp, err := client.Exchange(ctx, reqresp.Request{CID: cmd.ReqKey.String(), CapsuleTag: cmd.ReqCapsTag})
	if err != nil {
		cmd.Reply <- FoundEvent{Kind: FoundNone, Err: err}
		return
	}
	if respErr := resp.AsError(); respErr != nil {
		cmd.Reply <- FoundEvent{Kind: FoundNone, Err: respErr}
		return
	}
	v, err := ipld.DecodeCBOR(resp.Capsule)
	if err != nil {
		cmd.Reply <- FoundEvent{Kind: FoundNone, Err: err}
		return
	}
	wi, err := model.WorkflowInfoFromCapsule(v)
	if err != nil {
		cmd.Reply <- FoundEvent{Kind: FoundNone, Err: err}
		return
	}
	l.notify.Emit(notify.ReceivedWorkflowInfo, map[string]ipld.Value{"workflow": ipld.Link(wi.Workflow)})
	cmd.Reply <- FoundEvent{Kind: FoundWorkflow, Workflow: wi}
}

func (l *Loop) handleCapturedReceipt(ctx context.Context, cmd Command) {
	if err := l.store.Put(ctx, cmd.Receipt); err != nil {
		l.logger.Printf("store receipt: %v", err)
	}

	if l.gossip != nil {
		if err := l.gossip.Publish(ctx, cmd.Receipt); err != nil {
			l.logger.Printf("gossip publish: %v", err)
		} else {
			l.notify.Emit(notify.PublishedReceiptPubsub, map[string]ipld.Value{"instruction": ipld.Link(cmd.Receipt.Instruction)})
		}
	}

	rcaps, err := cmd.Receipt.Capsule()
	if err == nil {
		data, err := ipld.EncodeCBOR(rcaps)
		if err == nil {
			q, err := l.dht.Put(ctx, cmd.Receipt.Instruction.Bytes(), data, l.cfg.ReceiptQuorum, l.cfg.DHTWaitTimeout)
			l.emitQuorumResult(q, err, notify.ReceiptQuorumSuccessDht, notify.ReceiptQuorumFailureDht, notify.PutReceiptDht)
		}
	}

	if cmd.WorkflowInfo != nil {
		wcaps, err := cmd.WorkflowInfo.Capsule()
		if err == nil {
			data, err := ipld.EncodeCBOR(wcaps)
			if err == nil {
				q, err := l.dht.Put(ctx, cmd.WorkflowInfo.Workflow.Bytes(), data, l.cfg.WorkflowQuorum, l.cfg.DHTWaitTimeout)
				l.emitQuorumResult(q, err, notify.WorkflowInfoQuorumSuccessDht, notify.WorkflowInfoQuorumFailureDht, notify.PutWorkflowInfoDht)
			}
		}
		if err := l.dht.Provide(ctx, cmd.WorkflowInfo.Workflow.Bytes(), string(l.cfg.PeerID)); err != nil {
			l.logger.Printf("dht provide workflow info: %v", err)
		}
	}
}

func (l *Loop) emitQuorumResult(q dht.QuorumResult, err error, successTag, failureTag, putTag notify.Tag) {
	if err != nil {
		l.logger.Printf("dht put: %v", err)
		return
	}
	l.notify.Emit(putTag, map[string]ipld.Value{})
	if q.Satisfied() {
		l.notify.Emit(successTag, map[string]ipld.Value{
			"acked": ipld.Int(int64(q.AckedReplicas)), "quorum": ipld.Int(int64(q.Quorum)),
		})
		return
	}
	l.notify.Emit(failureTag, map[string]ipld.Value{
		"acked": ipld.Int(int64(q.AckedReplicas)), "quorum": ipld.Int(int64(q.Quorum)),
		"connected": ipld.Int(int64(l.swarm.Count())),
	})
}

func (l *Loop) handleReplayReceipts(ctx context.Context, cmd Command) {
	for _, instr := range cmd.Instructions {
		r, ok, err := l.store.GetByInstruction(ctx, instr)
		if err != nil || !ok {
			continue
		}
		if l.gossip != nil {
			_ = l.gossip.Publish(ctx, r)
		}
		rc, err := r.CID()
		if err != nil {
			continue
		}
		l.notify.Emit(notify.CapturedReceipt, map[string]ipld.Value{
			"receipt":     ipld.Link(rc),
			"instruction": ipld.Link(instr),
			"workflow":    ipld.Link(cmd.CID),
			"name":        ipld.String(cmd.WorkflowName),
			"replayed":    ipld.Bool(true),
		})
	}
}

func sendErr(ch chan error, err error) {
	if ch != nil {
		ch <- err
	}
}

// Exchange implements reqresp.Handler, serving inbound workflow-info
// queries from peers (spec.md §4.7's "Request/response inbound workflow
// query").
func (l *Loop) Exchange(ctx context.Context, req reqresp.Request) (reqresp.Response, error) {
	if req.CapsuleTag != ipld.TagWorkflowInfo {
		return reqresp.Response{Error: &reqresp.ErrorInfo{Kind: reqresp.ErrUnsupported, Request: req.CID}}, nil
	}
	cid, err := ipld.ParseCID(req.CID)
	if err != nil {
		return reqresp.Response{Error: &reqresp.ErrorInfo{Kind: reqresp.ErrInvalidCaps, Request: req.CID}}, nil
	}
	wi, ok, err := l.store.GetWorkflowInfo(ctx, cid)
	if err != nil || !ok {
		return reqresp.Response{Error: &reqresp.ErrorInfo{Kind: reqresp.ErrTimeout, Request: req.CID}}, nil
	}
	caps, err := wi.Capsule()
	if err != nil {
		return reqresp.Response{Error: &reqresp.ErrorInfo{Kind: reqresp.ErrInvalidCaps, Request: req.CID}}, nil
	}
	data, err := ipld.EncodeCBOR(caps)
	if err != nil {
		return reqresp.Response{Error: &reqresp.ErrorInfo{Kind: reqresp.ErrInvalidCaps, Request: req.CID}}, nil
	}
	l.notify.Emit(notify.SentWorkflowInfo, map[string]ipld.Value{"workflow": ipld.Link(cid)})
	return reqresp.Response{Capsule: data}, nil
}

// NewServer builds the gRPC server hosting this Loop's Exchange service,
// ready for the caller to net.Listen and Serve on cfg.ListenAddr.
func (l *Loop) NewServer() *grpc.Server {
	s := grpc.NewServer()
	reqresp.RegisterExchangeServer(s, l)
	l.grpcServer = s
	return s
}

// Shutdown submits a Shutdown command and waits (up to
// cfg.ShutdownTimeout) for it to complete.
func (l *Loop) Shutdown(ctx context.Context) error {
	cmd, done := ShutdownCmd()
	if err := l.TrySend(cmd); err != nil {
		return err
	}
	if l.grpcServer != nil {
		l.grpcServer.GracefulStop()
	}
	select {
	case <-done:
		return nil
	case <-time.After(l.cfg.ShutdownTimeout):
		return fmt.Errorf("network: shutdown timed out after %s", l.cfg.ShutdownTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
