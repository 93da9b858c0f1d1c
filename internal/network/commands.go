package network

import (
	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
)

// CommandKind enumerates the command table in spec.md §4.7.
type CommandKind int

const (
	CmdFindRecord CommandKind = iota
	CmdRemoveRecord
	CmdGetProviders
	CmdProvideRecord
	CmdOutboundRequest
	CmdProvidersFound
	CmdCapturedReceipt
	CmdReplayReceipts
	CmdRegisterPeer
	CmdDiscoverPeers
	CmdShutdown
)

// FoundKind distinguishes which capsule a FindRecord resolved to.
type FoundKind int

const (
	FoundNone FoundKind = iota
	FoundReceipt
	FoundWorkflow
)

// FoundEvent is FindRecord's result, matching spec.md §4.7's
// FoundEvent::Receipt / FoundEvent::Workflow sum type.
type FoundEvent struct {
	Kind     FoundKind
	Receipt  model.Receipt
	Workflow *model.WorkflowInfo
	Err      error
}

// Command is a single unit of work submitted to the event loop. Exactly
// one field group is populated per Kind; reply channels are buffered by 1
// so a command handler's send never blocks even if the caller stops
// reading.
type Command struct {
	Kind CommandKind

	// FindRecord / RemoveRecord / GetProviders / ProvideRecord
	CID        ipld.CID
	CapsuleTag string
	Reply      chan FoundEvent
	ProvReply  chan []PeerID
	ErrReply   chan error

	// OutboundRequest
	Peer        PeerID
	ReqKey      ipld.CID
	ReqCapsTag  string

	// ProvidersFound
	Providers []PeerID

	// CapturedReceipt / ReplayReceipts
	Receipt      model.Receipt
	WorkflowInfo *model.WorkflowInfo
	Instructions []ipld.CID
	WorkflowName string

	// RegisterPeer / DiscoverPeers
	RegisterAddr string

	// Shutdown
	Done chan struct{}
}

// FindRecord asks the event loop to resolve cid via the DHT, decoding the
// result as capsuleTag.
func FindRecord(cid ipld.CID, capsuleTag string) (Command, chan FoundEvent) {
	ch := make(chan FoundEvent, 1)
	return Command{Kind: CmdFindRecord, CID: cid, CapsuleTag: capsuleTag, Reply: ch}, ch
}

// RemoveRecord asks the event loop to delete cid's DHT record.
func RemoveRecord(cid ipld.CID) (Command, chan error) {
	ch := make(chan error, 1)
	return Command{Kind: CmdRemoveRecord, CID: cid, ErrReply: ch}, ch
}

// GetProviders asks for the provider set of cid.
func GetProviders(cid ipld.CID) (Command, chan []PeerID) {
	ch := make(chan []PeerID, 1)
	return Command{Kind: CmdGetProviders, CID: cid, ProvReply: ch}, ch
}

// ProvideRecord announces this node as a provider of cid.
func ProvideRecord(cid ipld.CID, capsuleTag string) (Command, chan error) {
	ch := make(chan error, 1)
	return Command{Kind: CmdProvideRecord, CID: cid, CapsuleTag: capsuleTag, ErrReply: ch}, ch
}

// OutboundRequest asks a specific peer directly for a capsule, used as
// the provider-fallback path of spec.md §4.10.
func OutboundRequest(peer PeerID, cid ipld.CID, capsuleTag string) (Command, chan FoundEvent) {
	ch := make(chan FoundEvent, 1)
	return Command{Kind: CmdOutboundRequest, Peer: peer, ReqKey: cid, ReqCapsTag: capsuleTag, Reply: ch}, ch
}

// CapturedReceiptCmd persists+publishes a just-captured receipt: DB
// store, gossip publish, DHT put receipt, DHT put workflow info.
func CapturedReceiptCmd(r model.Receipt, wi *model.WorkflowInfo, workflowName string) Command {
	return Command{Kind: CmdCapturedReceipt, Receipt: r, WorkflowInfo: wi, WorkflowName: workflowName}
}

// ReplayReceiptsCmd loads referenced receipts from the store (in pointer
// order) and re-gossips + re-emits them for replay observers.
func ReplayReceiptsCmd(instructions []ipld.CID, workflow ipld.CID, workflowName string) Command {
	return Command{Kind: CmdReplayReceipts, Instructions: instructions, CID: workflow, WorkflowName: workflowName}
}

// RegisterPeerCmd registers this node with the loop's configured
// rendezvous point. addr is carried as RegisterAddr, but the loop does not
// read it.
func RegisterPeerCmd(addr string) Command {
	return Command{Kind: CmdRegisterPeer, RegisterAddr: addr}
}

// DiscoverPeersCmd asks the loop's configured rendezvous point for peers.
// addr is carried as RegisterAddr, but the loop does not read it.
func DiscoverPeersCmd(addr string) Command {
	return Command{Kind: CmdDiscoverPeers, RegisterAddr: addr}
}

// ShutdownCmd requests graceful teardown, acked on Done when complete.
func ShutdownCmd() (Command, chan struct{}) {
	ch := make(chan struct{})
	return Command{Kind: CmdShutdown, Done: ch}, ch
}
