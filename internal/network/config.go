package network

import "time"

// AgentVersion and ProtocolVersion are compared during peer admission
// (spec.md §4.7's Identify handling): a peer whose protocol version
// differs from ours is never dialed into the routing table.
const (
	DefaultAgentVersion    = "fluxdag/0.1.0"
	DefaultProtocolVersion = "fluxdag/0.1.0"
)

// PeerAddr names one peer to dial, by ID and dial address (host:port for
// the gRPC reqresp transport).
type PeerAddr struct {
	ID      PeerID
	Addr    string
	Version string // agent version the peer announced, "" if unknown yet
}

// Config collects everything the network event loop needs to run.
type Config struct {
	// PeerID identifies this node; derived from the configured keypair
	// in production, a fixed string in tests.
	PeerID PeerID
	// ListenAddr is this node's reqresp gRPC listen address.
	ListenAddr string

	AgentVersion    string
	ProtocolVersion string

	// Namespace is the rendezvous namespace, deployment-global per
	// spec.md §9.
	Namespace string

	// KnownPeers are dialed at startup and re-dialed at DialInterval on
	// disconnect; they are treated as "trusted configured peers" per
	// spec.md §4.7.
	KnownPeers []PeerAddr

	// RendezvousAddr is the dial address of this deployment's rendezvous
	// server. Empty means the loop does no rendezvous registration or
	// discovery; RunRendezvousServer alone decides whether this node runs
	// the server.
	RendezvousAddr string
	RunRendezvousServer bool

	MaxConnectedPeers int

	ReceiptQuorum  int
	WorkflowQuorum int
	DHTWaitTimeout time.Duration

	DialInterval      time.Duration
	DiscoveryInterval time.Duration
	RegistrationTTL   time.Duration

	// LanDiscoveryEnabled turns on the UDP-broadcast "mDNS" substitute.
	LanDiscoveryEnabled bool
	LanBroadcastAddr    string
	LanListenPort       int

	CommandBuffer   int
	ShutdownTimeout time.Duration
}

// withDefaults fills zero-valued fields with sensible defaults so tests
// and callers don't need to populate every knob.
func (c Config) withDefaults() Config {
	if c.AgentVersion == "" {
		c.AgentVersion = DefaultAgentVersion
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = DefaultProtocolVersion
	}
	if c.Namespace == "" {
		c.Namespace = "fluxdag"
	}
	if c.MaxConnectedPeers <= 0 {
		c.MaxConnectedPeers = 32
	}
	if c.ReceiptQuorum <= 0 {
		c.ReceiptQuorum = 1
	}
	if c.WorkflowQuorum <= 0 {
		c.WorkflowQuorum = 1
	}
	if c.DHTWaitTimeout <= 0 {
		c.DHTWaitTimeout = 2 * time.Second
	}
	if c.DialInterval <= 0 {
		c.DialInterval = 30 * time.Second
	}
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = time.Minute
	}
	if c.RegistrationTTL <= 0 {
		c.RegistrationTTL = 5 * time.Minute
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = 256
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}
