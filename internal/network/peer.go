package network

import "errors"

// PeerID identifies a peer. In production it is derived from a public key
// (spec.md §1's "cryptographic keypair for peer identity"); fluxdag keeps
// it an opaque string so the network layer doesn't need to know the
// keypair's concrete type.
type PeerID string

var (
	// ErrNotEnabled is returned when an operation needs a collaborator
	// (e.g. pubsub) that wasn't configured.
	ErrNotEnabled = errors.New("network: not enabled")
	// ErrProviderUnavailable means no provider peer answered a
	// request/response query.
	ErrProviderUnavailable = errors.New("network: no provider available")
	// ErrTimeout is returned when a peer operation exceeds its deadline.
	ErrTimeout = errors.New("network: timeout")
	// ErrChannelFull is returned by a non-blocking command send that
	// would otherwise block the caller (spec.md §5 backpressure policy).
	ErrChannelFull = errors.New("network: command channel full")
	// ErrShutdownInProgress is returned by commands submitted after
	// Shutdown has been requested.
	ErrShutdownInProgress = errors.New("network: shutdown in progress")
	// ErrVersionMismatch is returned when a peer's identify protocol
	// version doesn't match ours; such a peer is never admitted.
	ErrVersionMismatch = errors.New("network: protocol version mismatch")
)

// QuorumFailure carries the detail spec.md §4.8/§7 requires for a failed
// DHT put: which peers (by best-effort identity) did accept the record,
// and how many peers are connected in total.
type QuorumFailure struct {
	SuccessPeers []PeerID
	Quorum       int
	Connected    int
}

func (e *QuorumFailure) Error() string {
	return "network: quorum not met"
}
