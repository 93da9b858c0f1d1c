package network

import (
	"context"
	"fmt"
	"log"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fluxdag/fluxdag/internal/network/reqresp"
)

// connection is one live gRPC connection to a peer, exclusively owned by
// the Swarm (spec.md §5's "swarm exclusively owned by the event loop
// task").
type connection struct {
	peer    PeerAddr
	cc      *grpc.ClientConn
	client  *reqresp.Client
	trusted bool // a configured KnownPeer, re-dialed on disconnect
}

// Swarm owns every outbound peer connection. It is not safe for use by
// more than one goroutine concurrently except through the network event
// loop that holds it.
type Swarm struct {
	mu          sync.RWMutex
	conns       map[PeerID]*connection
	externals   map[string]bool // externally-reachable addresses (AutoNAT)
	logger      *log.Logger
	maxPeers    int
}

// NewSwarm builds an empty Swarm.
func NewSwarm(maxPeers int) *Swarm {
	return &Swarm{
		conns:     make(map[PeerID]*connection),
		externals: make(map[string]bool),
		logger:    log.New(log.Writer(), "[SWARM] ", log.LstdFlags),
		maxPeers:  maxPeers,
	}
}

// Count reports how many peers are currently connected.
func (s *Swarm) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Connected reports whether peerID already has a live connection.
func (s *Swarm) Connected(peerID PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conns[peerID]
	return ok
}

// AtCapacity reports whether the swarm has reached its configured
// max-connected-peers cap, per spec.md §4.7's dial-cap rule.
func (s *Swarm) AtCapacity() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns) >= s.maxPeers
}

// Dial connects to peer, rejecting it if already connected (trusted or
// not).
// The caller is responsible for the identify version check before Dial is
// invoked — a mismatched peer must never reach here.
func (s *Swarm) Dial(ctx context.Context, peer PeerAddr, trusted bool) (*connection, error) {
	if s.Connected(peer.ID) {
		return nil, fmt.Errorf("network: already connected to %s", peer.ID)
	}
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, reqresp.DialOptions()...)
	cc, err := grpc.NewClient(peer.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("network: dial %s: %w", peer.Addr, err)
	}
	conn := &connection{peer: peer, cc: cc, client: reqresp.NewClient(cc), trusted: trusted}
	s.mu.Lock()
	s.conns[peer.ID] = conn
	s.mu.Unlock()
	return conn, nil
}

// Disconnect tears down and forgets peerID's connection.
func (s *Swarm) Disconnect(peerID PeerID) {
	s.mu.Lock()
	conn, ok := s.conns[peerID]
	delete(s.conns, peerID)
	s.mu.Unlock()
	if ok {
		conn.cc.Close()
	}
}

// Peers returns a snapshot of every connected peer.
func (s *Swarm) Peers() []PeerAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PeerAddr, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c.peer)
	}
	return out
}

// Client returns the reqresp client for an already-connected peer.
func (s *Swarm) Client(peerID PeerID) (*reqresp.Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[peerID]
	if !ok {
		return nil, false
	}
	return c.client, true
}

// AddExternalAddr records addr as externally reachable (AutoNAT Public).
func (s *Swarm) AddExternalAddr(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.externals[addr] = true
}

// RemoveExternalAddr drops addr from the externally-reachable set unless
// it is pinned (explicitly announced in configuration).
func (s *Swarm) RemoveExternalAddr(addr string, pinned map[string]bool) {
	if pinned[addr] {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.externals, addr)
}

// ExternalAddrs returns a snapshot of this node's believed-public
// addresses.
func (s *Swarm) ExternalAddrs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.externals))
	for a := range s.externals {
		out = append(out, a)
	}
	return out
}

// watchConnectivity blocks until peerID's connection leaves Ready, then
// invokes onClosed. Run as a background goroutine per connection by the
// event loop.
func (s *Swarm) watchConnectivity(ctx context.Context, peerID PeerID, onClosed func(PeerID)) {
	s.mu.RLock()
	conn, ok := s.conns[peerID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	state := conn.cc.GetState()
	for state == connectivity.Ready || state == connectivity.Idle || state == connectivity.Connecting {
		if !conn.cc.WaitForStateChange(ctx, state) {
			return // ctx done
		}
		state = conn.cc.GetState()
	}
	s.Disconnect(peerID)
	onClosed(peerID)
}

// Close tears down every connection.
func (s *Swarm) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.conns {
		c.cc.Close()
		delete(s.conns, id)
	}
}
