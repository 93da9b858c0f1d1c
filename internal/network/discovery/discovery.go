// Package discovery implements peer discovery (spec.md §4.11): a
// rendezvous client/server with TTL'd registrations, plus a local-subnet
// "mDNS" substitute. Grounded on internal/federation/handshake_service.go's
// session-registry-with-TTL shape and internal/fabric/hub.go's
// spoke-registration bookkeeping — the pack has no mDNS library, so the
// LAN discovery here is a UDP broadcast helper over stdlib net, documented
// in DESIGN.md as a stdlib-justified component.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultNamespace is the default deployment-wide rendezvous namespace.
// spec.md §9 flags the namespace as something that "must be made
// configurable"; fluxdag threads it through Config rather than hardcoding it.
const DefaultNamespace = "fluxdag"

// ClientState is the rendezvous-client per-peer state machine named in
// spec.md §4.7: independently tracked for "am I registered" and "have I
// discovered peers".
type ClientState int

const (
	StateUnknown ClientState = iota
	StateRegistered
	StateExpired
	StateReRegistering
	StateDiscovered
	StateReDiscovering
)

// Registration is one entry in the rendezvous server's table.
type Registration struct {
	PeerID    string
	Namespace string
	Addr      string
	ExpiresAt time.Time
}

func (r Registration) expired(now time.Time) bool { return now.After(r.ExpiresAt) }

// Server is an in-process rendezvous point: peers register themselves
// with a TTL and query for others in the same namespace. In a multi-node
// deployment exactly one configured peer runs this (spec.md "Rendezvous
// server (optional)").
type Server struct {
	mu     sync.RWMutex
	byNS   map[string]map[string]Registration
	logger *log.Logger
}

// NewServer builds an empty rendezvous server.
func NewServer() *Server {
	return &Server{
		byNS:   make(map[string]map[string]Registration),
		logger: log.New(log.Writer(), "[RENDEZVOUS] ", log.LstdFlags),
	}
}

// Register records peerID's addr in namespace for ttl.
func (s *Server) Register(namespace, peerID, addr string, ttl time.Duration) Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byNS[namespace] == nil {
		s.byNS[namespace] = make(map[string]Registration)
	}
	reg := Registration{PeerID: peerID, Namespace: namespace, Addr: addr, ExpiresAt: time.Now().Add(ttl)}
	s.byNS[namespace][peerID] = reg
	s.logger.Printf("registered %s in %s (ttl=%s)", peerID, namespace, ttl)
	return reg
}

// Unregister removes peerID's registration.
func (s *Server) Unregister(namespace, peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byNS[namespace], peerID)
}

// Discover returns every non-expired registration in namespace other than
// excludePeerID. The returned cookie is a fresh opaque token (uuid.NewString,
// matching the teacher's request-ID generation in
// internal/fabric/redis_event_bus.go) a client can hand back on its next
// re-discover call; this in-process implementation doesn't use it for
// pagination.
func (s *Server) Discover(namespace, excludePeerID string) (regs []Registration, cookie string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	table := s.byNS[namespace]
	for id, reg := range table {
		if reg.expired(now) {
			delete(table, id)
			continue
		}
		if id == excludePeerID {
			continue
		}
		regs = append(regs, reg)
	}
	return regs, uuid.NewString()
}

// Client manages one local peer's registration/discovery lifecycle
// against a Server (which may be reached in-process or, from another
// process, through RemoteClient over the websocket transport in
// transport.go).
type Client struct {
	mu    sync.Mutex
	state ClientState
	// discoverState tracks the independent Discovered/Re-discovering
	// machine (spec.md §4.7 models these as two separate state
	// machines).
	discoverState ClientState
	cookie        string
}

// NewClient starts a Client in StateUnknown.
func NewClient() *Client { return &Client{} }

// OnRegistered transitions Unknown/Expired -> Registered; callers should
// schedule a re-registration timer at the TTL.
func (c *Client) OnRegistered() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateRegistered
}

// OnExpired transitions Registered -> Expired, at which point the caller
// should re-discover from the same rendezvous point per spec.md §4.7.
func (c *Client) OnExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateExpired
}

// OnReRegistering marks a re-registration attempt in flight.
func (c *Client) OnReRegistering() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateReRegistering
}

// OnDiscovered transitions Unknown -> Discovered(cookie), recording the
// cookie for the next re-discover call.
func (c *Client) OnDiscovered(cookie string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoverState = StateDiscovered
	c.cookie = cookie
}

// OnReDiscovering marks a re-discovery attempt in flight.
func (c *Client) OnReDiscovering() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoverState = StateReDiscovering
}

// State and DiscoverState report the client's current machine states.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) DiscoverState() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discoverState
}

// Cookie returns the last discovery cookie, for re-discover calls.
func (c *Client) Cookie() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cookie
}

// --- local-subnet discovery (mDNS substitute) ---

// lanMessage is the UDP broadcast payload: "here I am" announcements sent
// periodically so other nodes on the same subnet can find each other
// without a rendezvous server.
type lanMessage struct {
	PeerID string `json:"peer_id"`
	Addr   string `json:"addr"`
}

// LanDiscoverer periodically broadcasts this node's presence on a UDP
// port and reports peers it hears from. It is the mDNS substitute spec.md
// §4.11 calls for; no example repo imports an mDNS library, so this is a
// stdlib net implementation, justified in DESIGN.md.
type LanDiscoverer struct {
	peerID      string
	addr        string
	broadcast   string // e.g. "255.255.255.255:4247"
	interval    time.Duration
	logger      *log.Logger
}

// NewLanDiscoverer builds a discoverer that announces addr under peerID
// on the given broadcast address.
func NewLanDiscoverer(peerID, addr, broadcastAddr string, interval time.Duration) *LanDiscoverer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LanDiscoverer{
		peerID:    peerID,
		addr:      addr,
		broadcast: broadcastAddr,
		interval:  interval,
		logger:    log.New(log.Writer(), "[LAN-DISCOVERY] ", log.LstdFlags),
	}
}

// Run announces presence every interval and listens for other
// announcements, invoking onPeer for every announcement heard from
// another peer (repeats included), until ctx is canceled.
func (d *LanDiscoverer) Run(ctx context.Context, listenPort int, onPeer func(peerID, addr string)) error {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", listenPort))
	if err != nil {
		return fmt.Errorf("discovery: lan listen: %w", err)
	}
	go d.announceLoop(ctx, listenPort)

	buf := make([]byte, 1024)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Printf("read: %v", err)
			continue
		}
		var msg lanMessage
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			continue
		}
		if msg.PeerID == d.peerID {
			continue
		}
		onPeer(msg.PeerID, msg.Addr)
	}
}

func (d *LanDiscoverer) announceLoop(ctx context.Context, listenPort int) {
	raddr, err := net.ResolveUDPAddr("udp4", d.broadcast)
	if err != nil {
		d.logger.Printf("resolve broadcast addr: %v", err)
		return
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		d.logger.Printf("dial broadcast: %v", err)
		return
	}
	defer conn.Close()

	msg, err := json.Marshal(lanMessage{PeerID: d.peerID, Addr: d.addr})
	if err != nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if _, err := conn.Write(msg); err != nil {
			d.logger.Printf("broadcast: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
