package discovery

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader accepts every origin, matching the dev/staging branch of the
// teacher's internal/fabric/websocket.go CheckOrigin helper; a deployment
// fronting this with a public listener should terminate TLS and origin
// checks at its reverse proxy.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireRequest is the websocket framing for a register/discover/unregister call.
type wireRequest struct {
	Op        string        `json:"op"` // "register" | "discover" | "unregister"
	Namespace string        `json:"namespace"`
	PeerID    string        `json:"peer_id"`
	Addr      string        `json:"addr,omitempty"`
	TTL       time.Duration `json:"ttl,omitempty"`
}

type wireResponse struct {
	Registrations []Registration `json:"registrations,omitempty"`
	Cookie        string          `json:"cookie,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// ServeWS upgrades r to a websocket connection and answers
// register/discover/unregister requests against s for the connection's
// lifetime. Grounded on the teacher's Hub.HandleWebSocket
// upgrade-then-read-loop shape, generalized from the hub's routed-message
// protocol to the rendezvous server's three RPCs.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var req wireRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Printf("websocket read error: %v", err)
			}
			return
		}

		var resp wireResponse
		switch req.Op {
		case "register":
			s.Register(req.Namespace, req.PeerID, req.Addr, req.TTL)
		case "discover":
			regs, cookie := s.Discover(req.Namespace, req.PeerID)
			resp.Registrations, resp.Cookie = regs, cookie
		case "unregister":
			s.Unregister(req.Namespace, req.PeerID)
		default:
			resp.Error = "discovery: unknown op " + req.Op
		}

		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Printf("websocket write error: %v", err)
			return
		}
	}
}

// DialClient opens a websocket connection to a remote rendezvous server
// and returns a RemoteClient that speaks the ServeWS wire protocol.
func DialClient(url string) (*RemoteClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &RemoteClient{conn: conn}, nil
}

// RemoteClient is the network-facing counterpart to Server.ServeWS, used
// by a node whose rendezvous point is a different process.
type RemoteClient struct {
	conn *websocket.Conn
}

// Close releases the underlying websocket connection.
func (c *RemoteClient) Close() error { return c.conn.Close() }

// Register asks the remote rendezvous server to record this peer.
func (c *RemoteClient) Register(namespace, peerID, addr string, ttl time.Duration) error {
	if err := c.conn.WriteJSON(wireRequest{Op: "register", Namespace: namespace, PeerID: peerID, Addr: addr, TTL: ttl}); err != nil {
		return err
	}
	var resp wireResponse
	if err := c.conn.ReadJSON(&resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return errString(resp.Error)
	}
	return nil
}

// Discover asks the remote rendezvous server for namespace's peers,
// excluding peerID.
func (c *RemoteClient) Discover(namespace, peerID string) ([]Registration, string, error) {
	if err := c.conn.WriteJSON(wireRequest{Op: "discover", Namespace: namespace, PeerID: peerID}); err != nil {
		return nil, "", err
	}
	var resp wireResponse
	if err := c.conn.ReadJSON(&resp); err != nil {
		return nil, "", err
	}
	if resp.Error != "" {
		return nil, "", errString(resp.Error)
	}
	return resp.Registrations, resp.Cookie, nil
}

type errString string

func (e errString) Error() string { return string(e) }
