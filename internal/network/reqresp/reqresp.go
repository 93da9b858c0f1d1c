// Package reqresp implements the direct request/response protocol (spec.md
// §4.10): a named peer is asked for workflow info directly when a DHT get
// times out. The pack has no libp2p request/response stream muxer, so this
// is built the way the teacher wires its own inter-instance RPCs — a
// gRPC service defined by hand (google.golang.org/grpc,  no protoc step),
// matching the shape of pb.LedgerServiceClient/PlanServiceServer and the
// federation handshake's UnimplementedXServer pattern.
package reqresp

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// ProtocolID is the implementation-defined, versioned protocol name
// (spec.md §6); kept as a constant rather than derived from config since
// every node in a deployment must agree on it.
const ProtocolID = "/fluxdag/exchange/1.0.0"

const serviceName = "fluxdag.network.Exchange"

// ErrorKind enumerates the typed error envelope spec.md §4.7/§6 requires
// for a rejected or failed workflow-info query.
type ErrorKind string

const (
	ErrUnsupported  ErrorKind = "Unsupported"
	ErrTimeout      ErrorKind = "Timeout"
	ErrInvalidCaps  ErrorKind = "InvalidCapsule"
)

// Request asks a peer for the capsule identified by CID; CapsuleTag pins
// the expected capsule type so a server can reject a mismatched request
// before attempting to decode anything.
type Request struct {
	CID        string `json:"cid"`
	CapsuleTag string `json:"capsule_tag"`
}

// Response carries either capsule bytes or a typed error envelope, never
// both.
type Response struct {
	Capsule []byte     `json:"capsule,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is the wire shape of the `{error: {kind, request}}` envelope.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Request string    `json:"request"`
}

// AsError converts a populated error envelope into a Go error, or returns
// nil if the response carried a capsule.
func (r *Response) AsError() error {
	if r.Error == nil {
		return nil
	}
	return fmt.Errorf("reqresp: %s: %s", r.Error.Kind, r.Error.Request)
}

// Handler is implemented by whatever locally stores workflow info; it is
// the server-side collaborator the Exchange service delegates to.
type Handler interface {
	// Exchange looks up the capsule for req.CID, typed by req.CapsuleTag.
	Exchange(ctx context.Context, req Request) (Response, error)
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec over
// encoding/json, standing in for a protoc-generated proto codec: every
// message here is a plain Go struct, so there is no .proto to compile.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// RegisterExchangeServer wires h into s under the Exchange service name.
func RegisterExchangeServer(s *grpc.Server, h Handler) {
	s.RegisterService(&serviceDesc, h)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Exchange",
			Handler:    exchangeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: ProtocolID,
}

func exchangeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).Exchange(ctx, *in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Exchange"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Handler).Exchange(ctx, *req.(*Request))
	}
	return interceptor(ctx, in, info, handler)
}

// Client queries a single peer's Exchange service.
type Client struct {
	cc *grpc.ClientConn
}

// NewClient wraps an already-dialed connection (dialed with DialOptions(),
// which selects the json codec by content subtype).
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

// DialOptions returns the grpc.DialOption set every reqresp client dial
// must include so the hand-rolled json codec is used instead of proto.
func DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodec{}.Name())),
	}
}

// Exchange sends req to the peer and returns its response.
func (c *Client) Exchange(ctx context.Context, req Request) (Response, error) {
	var resp Response
	err := c.cc.Invoke(ctx, "/"+serviceName+"/Exchange", &req, &resp)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.Unavailable {
			return Response{}, fmt.Errorf("reqresp: peer unavailable: %w", err)
		}
		return Response{}, err
	}
	return resp, nil
}
