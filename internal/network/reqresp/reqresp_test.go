package reqresp

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type fakeHandler struct {
	resp Response
	err  error
	got  Request
}

func (h *fakeHandler) Exchange(ctx context.Context, req Request) (Response, error) {
	h.got = req
	return h.resp, h.err
}

func dialBufconn(t *testing.T, h Handler) (*Client, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterExchangeServer(srv, h)
	go srv.Serve(lis)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	opts := append([]grpc.DialOption{
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, DialOptions()...)
	cc, err := grpc.NewClient("passthrough:///bufnet", opts...)
	require.NoError(t, err)
	return NewClient(cc), func() { cc.Close(); srv.Stop() }
}

func TestExchangeRoundTripOverBufconn(t *testing.T) {
	h := &fakeHandler{resp: Response{Capsule: []byte(`{"wf":"bafy123"}`)}}
	client, cleanup := dialBufconn(t, h)
	defer cleanup()

	resp, err := client.Exchange(context.Background(), Request{CID: "bafy123", CapsuleTag: "wf"})
	require.NoError(t, err)
	require.Nil(t, resp.AsError())
	require.Equal(t, []byte(`{"wf":"bafy123"}`), resp.Capsule)
	require.Equal(t, "bafy123", h.got.CID)
	require.Equal(t, "wf", h.got.CapsuleTag)
}

func TestExchangeErrorEnvelope(t *testing.T) {
	h := &fakeHandler{resp: Response{Error: &ErrorInfo{Kind: ErrUnsupported, Request: "bafy999"}}}
	client, cleanup := dialBufconn(t, h)
	defer cleanup()

	resp, err := client.Exchange(context.Background(), Request{CID: "bafy999", CapsuleTag: "receipt"})
	require.NoError(t, err)
	asErr := resp.AsError()
	require.Error(t, asErr)
	require.Contains(t, asErr.Error(), "Unsupported")
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	data, err := c.Marshal(Request{CID: "bafyabc", CapsuleTag: "receipt"})
	require.NoError(t, err)

	var back Request
	require.NoError(t, c.Unmarshal(data, &back))
	require.Equal(t, "bafyabc", back.CID)
	require.Equal(t, "receipt", back.CapsuleTag)
	require.Equal(t, "json", c.Name())
}
