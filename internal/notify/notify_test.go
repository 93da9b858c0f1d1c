package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxdag/fluxdag/internal/ipld"
)

func TestEventIPLDRoundTrip(t *testing.T) {
	e := New(PutReceiptDht, map[string]ipld.Value{"cid": ipld.String("bafy123")})
	v := e.ToIPLD()
	back, err := FromIPLD(v)
	require.NoError(t, err)
	require.Equal(t, e.Tag, back.Tag)
	require.Equal(t, e.Timestamp, back.Timestamp)
	require.Equal(t, "bafy123", back.Fields["cid"].AsString())
}

func TestEventJSONRoundTrip(t *testing.T) {
	e := New(ConnectionEstablished, map[string]ipld.Value{"peer_id": ipld.String("12D3KooW")})
	data, err := e.ToJSON()
	require.NoError(t, err)
	require.Contains(t, string(data), `"ConnectionEstablished"`)

	back, err := FromJSON(data)
	require.NoError(t, err)
	require.Equal(t, ConnectionEstablished, back.Tag)
	require.Equal(t, "12D3KooW", back.Fields["peer_id"].AsString())
}

func TestBusPublishFanOutToTagAndCatchAll(t *testing.T) {
	bus := NewBus(4)
	tagged := bus.Subscribe(CapturedReceipt)
	all := bus.SubscribeAll()

	bus.Emit(CapturedReceipt, map[string]ipld.Value{"workflow": ipld.String("w1")})

	select {
	case e := <-tagged:
		require.Equal(t, CapturedReceipt, e.Tag)
	case <-time.After(time.Second):
		t.Fatal("tagged subscriber did not receive event")
	}
	select {
	case e := <-all:
		require.Equal(t, CapturedReceipt, e.Tag)
	case <-time.After(time.Second):
		t.Fatal("catch-all subscriber did not receive event")
	}
}

func TestBusPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus(1)
	ch := bus.Subscribe(ReplayReceipts)
	bus.Emit(ReplayReceipts, nil)
	bus.Emit(ReplayReceipts, nil) // channel now full; must not block

	done := make(chan struct{})
	go func() {
		bus.Emit(ReplayReceipts, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
	<-ch
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(2)
	ch := bus.Subscribe(SentWorkflowInfo)
	bus.Unsubscribe(SentWorkflowInfo, ch)
	_, open := <-ch
	require.False(t, open)
}
