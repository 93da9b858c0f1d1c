// Package notify implements the notification bus (spec.md §4.13): a
// broadcast of typed lifecycle/network events, each carrying a millisecond
// timestamp, round-tripped as an IPLD single-key tagged variant and
// serialized to subscribers as DAG-JSON.
package notify

import (
	"fmt"
	"time"

	"github.com/fluxdag/fluxdag/internal/ipld"
)

// Tag identifies one event variant.
type Tag string

const (
	NewListenAddr                Tag = "NewListenAddr"
	ConnectionEstablished         Tag = "ConnectionEstablished"
	ConnectionClosed              Tag = "ConnectionClosed"
	OutgoingConnectionError       Tag = "OutgoingConnectionError"
	IncomingConnectionError       Tag = "IncomingConnectionError"
	StatusChangedAutonat          Tag = "StatusChangedAutonat"
	DiscoveredMdns                Tag = "DiscoveredMdns"
	DiscoveredRendezvous          Tag = "DiscoveredRendezvous"
	RegisteredRendezvous          Tag = "RegisteredRendezvous"
	DiscoverServedRendezvous      Tag = "DiscoverServedRendezvous"
	PeerRegisteredRendezvous      Tag = "PeerRegisteredRendezvous"
	PublishedReceiptPubsub        Tag = "PublishedReceiptPubsub"
	ReceivedReceiptPubsub         Tag = "ReceivedReceiptPubsub"
	PutReceiptDht                 Tag = "PutReceiptDht"
	GotReceiptDht                 Tag = "GotReceiptDht"
	PutWorkflowInfoDht            Tag = "PutWorkflowInfoDht"
	GotWorkflowInfoDht             Tag = "GotWorkflowInfoDht"
	ReceiptQuorumSuccessDht        Tag = "ReceiptQuorumSuccessDht"
	ReceiptQuorumFailureDht        Tag = "ReceiptQuorumFailureDht"
	WorkflowInfoQuorumSuccessDht   Tag = "WorkflowInfoQuorumSuccessDht"
	WorkflowInfoQuorumFailureDht   Tag = "WorkflowInfoQuorumFailureDht"
	SentWorkflowInfo               Tag = "SentWorkflowInfo"
	ReceivedWorkflowInfo            Tag = "ReceivedWorkflowInfo"

	// CapturedReceipt and ReplayReceipts are worker-facing lifecycle
	// events; they share the same envelope shape as the network-loop
	// taxonomy above even though spec.md §4.13 lists them separately
	// from the network event table in §4.7.
	CapturedReceipt Tag = "CapturedReceipt"
	ReplayReceipts  Tag = "ReplayReceipts"
)

// Event is one notification: a tag, a millisecond timestamp, and
// tag-specific fields.
type Event struct {
	Tag       Tag
	Timestamp int64
	Fields    map[string]ipld.Value
}

// New builds an event stamped with the current time.
func New(tag Tag, fields map[string]ipld.Value) Event {
	if fields == nil {
		fields = map[string]ipld.Value{}
	}
	return Event{Tag: tag, Timestamp: time.Now().UnixMilli(), Fields: fields}
}

// ToIPLD encodes the event as {tag: {timestamp, ...fields}}.
func (e Event) ToIPLD() ipld.Value {
	inner := make(map[string]ipld.Value, len(e.Fields)+1)
	for k, v := range e.Fields {
		inner[k] = v
	}
	inner["timestamp"] = ipld.Int(e.Timestamp)
	return ipld.Map(map[string]ipld.Value{string(e.Tag): ipld.Map(inner)})
}

// FromIPLD decodes the shape ToIPLD produces.
func FromIPLD(v ipld.Value) (Event, error) {
	keys := v.MapKeys()
	if len(keys) != 1 {
		return Event{}, fmt.Errorf("notify: event envelope must have exactly one tag, got %d", len(keys))
	}
	tag := keys[0]
	inner := v.MapValues()[0]
	tsV, ok := inner.MapGet("timestamp")
	if !ok {
		return Event{}, fmt.Errorf("notify: event %q missing timestamp", tag)
	}
	fields := map[string]ipld.Value{}
	for i, k := range inner.MapKeys() {
		if k == "timestamp" {
			continue
		}
		fields[k] = inner.MapValues()[i]
	}
	return Event{Tag: Tag(tag), Timestamp: tsV.AsInt(), Fields: fields}, nil
}

// ToJSON renders the DAG-JSON wire form required by spec.md §6.
func (e Event) ToJSON() ([]byte, error) {
	return ipld.EncodeJSON(e.ToIPLD())
}

// FromJSON parses the DAG-JSON wire form back into an Event.
func FromJSON(data []byte) (Event, error) {
	v, err := ipld.DecodeJSON(data)
	if err != nil {
		return Event{}, err
	}
	return FromIPLD(v)
}
