// Package gossip implements the "receipts" pub/sub topic (spec.md §4.9),
// grounded directly on internal/fabric/redis_event_bus.go's Redis Pub/Sub
// pattern: publish fans a payload out across every node subscribed to the
// channel, and inbound messages are decoded and handed to a callback.
package gossip

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
)

// Topic is the single gossip topic fluxdag's network layer carries.
const Topic = "receipts"

// ErrInsufficientPeers is returned (non-fatally) when a publish finds no
// subscribers on the channel; spec.md §4.9 requires this be reported, not
// treated as a hard failure.
var ErrInsufficientPeers = fmt.Errorf("gossip: insufficient peers on topic %q", Topic)

// ReceivedFunc is invoked for every receipt this node receives over
// gossip, after it has already been written to the local store.
type ReceivedFunc func(r model.Receipt)

// Bus publishes and subscribes canonical receipt bytes on Redis Pub/Sub,
// standing in for a gossipsub mesh (see SPEC_FULL.md DOMAIN STACK for the
// substitution rationale).
type Bus struct {
	rdb      *redis.Client
	channel  string
	store    Store
	onRecv   ReceivedFunc
	logger   *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Store is the subset of store.ReceiptStore gossip needs to persist
// inbound receipts before notifying subscribers.
type Store interface {
	Put(ctx context.Context, r model.Receipt) error
}

// New builds a gossip Bus over rdb, prefixed so it doesn't collide with
// other Redis-backed channels (e.g. fabric's event bus) sharing the same
// Redis instance.
func New(rdb *redis.Client, namespace string, store Store, onRecv ReceivedFunc) *Bus {
	if namespace == "" {
		namespace = "fluxdag"
	}
	return &Bus{
		rdb:     rdb,
		channel: namespace + ":" + Topic,
		store:   store,
		onRecv:  onRecv,
		logger:  log.New(log.Writer(), "[GOSSIP] ", log.LstdFlags),
	}
}

// Publish broadcasts r's canonical CBOR bytes on the topic. A publish that
// reaches zero subscribers returns ErrInsufficientPeers but has still
// taken effect (Redis doesn't queue for latecomers, matching gossipsub's
// best-effort mesh delivery).
func (b *Bus) Publish(ctx context.Context, r model.Receipt) error {
	v, err := r.ToIPLD()
	if err != nil {
		return fmt.Errorf("gossip: encode receipt: %w", err)
	}
	data, err := ipld.EncodeCBOR(v)
	if err != nil {
		return fmt.Errorf("gossip: encode receipt: %w", err)
	}
	n, err := b.rdb.Publish(ctx, b.channel, data).Result()
	if err != nil {
		return fmt.Errorf("gossip: publish: %w", err)
	}
	if n == 0 {
		return ErrInsufficientPeers
	}
	return nil
}

// Start subscribes to the topic and processes inbound receipts until ctx
// is canceled. It should be run once, in its own goroutine, by the owning
// network event loop.
func (b *Bus) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	sub := b.rdb.Subscribe(ctx, b.channel)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.handle(ctx, []byte(msg.Payload))
			}
		}
	}()
}

// Stop unwinds the subscription started by Start.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *Bus) handle(ctx context.Context, data []byte) {
	v, err := ipld.DecodeCBOR(data)
	if err != nil {
		b.logger.Printf("decode inbound receipt: %v", err)
		return
	}
	r, err := model.ReceiptFromIPLD(v)
	if err != nil {
		b.logger.Printf("decode inbound receipt: %v", err)
		return
	}
	if err := b.store.Put(ctx, r); err != nil {
		b.logger.Printf("persist inbound receipt %s: %v", r.Instruction, err)
		return
	}
	if b.onRecv != nil {
		b.onRecv(r)
	}
}
