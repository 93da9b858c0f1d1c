package notify

import (
	"log"
	"sync"

	"github.com/fluxdag/fluxdag/internal/ipld"
)

// Bus is a broadcast channel of Events, fanned out to per-tag and
// catch-all subscribers. Publish never blocks on a slow subscriber: a full
// subscriber channel drops the event rather than stalling the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Tag][]chan Event
	allSubs     []chan Event
	logger      *log.Logger
	bufferSize  int
}

// NewBus creates an event bus whose subscriber channels are buffered to
// bufferSize.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[Tag][]chan Event),
		logger:      log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel receiving only events with the given tag.
func (b *Bus) Subscribe(tag Tag) <-chan Event {
	ch := make(chan Event, b.bufferSize)
	b.mu.Lock()
	b.subscribers[tag] = append(b.subscribers[tag], ch)
	b.mu.Unlock()
	return ch
}

// SubscribeAll returns a channel receiving every event regardless of tag.
func (b *Bus) SubscribeAll() <-chan Event {
	ch := make(chan Event, b.bufferSize)
	b.mu.Lock()
	b.allSubs = append(b.allSubs, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes ch from the tag's subscriber list (or the catch-all
// list when tag is "") and closes it.
func (b *Bus) Unsubscribe(tag Tag, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tag == "" {
		b.allSubs = removeChan(b.allSubs, ch)
		return
	}
	b.subscribers[tag] = removeChan(b.subscribers[tag], ch)
}

func removeChan(chans []chan Event, target <-chan Event) []chan Event {
	out := chans[:0]
	for _, c := range chans {
		if c == target {
			close(c)
			continue
		}
		out = append(out, c)
	}
	return out
}

// Publish fans e out to every matching subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[e.Tag] {
		select {
		case ch <- e:
		default:
			b.logger.Printf("subscriber channel full, dropping %s event", e.Tag)
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- e:
		default:
			b.logger.Printf("catch-all channel full, dropping %s event", e.Tag)
		}
	}
}

// Emit is a convenience wrapper that builds and publishes an event in one
// call, recording the Prometheus counter for it along the way.
func (b *Bus) Emit(tag Tag, fields map[string]ipld.Value) {
	b.InstrumentedPublish(New(tag, fields))
}
