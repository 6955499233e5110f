package stream

import (
	"context"
	"sync"
	"time"
)

// TransferEvent describes a custody movement: products leaving one
// organization's inventory for another's, either through a completed order
// or a direct transfer.
type TransferEvent struct {
	Kind             string    `json:"kind"` // "order" or "direct"
	OrderID          uint64    `json:"order_id,omitempty"`
	ProductIDs       []uint64  `json:"product_ids"`
	FromOrganization uint64    `json:"from_organization"`
	ToOrganization   uint64    `json:"to_organization"`
	Actor            string    `json:"actor"`
	Timestamp        time.Time `json:"timestamp"`
}

// Stream fan-outs custody events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan TransferEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{
		subs: make(map[int]chan TransferEvent),
	}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan TransferEvent {
	ch := make(chan TransferEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt TransferEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
