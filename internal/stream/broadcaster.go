package stream

import (
	"sync"
	"sync/atomic"

	"github.com/RefatHex/ResQ/internal/models"
)

const subscriberBuffer = 32

type subscriber struct {
	recipientID string
	ch          chan *models.Notification
}

// Broadcaster fans recorded notifications out to live subscribers, each
// scoped to one recipient. An empty recipient receives everything.
type Broadcaster struct {
	subscribers map[uint64]subscriber
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]subscriber),
	}
}

func (b *Broadcaster) Subscribe(recipientID string) (uint64, <-chan *models.Notification) {
	id := b.nextID.Add(1)
	ch := make(chan *models.Notification, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[id] = subscriber{recipientID: recipientID, ch: ch}
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Publish never blocks; a subscriber with a full buffer misses n.
func (b *Broadcaster) Publish(n *models.Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.recipientID != "" && sub.recipientID != n.RecipientID {
			continue
		}
		select {
		case sub.ch <- n:
		default:
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, ending their streams.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
