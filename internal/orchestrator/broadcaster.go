package orchestrator

import (
	"sync"
	"time"
)

// StatusEvent is pushed to connected clients as a query moves through its
// lifecycle.
type StatusEvent struct {
	QueryID   string    `json:"queryId"`
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster fans status events out to in-process subscribers. Slow
// subscribers are skipped rather than blocking query processing.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan StatusEvent
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[int]chan StatusEvent),
	}
}

// Subscribe registers a listener and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (b *Broadcaster) Subscribe() (<-chan StatusEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan StatusEvent, 16)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}

	return ch, unsubscribe
}

func (b *Broadcaster) Publish(event StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
