package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Broadcaster fans events out to any number of subscribers.
// A subscriber whose buffer is full misses the event rather than stalling the emitter.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	bufferSize  int
	logger      *zap.Logger
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold bufferSize events
func NewBroadcaster(bufferSize int, logger *zap.Logger) *Broadcaster {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Broadcaster{
		subscribers: make(map[int]chan Event),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers a new subscriber. The returned cancel func closes the channel and
// is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Emit delivers event to every subscriber without blocking
func (b *Broadcaster) Emit(_ context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Sugar().Warnw("Dropping event for slow subscriber", "subscriber", id, "event", event.Name())
		}
	}
}

// SubscriberCount returns the number of live subscriptions
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
