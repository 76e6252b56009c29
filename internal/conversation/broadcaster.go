// ABOUTME: In-memory fan-out of store updates to subscribers
// ABOUTME: Subscribers listen to one conversation or, with an empty key, to everything

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for store updates. Subscribers
// register for a conversation key; the empty key receives every update.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Update // key -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Update),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for updates on key. The subscription is
// removed and its channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, key string) (<-chan Update, string) {
	subID := uuid.NewString()
	ch := make(chan Update, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]chan Update)
	}
	b.subscribers[key][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "key", key, "sub_id", subID)

	context.AfterFunc(ctx, func() {
		b.Unsubscribe(key, subID)
	})

	return ch, subID
}

// Publish sends u to subscribers of key and to subscribers of every update.
// Non-blocking: updates are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(key string, u Update) {
	b.mu.RLock()
	var targets []chan Update
	for _, ch := range b.subscribers[""] {
		targets = append(targets, ch)
	}
	if key != "" {
		for _, ch := range b.subscribers[key] {
			targets = append(targets, ch)
		}
	}

	for _, ch := range targets {
		select {
		case ch <- u:
		default:
			b.logger.Debug("dropped update for slow subscriber", "key", key, "kind", u.Kind.String())
		}
	}
	b.mu.RUnlock()
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(key, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, key)
	}

	b.logger.Debug("subscriber removed", "key", key, "sub_id", subID)
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}
}
