package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

const (
	subscriberBuffer = 16
	resubscribeDelay = time.Second
)

type channelSubscriber interface {
	Subscribe(ctx context.Context, channel string) (*redis.PubSub, error)
}

// Subscription receives the updates accepted by its filter until Close.
type Subscription struct {
	C <-chan Update

	hub    *Hub
	id     uint64
	ch     chan Update
	filter func(Update) bool
	once   sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s.id)
	})
}

// Hub fans one Redis subscription out to the SSE clients of this process.
// Slow clients miss updates rather than block the others.
type Hub struct {
	logg *logger.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
}

func NewHub(logg *logger.Logger) *Hub {
	return &Hub{logg: logg, subs: map[uint64]*Subscription{}}
}

// Subscribe registers a client. A nil filter accepts every update.
func (h *Hub) Subscribe(filter func(Update) bool) *Subscription {
	ch := make(chan Update, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{C: ch, hub: h, id: h.nextID, ch: ch, filter: filter}
	h.subs[sub.id] = sub
	return sub
}

// ForOrder accepts updates of a single order.
func ForOrder(id uuid.UUID) func(Update) bool {
	return func(u Update) bool { return u.OrderID == id }
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Subscribers reports how many clients are attached.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast delivers update to every matching subscriber without blocking.
func (h *Hub) Broadcast(ctx context.Context, update Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.filter != nil && !sub.filter(update) {
			continue
		}
		select {
		case sub.ch <- update:
		default:
			if h.logg != nil {
				h.logg.Warn(h.logg.WithOrderID(ctx, update.OrderID.String()), "feed subscriber lagging; update dropped")
			}
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, payload []byte) {
	update, err := decodeUpdate(payload)
	if err != nil {
		if h.logg != nil {
			h.logg.Warn(h.logg.WithField(ctx, "error", err.Error()), "discarding malformed feed message")
		}
		return
	}
	h.Broadcast(ctx, update)
}

// Run relays channel messages to subscribers until ctx ends, resubscribing
// after a dropped connection.
func (h *Hub) Run(ctx context.Context, source channelSubscriber, channel string) error {
	if source == nil {
		return errors.New("feed source required")
	}
	for {
		err := h.relay(ctx, source, channel)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if h.logg != nil {
			h.logg.Error(h.logg.WithField(ctx, "channel", channel), "feed subscription lost", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resubscribeDelay):
		}
	}
}

func (h *Hub) relay(ctx context.Context, source channelSubscriber, channel string) error {
	pubsub, err := source.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return errors.New("feed channel closed")
			}
			h.dispatch(ctx, []byte(msg.Payload))
		}
	}
}
