package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/fraudsim/internal/domain"
)

// route is one tenant's view of a topic. AllTenants routes see every tenant.
type route struct {
	tenantID string
	topic    string
}

// ChannelBus implements EventBus in process. Used as the Community tier
// event bus. Delivery never blocks the publisher: a subscriber whose buffer
// is full misses the message and the drop is counted.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	routes     map[route][]*channelSubscription
	closed     bool

	dropped atomic.Int64
}

type channelSubscription struct {
	bus     *ChannelBus
	route   route
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewChannelBus creates a bus whose subscribers buffer bufferSize messages.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		routes:     make(map[route][]*channelSubscription),
	}
}

// Publish delivers to the tenant's subscribers and to AllTenants subscribers.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := checkPublish(tenantID, topic); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	direct := b.routes[route{tenantID, topic}]
	wildcard := b.routes[route{domain.AllTenants, topic}]
	b.mu.RUnlock()

	msg := newMessage(ctx, tenantID, topic, payload)
	for _, subs := range [][]*channelSubscription{direct, wildcard} {
		for _, sub := range subs {
			select {
			case sub.msgCh <- msg:
			default:
				b.dropped.Add(1)
				slog.Warn("subscriber buffer full, dropping message",
					"tenant_id", tenantID,
					"topic", topic,
					"message_id", msg.ID,
				)
			}
		}
	}
	return nil
}

// Subscribe starts a goroutine that runs handler for each delivered message
// until the subscription, its context or the bus is closed.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := checkSubscribe(tenantID, topic); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		bus:     b,
		route:   route{tenantID, topic},
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
	}
	b.routes[sub.route] = append(b.routes[sub.route], sub)

	go sub.run()
	return sub, nil
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscriber. Buffers stay open so a racing Publish
// cannot send on a closed channel.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.routes {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.routes = make(map[route][]*channelSubscription)
	return nil
}

// Dropped returns the number of deliveries skipped on full buffers.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// subscribers reports how many subscriptions are attached to tenantID's topic.
func (b *ChannelBus) subscribers(tenantID, topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.routes[route{tenantID, topic}])
}

func (b *ChannelBus) detach(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.routes[sub.route]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.routes, sub.route)
		return
	}
	b.routes[sub.route] = subs
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if err := s.handler(handlerContext(s.ctx, msg), msg); err != nil {
				slog.Error("handler error",
					"topic", s.route.topic,
					"tenant_id", msg.TenantID,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Unsubscribe stops receiving messages and detaches from the bus.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.detach(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.route.topic
}
