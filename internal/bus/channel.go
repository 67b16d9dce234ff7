// Package bus carries chat and lead events between the API and the lead
// worker.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrClosed is returned by a bus that has been shut down.
var ErrClosed = errors.New("bus is closed")

// ChannelBus is the in-process event bus used on a single node.
// Delivery is best-effort: when a subscriber's buffer is full the event is
// dropped for that subscriber.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	subs       map[string]map[string]*channelSubscription
	closed     bool
}

type channelSubscription struct {
	bus     *ChannelBus
	id      string
	topic   string
	handler domain.MessageHandler
	events  chan *domain.Event
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewChannelBus creates a channel bus with the given per-subscriber buffer.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		subs:       make(map[string]map[string]*channelSubscription),
	}
}

// Publish fans payload out to every subscriber of topic without blocking.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	evt := newEvent(topic, payload)
	for _, sub := range b.subs[topic] {
		select {
		case sub.events <- evt:
		default:
			slog.Warn("event dropped, subscriber buffer full",
				"topic", topic,
				"subscription_id", sub.id,
			)
		}
	}
	return nil
}

// Subscribe runs handler for every event on topic until ctx is cancelled or
// the subscription is removed.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		bus:     b,
		id:      uuid.NewString(),
		topic:   topic,
		handler: handler,
		events:  make(chan *domain.Event, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*channelSubscription)
	}
	b.subs[topic][sub.id] = sub

	go sub.run()
	return sub, nil
}

func (s *channelSubscription) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case evt := <-s.events:
			if err := s.handler(s.ctx, evt); err != nil {
				slog.Error("event handler failed",
					"topic", evt.Topic,
					"event_id", evt.ID,
					"error", err,
				)
			}
		}
	}
}

func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription and waits for in-flight handlers.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	var all []*channelSubscription
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.cancel()
			all = append(all, sub)
		}
	}
	b.subs = make(map[string]map[string]*channelSubscription)
	b.mu.Unlock()

	for _, sub := range all {
		<-sub.done
	}
	return nil
}

// Unsubscribe stops the handler and detaches it from the bus.
func (s *channelSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	if subs, ok := s.bus.subs[s.topic]; ok {
		delete(subs, s.id)
	}
	s.bus.mu.Unlock()

	s.cancel()
	return nil
}

func (s *channelSubscription) Topic() string {
	return s.topic
}

func newEvent(topic string, payload []byte) *domain.Event {
	return &domain.Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
