// Package stream fans calculation progress out to subscribers keyed by
// correlation id.
package stream

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"bundle-pricing/core/types"
	"bundle-pricing/internal/logging"
)

// ChannelPrefix prefixes every step channel name
const ChannelPrefix = "PRICING_CALCULATION_STEPS:"

// ChannelName returns the channel carrying steps for a correlation id
func ChannelName(correlationID string) string {
	return ChannelPrefix + correlationID
}

// CorrelationID extracts the correlation id from a channel name
func CorrelationID(channel string) (string, bool) {
	if !strings.HasPrefix(channel, ChannelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(channel, ChannelPrefix), true
}

// Broadcaster delivers envelopes to in-process subscribers.
// Publishing never blocks: each subscriber owns an unbounded FIFO mailbox
// drained by its own goroutine, so a slow reader only delays itself.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	closed bool
	logger *zap.Logger
}

// NewBroadcaster creates a broadcaster
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]map[uint64]*Subscription),
		logger: logging.Component(logger, "broadcaster"),
	}
}

// Subscribe registers interest in one correlation id. Envelopes published
// before the call are not replayed.
func (b *Broadcaster) Subscribe(correlationID string) *Subscription {
	channel := ChannelName(correlationID)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := newSubscription(b, b.nextID, channel)
	if b.closed {
		sub.stop()
		return sub
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[uint64]*Subscription)
	}
	b.subs[channel][sub.id] = sub

	b.logger.Debug("subscribed", zap.String("channel", channel), zap.Uint64("subscriber", sub.id))
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
// Pending envelopes are dropped.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if subs, ok := b.subs[sub.channel]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.subs, sub.channel)
		}
	}
	b.mu.Unlock()
	sub.stop()
}

// Publish queues env for every subscriber of channel and returns how many
// subscribers received it.
func (b *Broadcaster) Publish(channel string, env types.StepEnvelope) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.subs[channel]
	for _, sub := range subs {
		sub.push(env)
	}
	return len(subs)
}

// Emit publishes env on the channel of its correlation id. It lets a
// Broadcaster serve as the engine's step sink.
func (b *Broadcaster) Emit(env types.StepEnvelope) {
	if env.CorrelationID == "" {
		return
	}
	b.Publish(ChannelName(env.CorrelationID), env)
}

// Subscribers returns the number of live subscribers for a correlation id
func (b *Broadcaster) Subscribers(correlationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ChannelName(correlationID)])
}

// Close stops every subscription
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	all := b.subs
	b.subs = make(map[string]map[uint64]*Subscription)
	b.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.stop()
		}
	}
}

// Subscription is one subscriber's view of a channel
type Subscription struct {
	id      uint64
	channel string
	owner   *Broadcaster

	mu     sync.Mutex
	queue  []types.StepEnvelope
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	out    chan types.StepEnvelope
}

func newSubscription(owner *Broadcaster, id uint64, channel string) *Subscription {
	s := &Subscription{
		id:      id,
		channel: channel,
		owner:   owner,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		out:     make(chan types.StepEnvelope),
	}
	go s.drain()
	return s
}

// C delivers envelopes in publish order. It is closed on unsubscribe.
func (s *Subscription) C() <-chan types.StepEnvelope {
	return s.out
}

// Channel returns the subscribed channel name
func (s *Subscription) Channel() string {
	return s.channel
}

// Close unsubscribes
func (s *Subscription) Close() {
	s.owner.Unsubscribe(s)
}

func (s *Subscription) push(env types.StepEnvelope) {
	s.mu.Lock()
	s.queue = append(s.queue, env)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) drain() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, env := range batch {
			select {
			case s.out <- env:
			case <-s.done:
				return
			}
		}
	}
}
