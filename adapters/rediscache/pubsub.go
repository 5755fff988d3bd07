package rediscache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bundle-pricing/core/stream"
	"bundle-pricing/core/types"
	"bundle-pricing/internal/logging"
)

// DefaultPublishBuffer is the number of envelopes a Publisher queues
// before it starts dropping
const DefaultPublishBuffer = 1024

// Publisher is an engine step sink that PUBLISHes every envelope to the
// Redis channel of its correlation id. Emit never blocks: envelopes are
// queued and sent in order by one background goroutine. Delivery is at
// most once; a full queue or a failed PUBLISH loses the envelope and is
// counted.
type Publisher struct {
	client  redis.UniversalClient
	queue   chan types.StepEnvelope
	timeout time.Duration
	logger  *zap.Logger

	dropped atomic.Uint64
	failed  atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewPublisher starts a publisher. buffer <= 0 uses DefaultPublishBuffer.
func NewPublisher(client redis.UniversalClient, buffer int, logger *zap.Logger) *Publisher {
	if buffer <= 0 {
		buffer = DefaultPublishBuffer
	}
	p := &Publisher{
		client:  client,
		queue:   make(chan types.StepEnvelope, buffer),
		timeout: 2 * time.Second,
		logger:  logging.Component(logger, "redis-publisher"),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Emit implements engine.StepSink
func (p *Publisher) Emit(env types.StepEnvelope) {
	if env.CorrelationID == "" {
		return
	}
	select {
	case p.queue <- env:
	default:
		p.dropped.Add(1)
		p.logger.Warn("publish queue full, dropping step",
			logging.CorrelationID(env.CorrelationID),
			zap.Int("completed_steps", env.CompletedSteps),
		)
	}
}

// Dropped reports envelopes discarded because the queue was full
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Failed reports envelopes that could not be encoded or published
func (p *Publisher) Failed() uint64 { return p.failed.Load() }

// Register exposes the drop and failure counts on reg
func (p *Publisher) Register(reg prometheus.Registerer) error {
	dropped := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "pricing_step_publish_dropped_total",
		Help: "Streamed steps dropped because the Redis publish queue was full",
	}, func() float64 { return float64(p.Dropped()) })
	failed := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "pricing_step_publish_failed_total",
		Help: "Streamed steps that failed to reach Redis",
	}, func() float64 { return float64(p.Failed()) })

	for _, c := range []prometheus.Collector{dropped, failed} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes queued envelopes and stops the publisher.
// Emit must not be called after Close.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() { close(p.queue) })
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	for env := range p.queue {
		p.publish(env)
	}
}

func (p *Publisher) publish(env types.StepEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("failed to encode step", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, stream.ChannelName(env.CorrelationID), payload).Err(); err != nil {
		p.failed.Add(1)
		p.logger.Warn("failed to publish step",
			logging.CorrelationID(env.CorrelationID),
			zap.Error(err),
		)
	}
}

// Relay pattern-subscribes to every step channel on Redis and republishes
// the envelopes on a local broadcaster, so websocket subscribers on this
// instance see calculations that ran on another.
type Relay struct {
	client      redis.UniversalClient
	broadcaster *stream.Broadcaster
	logger      *zap.Logger
}

// NewRelay creates a relay into broadcaster
func NewRelay(client redis.UniversalClient, broadcaster *stream.Broadcaster, logger *zap.Logger) *Relay {
	return &Relay{
		client:      client,
		broadcaster: broadcaster,
		logger:      logging.Component(logger, "redis-relay"),
	}
}

// Run relays until ctx is done. ready, if non-nil, is closed once the
// subscription is confirmed by the server.
func (r *Relay) Run(ctx context.Context, ready chan<- struct{}) error {
	ps := r.client.PSubscribe(ctx, stream.ChannelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}
	r.logger.Info("relaying step channels", zap.String("pattern", stream.ChannelPrefix+"*"))

	messages := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.forward(msg)
		}
	}
}

func (r *Relay) forward(msg *redis.Message) {
	var env types.StepEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.logger.Warn("dropping malformed step", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	r.broadcaster.Publish(msg.Channel, env)
}
