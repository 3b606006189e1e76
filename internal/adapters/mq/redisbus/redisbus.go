// Package redisbus carries telemetry payloads over Redis pub/sub. Delivery is
// at-most-once: a message is acknowledged by the act of being pushed.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/riskpulse/internal/adapters/mq/queue"
	"github.com/okian/riskpulse/pkg/logger"
	"github.com/okian/riskpulse/pkg/metrics"
)

const defaultBufferSize = 1024

// ErrClosed is returned when subscribing on a closed subscriber.
var ErrClosed = errors.New("redisbus: subscriber closed")

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Subscriber turns a Redis channel into a queue.Source.
type Subscriber struct {
	client redis.UniversalClient
	topic  string
	buffer int
	now    func() time.Time
	log    logger.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool
}

var _ queue.Source = (*Subscriber)(nil)

// NewSubscriber creates a subscriber for topic. Nothing is subscribed until
// Subscribe or Messages is called.
func NewSubscriber(client redis.UniversalClient, topic string, opts ...Option) *Subscriber {
	s := &Subscriber{
		client: client,
		topic:  topic,
		buffer: defaultBufferSize,
		now:    time.Now,
		log:    logger.Default().Named("redisbus"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe opens the subscription and waits for Redis to confirm it.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	ps, err := s.open(ctx)
	if err != nil {
		return err
	}
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	return nil
}

func (s *Subscriber) open(ctx context.Context) (*redis.PubSub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.pubsub == nil {
		s.pubsub = s.client.Subscribe(ctx, s.topic)
	}
	return s.pubsub, nil
}

// Messages returns deliveries for the topic. The channel closes when ctx is
// done or the subscriber is closed.
func (s *Subscriber) Messages(ctx context.Context) <-chan queue.Message {
	out := make(chan queue.Message)
	ps, err := s.open(ctx)
	if err != nil {
		close(out)
		return out
	}

	in := ps.Channel(redis.WithChannelSize(s.buffer))
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- toMessage(m, s.now()):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	s.log.Info(ctx, "subscribed", logger.String("topic", s.topic))
	return out
}

// Close ends the subscription.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pubsub == nil {
		return nil
	}
	return s.pubsub.Close()
}

func toMessage(m *redis.Message, at time.Time) queue.Message {
	return queue.Message{
		Topic:      m.Channel,
		Payload:    []byte(m.Payload),
		ReceivedAt: at,
	}
}

// Publisher publishes payloads to a Redis channel.
type Publisher struct {
	client redis.UniversalClient
	topic  string
}

var _ queue.Publisher = (*Publisher)(nil)

// NewPublisher creates a publisher for topic.
func NewPublisher(client redis.UniversalClient, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

// Publish sends payload to the topic.
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	if err := p.client.Publish(ctx, p.topic, payload).Err(); err != nil {
		metrics.RecordQueueEnqueueError("redis")
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	metrics.RecordQueueEnqueue()
	return nil
}
