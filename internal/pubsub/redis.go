package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultChannel = "presence:deliveries"

	publishInitialBackoff = 50 * time.Millisecond
	publishMaxBackoff     = time.Second
	publishMaxRetries     = 3
)

// RedisBus shares deliveries between processes over a Redis Pub/Sub channel.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	log     *log.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

func NewRedisBus(client redis.UniversalClient, channel string, logger *log.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		log:     logger,
	}
}

func (b *RedisBus) Publish(ctx context.Context, d *Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	operation := func() error {
		return b.client.Publish(ctx, b.channel, string(payload)).Err()
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(publishInitialBackoff),
				backoff.WithMaxInterval(publishMaxBackoff),
			),
			publishMaxRetries,
		),
		ctx,
	)

	return backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		b.log.Printf("retrying publish to %s: %v (next attempt in %s)", b.channel, err, d)
	})
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan *Delivery, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, b.channel)
	// wait for the subscription to be confirmed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	out := make(chan *Delivery, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				var d Delivery
				if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
					b.log.Printf("dropping undecodable delivery: %v", err)
					continue
				}

				select {
				case out <- &d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	// a subscription whose ctx already ended has closed itself
	for _, ps := range b.subs {
		_ = ps.Close()
	}
	b.subs = nil

	return nil
}
