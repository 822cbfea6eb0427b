package pubsub

import (
	"context"
	"sync"
)

const subscriberBuffer = 256

// LocalBus is an in-process Bus for single-instance deployments.
type LocalBus struct {
	mu     sync.Mutex
	subs   map[chan *Delivery]struct{}
	closed bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{
		subs: make(map[chan *Delivery]struct{}),
	}
}

func (b *LocalBus) Publish(ctx context.Context, d *Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	for sub := range b.subs {
		select {
		case sub <- d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context) (<-chan *Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := make(chan *Delivery, subscriberBuffer)
	b.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		b.unsubscribe(sub)
	}()

	return sub, nil
}

func (b *LocalBus) unsubscribe(sub chan *Delivery) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub)
	}
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub)
	}

	return nil
}
