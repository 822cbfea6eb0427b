package server

import (
	"context"
	"sync"
	"time"
)

type storeOp func(ctx context.Context)

// opQueue runs the presence store calls of one connection in order, off the
// ChatServer loop. Pushing never blocks.
type opQueue struct {
	mu      sync.Mutex
	ops     []storeOp
	closed  bool
	notify  chan struct{}
	done    chan struct{}
	timeout time.Duration
}

func newOpQueue(timeout time.Duration) *opQueue {
	return &opQueue{
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		timeout: timeout,
	}
}

func (q *opQueue) push(op storeOp) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.ops = append(q.ops, op)
	select {
	case q.notify <- struct{}{}:
	default:
	}

	return true
}

// close stops accepting ops. Ops already queued still run.
func (q *opQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *opQueue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		if len(q.ops) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.notify
			continue
		}

		op := q.ops[0]
		q.ops[0] = nil
		q.ops = q.ops[1:]
		q.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		op(ctx)
		cancel()
	}
}
