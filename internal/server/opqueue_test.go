package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpQueue_RunsInOrder(t *testing.T) {
	q := newOpQueue(time.Second)
	go q.run()

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 50; i++ {
		i := i
		assert.True(t, q.push(func(ctx context.Context) {
			_, ok := ctx.Deadline()
			assert.True(t, ok, "expected ops to run with a deadline")
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	q.close()

	select {
	case <-q.done:
	case <-time.After(time.Second):
		t.Fatal("expected queue to finish after close")
	}

	assert.Len(t, got, 50, "expected queued ops to run before the queue exits")
	for i, v := range got {
		assert.Equal(t, i, v, "expected ops to run in push order")
	}
}

func TestOpQueue_PushAfterClose(t *testing.T) {
	q := newOpQueue(time.Second)
	q.close()
	q.close()

	assert.False(t, q.push(func(context.Context) {}), "expected push to fail on a closed queue")

	go q.run()
	select {
	case <-q.done:
	case <-time.After(time.Second):
		t.Fatal("expected closed queue to exit")
	}
}
