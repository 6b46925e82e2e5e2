package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueue_NeverBlocksProducer(t *testing.T) {
	q := newQueue[int](context.Background())

	done := make(chan struct{})
	go func() {
		for i := range 1000 {
			q.In() <- i
		}
		q.Close()
		q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked without a consumer")
	}

	var got []int
	for v := range q.Out() {
		got = append(got, v)
	}
	assert.Len(t, got, 1000)
	for i, v := range got {
		if v != i {
			t.Fatalf("item %d out of order: %d", i, v)
		}
	}
}

func TestQueue_CancelClosesOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := newQueue[int](ctx)
	q.In() <- 1
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-q.Out():
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}
