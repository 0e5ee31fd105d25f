package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := New(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	var count int32
	for i := 0; i < 5; i++ {
		err := p.Submit(func(ctx context.Context) { atomic.AddInt32(&count, 1) })
		assert.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&count) == 5 }, time.Second, 5*time.Millisecond)
}

func TestPoolSubmitReturnsErrorWhenQueueFull(t *testing.T) {
	p := New(1, 1)
	block := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require_ := func(err error) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require_(p.Submit(func(ctx context.Context) { <-block }))
	require_(p.Submit(func(ctx context.Context) {}))

	err := p.Submit(func(ctx context.Context) {})
	assert.Error(t, err)
	close(block)
}

func TestPoolTaskPanicDoesNotKillWorker(t *testing.T) {
	p := New(1, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	var ran int32
	_ = p.Submit(func(ctx context.Context) { panic("boom") })
	_ = p.Submit(func(ctx context.Context) { atomic.AddInt32(&ran, 1) })

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == 1 }, time.Second, 5*time.Millisecond)
}
