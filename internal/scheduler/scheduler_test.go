package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xianshu-virtuous/MoFox-Core/internal/eventbus"
)

func TestTimeEntryFiresOnceAfterDelay(t *testing.T) {
	s := New(nil)
	var fired int32
	var wg sync.WaitGroup
	wg.Add(1)
	s.CreateTimeEntry("once", TimeSpec{DelaySeconds: 0}, func(ctx context.Context, params map[string]any) {
		atomic.AddInt32(&fired, 1)
		wg.Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	waitTimeout(t, &wg, 3*time.Second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestTriggerNowForcesImmediateFire(t *testing.T) {
	s := New(nil)
	fired := make(chan struct{}, 1)
	id := s.CreateTimeEntry("far-future", TimeSpec{DelaySeconds: 3600}, func(ctx context.Context, params map[string]any) {
		fired <- struct{}{}
	})

	require.NoError(t, s.TriggerNow(context.Background(), id))
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("trigger_now did not fire callback")
	}
}

func TestTriggerNowOnPausedEntryErrors(t *testing.T) {
	s := New(nil)
	id := s.CreateTimeEntry("paused", TimeSpec{DelaySeconds: 3600}, func(ctx context.Context, params map[string]any) {})
	require.NoError(t, s.Pause(id))

	err := s.TriggerNow(context.Background(), id)
	assert.ErrorIs(t, err, ErrEntryPaused)

	require.NoError(t, s.Resume(id))
	assert.NoError(t, s.TriggerNow(context.Background(), id))
}

func TestCustomEntryPredicatePanicTreatedAsFalse(t *testing.T) {
	s := New(nil)
	var calls int32
	s.CreateCustomEntry("flaky", true, func() bool {
		panic("predicate boom")
	}, func(ctx context.Context, params map[string]any) {
		atomic.AddInt32(&calls, 1)
	})

	s.tick(context.Background())
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestEventEntryFiresOnMatchingEvent(t *testing.T) {
	bus := eventbus.New()
	s := New(bus)
	fired := make(chan map[string]any, 1)
	s.CreateEventEntry("on-greet", "greet", func(ctx context.Context, params map[string]any) {
		fired <- params
	})

	bus.TriggerEvent("greet", eventbus.SystemPermissionGroup, map[string]any{"who": "world"})

	select {
	case params := <-fired:
		assert.Equal(t, "world", params["who"])
	case <-time.After(time.Second):
		t.Fatal("event entry did not fire")
	}
}

func TestRemoveLastEventSubscriberUnregistersListener(t *testing.T) {
	bus := eventbus.New()
	s := New(bus)
	id := s.CreateEventEntry("on-ping", "ping", func(ctx context.Context, params map[string]any) {})

	require.NoError(t, s.Remove(id))

	fired := false
	bus.RegisterDirectListener("ping", func(params map[string]any) { fired = true })
	bus.TriggerEvent("ping", eventbus.SystemPermissionGroup, nil)
	assert.True(t, fired, "bus listener registered after removal should still fire independently")

	_, ok := s.Info(id)
	assert.False(t, ok)
}

func TestRecurringTimeEntryReschedules(t *testing.T) {
	s := New(nil)
	var count int32
	// a 1ns interval makes the entry recurring and due again on the next tick.
	id := s.CreateTimeEntry("recurring", TimeSpec{DelaySeconds: 0, IntervalSeconds: 1e-9}, func(ctx context.Context, params map[string]any) {
		atomic.AddInt32(&count, 1)
	})

	s.tick(context.Background())
	s.tick(context.Background())

	info, ok := s.Info(id)
	require.True(t, ok)
	assert.True(t, info.Recurring)
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&count)), 2)
}

func TestNonRecurringEntryRemovedAfterFiring(t *testing.T) {
	s := New(nil)
	id := s.CreateTimeEntry("one-shot", TimeSpec{DelaySeconds: 0}, func(ctx context.Context, params map[string]any) {})

	s.tick(context.Background())

	_, ok := s.Info(id)
	assert.False(t, ok)
}

func TestNonRecurringCustomEntryFiresOnlyOnce(t *testing.T) {
	s := New(nil)
	var calls int32
	id := s.CreateCustomEntry("one-shot-custom", false, func() bool { return true }, func(context.Context, map[string]any) {
		atomic.AddInt32(&calls, 1)
	})

	s.tick(context.Background())
	s.tick(context.Background())
	s.tick(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a non-recurring entry must never fire again once its predicate stays true")
	_, ok := s.Info(id)
	assert.False(t, ok, "a non-recurring entry must be removed after it fires")
}

func TestStatsCountsByKind(t *testing.T) {
	bus := eventbus.New()
	s := New(bus)
	s.CreateTimeEntry("t", TimeSpec{DelaySeconds: 3600}, func(context.Context, map[string]any) {})
	s.CreateCustomEntry("c", true, func() bool { return false }, func(context.Context, map[string]any) {})
	id := s.CreateEventEntry("e", "x", func(context.Context, map[string]any) {})
	require.NoError(t, s.Pause(id))

	st := s.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.ByKind[TriggerTime])
	assert.Equal(t, 1, st.ByKind[TriggerCustom])
	assert.Equal(t, 1, st.ByKind[TriggerEvent])
	assert.Equal(t, 1, st.Paused)
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for callback")
	}
}
