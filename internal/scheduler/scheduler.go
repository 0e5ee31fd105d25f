// Package scheduler implements the Unified Scheduler (spec §4.4): a single
// cooperative 1-second tick loop firing TIME, EVENT, and CUSTOM trigger
// entries, with zero-latency event-to-task dispatch via the event manager's
// direct-listener mechanism.
//
// Grounded in the teacher's node heartbeat loop (internal/nodes/monitor.go,
// a time.Ticker-driven snapshot-then-act loop over a mutex-guarded map) and
// internal/plugins/event_bus.go's panic-recovering dispatch. The spec
// describes the entry map as guarded by "a reentrant lock" — Go has no
// native reentrant mutex, so this is restructured idiomatically: the map is
// guarded by a plain sync.Mutex held only for the snapshot/lookup/mutation
// itself, never across a callback invocation, so trigger_now, create, and
// the tick loop can never deadlock against a running callback or against
// each other.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xianshu-virtuous/MoFox-Core/internal/eventbus"
	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
)

// TriggerKind is the kind of condition a ScheduleEntry fires on (spec §4.4).
type TriggerKind string

const (
	TriggerTime   TriggerKind = "TIME"
	TriggerEvent  TriggerKind = "EVENT"
	TriggerCustom TriggerKind = "CUSTOM"
)

// Callback is invoked when an entry fires. params carries an EVENT trigger's
// event kwargs, or is nil for TIME/CUSTOM.
type Callback func(ctx context.Context, params map[string]any)

// ConditionFunc is a CUSTOM trigger's predicate, evaluated once per tick.
type ConditionFunc func() bool

// TimeSpec configures a TIME trigger. Exactly one of DelaySeconds or
// TriggerAt should be set for the first fire; IntervalSeconds > 0 makes the
// entry recurring on that cadence after the first fire.
type TimeSpec struct {
	DelaySeconds    float64
	TriggerAt       time.Time
	IntervalSeconds float64
}

// tickInterval is the scheduler's fixed cooperative cadence (spec §4.4:
// "a single cooperative loop runs with a 1-second cadence").
const tickInterval = 1 * time.Second

// entry is one ScheduleEntry (spec §3).
type entry struct {
	id        string
	name      string
	kind      TriggerKind
	callback  Callback
	recurring bool
	active    bool
	paused    bool

	timeSpec  TimeSpec
	eventName string
	condition ConditionFunc

	nextFireAt     time.Time // TIME entries only
	createdAt      time.Time
	lastTriggered  time.Time
	triggerCount   int
}

// Scheduler owns every ScheduleEntry and drives the tick loop.
type Scheduler struct {
	bus *eventbus.Bus

	mu      sync.Mutex
	entries map[string]*entry
	// eventListeners tracks, per event name, how many EVENT entries are
	// subscribed, so the last removal can unregister the direct listener.
	eventListeners map[string]int

	wg sync.WaitGroup // in-flight fire() calls started by the tick loop and event listeners

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Scheduler wired to bus for EVENT-trigger integration.
func New(bus *eventbus.Bus) *Scheduler {
	return &Scheduler{
		bus:            bus,
		entries:        make(map[string]*entry),
		eventListeners: make(map[string]int),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Run starts the tick loop; it blocks until Stop is called or ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop halts the tick loop and waits for Run to return. A tick already in
// progress finishes first, and a tick returns only once the callbacks it
// fired have returned; callbacks started by an event or by TriggerNow are
// not waited for. No callback is interrupted.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// CreateTimeEntry registers a TIME entry (spec §4.4).
func (s *Scheduler) CreateTimeEntry(name string, spec TimeSpec, cb Callback) string {
	now := time.Now()
	next := spec.TriggerAt
	if next.IsZero() {
		next = now.Add(time.Duration(spec.DelaySeconds * float64(time.Second)))
	}
	e := &entry{
		id: uuid.NewString(), name: name, kind: TriggerTime, callback: cb,
		recurring: spec.IntervalSeconds > 0, active: true,
		timeSpec: spec, nextFireAt: next, createdAt: now,
	}
	s.mu.Lock()
	s.entries[e.id] = e
	s.mu.Unlock()
	return e.id
}

// CreateEventEntry registers an EVENT entry firing when eventName is
// triggered on the event manager (spec §4.4's event-trigger integration).
func (s *Scheduler) CreateEventEntry(name, eventName string, cb Callback) string {
	e := &entry{
		id: uuid.NewString(), name: name, kind: TriggerEvent, callback: cb,
		recurring: true, active: true, eventName: eventName, createdAt: time.Now(),
	}
	s.mu.Lock()
	s.entries[e.id] = e
	count := s.eventListeners[eventName]
	s.eventListeners[eventName] = count + 1
	s.mu.Unlock()

	if count == 0 && s.bus != nil {
		s.bus.RegisterDirectListener(eventName, func(params map[string]any) {
			s.enqueueMatching(eventName, params)
		})
	}
	return e.id
}

// CreateCustomEntry registers a CUSTOM entry whose predicate is evaluated
// once per tick (spec §4.4).
func (s *Scheduler) CreateCustomEntry(name string, recurring bool, cond ConditionFunc, cb Callback) string {
	e := &entry{
		id: uuid.NewString(), name: name, kind: TriggerCustom, callback: cb,
		recurring: recurring, active: true, condition: cond, createdAt: time.Now(),
	}
	s.mu.Lock()
	s.entries[e.id] = e
	s.mu.Unlock()
	return e.id
}

// Remove deletes an entry. A removed EVENT entry unregisters the scheduler's
// direct listener once it was the last subscriber for that event name.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: entry %q not found", id)
	}
	delete(s.entries, id)
	var unregisterEvent string
	if e.kind == TriggerEvent {
		s.eventListeners[e.eventName]--
		if s.eventListeners[e.eventName] <= 0 {
			delete(s.eventListeners, e.eventName)
			unregisterEvent = e.eventName
		}
	}
	s.mu.Unlock()

	if unregisterEvent != "" && s.bus != nil {
		s.bus.UnregisterDirectListeners(unregisterEvent)
	}
	return nil
}

// Pause marks an entry inactive without removing it.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("scheduler: entry %q not found", id)
	}
	e.paused = true
	return nil
}

// Resume re-activates a paused entry.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("scheduler: entry %q not found", id)
	}
	e.paused = false
	return nil
}

// ErrEntryPaused is returned by TriggerNow for a paused entry (spec §9 Open
// Question: trigger_now requires resuming first rather than silently firing
// a paused entry).
var ErrEntryPaused = fmt.Errorf("scheduler: entry is paused, resume before trigger_now")

// TriggerNow forces an entry to fire immediately regardless of its trigger
// condition, bypassing the tick loop (spec §4.4). Returns ErrEntryPaused if
// the entry is currently paused.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: entry %q not found", id)
	}
	if e.paused {
		s.mu.Unlock()
		return ErrEntryPaused
	}
	s.mu.Unlock()

	s.fire(ctx, e, nil)
	return nil
}

// Info describes one ScheduleEntry's observable state.
type Info struct {
	ID            string
	Name          string
	Kind          TriggerKind
	Recurring     bool
	Active        bool
	Paused        bool
	CreatedAt     time.Time
	LastTriggered time.Time
	TriggerCount  int
}

// Info returns the current state of entry id.
func (s *Scheduler) Info(id string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Info{}, false
	}
	return infoOf(e), true
}

// List returns every entry, optionally filtered by kind (empty kind means
// all).
func (s *Scheduler) List(kind TriggerKind) []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		if kind != "" && e.kind != kind {
			continue
		}
		out = append(out, infoOf(e))
	}
	return out
}

func infoOf(e *entry) Info {
	return Info{
		ID: e.id, Name: e.name, Kind: e.kind, Recurring: e.recurring,
		Active: e.active, Paused: e.paused, CreatedAt: e.createdAt,
		LastTriggered: e.lastTriggered, TriggerCount: e.triggerCount,
	}
}

// Stats summarizes the scheduler's current entry population.
type Stats struct {
	Total   int
	ByKind  map[TriggerKind]int
	Active  int
	Paused  int
}

// Stats returns aggregate counters over all entries.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{ByKind: make(map[TriggerKind]int)}
	for _, e := range s.entries {
		st.Total++
		st.ByKind[e.kind]++
		if e.paused {
			st.Paused++
		} else if e.active {
			st.Active++
		}
	}
	return st
}

// tick evaluates every TIME/CUSTOM entry and fires eligible ones
// concurrently, returning once they have all finished (spec §4.4). EVENT
// entries are not handled here; enqueueMatching fires them directly.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	snapshot := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, e)
	}
	s.mu.Unlock()

	var tickWg sync.WaitGroup
	for _, e := range snapshot {
		if e.paused || !e.active {
			continue
		}
		eligible, fireParams := s.evaluate(e, now)
		if !eligible {
			continue
		}
		tickWg.Add(1)
		s.wg.Add(1)
		go func(e *entry) {
			defer tickWg.Done()
			defer s.wg.Done()
			s.fire(ctx, e, fireParams)
		}(e)
	}
	tickWg.Wait()
}

// evaluate is the pure per-tick eligibility check for TIME and CUSTOM
// entries; EVENT entries are passive and never evaluated here (spec §4.4).
func (s *Scheduler) evaluate(e *entry, now time.Time) (bool, map[string]any) {
	switch e.kind {
	case TriggerTime:
		if now.Before(e.nextFireAt) {
			return false, nil
		}
		return true, nil
	case TriggerCustom:
		return s.safeCondition(e), nil
	default:
		return false, nil
	}
}

// safeCondition evaluates a CUSTOM entry's predicate, treating a panic as
// false for that tick (spec §4.4: "Predicate exceptions treat the predicate
// as false that tick").
func (s *Scheduler) safeCondition(e *entry) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Scheduler().Error().Str("entry", e.id).Interface("panic", r).Msg("condition predicate panicked")
			result = false
		}
	}()
	return e.condition()
}

// enqueueMatching is the direct listener registered with the event manager
// for eventName. It fires every active, non-paused EVENT entry matching
// that name immediately, off the tick loop entirely, preserving both
// zero-latency event-to-task dispatch and registration order (spec §4.4:
// "an event fires its matching entries in the order they were registered").
func (s *Scheduler) enqueueMatching(eventName string, params map[string]any) {
	s.mu.Lock()
	var matched []*entry
	for _, e := range s.entries {
		if e.kind == TriggerEvent && e.eventName == eventName && e.active && !e.paused {
			matched = append(matched, e)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].createdAt.Before(matched[j].createdAt) })

	ctx := context.Background()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, e := range matched {
			s.fire(ctx, e, params)
		}
	}()
}

// fire invokes an entry's callback, recovering from a panic (spec §4.4:
// "callback exceptions are logged with entry id/name and swallowed"),
// updates bookkeeping, and removes non-recurring entries after they fire.
func (s *Scheduler) fire(ctx context.Context, e *entry, params map[string]any) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Scheduler().Error().Str("entry", e.id).Str("name", e.name).Interface("panic", r).Msg("scheduled callback panicked")
			}
		}()
		e.callback(ctx, params)
	}()

	s.mu.Lock()
	live, ok := s.entries[e.id]
	if ok {
		live.triggerCount++
		live.lastTriggered = time.Now()
		if !live.recurring {
			live.active = false
			delete(s.entries, e.id)
		} else if live.kind == TriggerTime {
			live.nextFireAt = live.nextFireAt.Add(time.Duration(live.timeSpec.IntervalSeconds * float64(time.Second)))
		}
	}
	s.mu.Unlock()
}
