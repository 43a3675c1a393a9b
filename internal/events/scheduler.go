package events

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Clock is the time source the scheduler advances as it fires events.
type Clock interface {
	Now() time.Time
	AdvanceTo(t time.Time)
}

// Scheduler is the discrete-event surface the simulation depends on.
//
// Events fire one at a time in nondecreasing time order; events scheduled
// for the same instant fire in the order they were scheduled.
type Scheduler interface {
	// Schedule registers f to run at simulation time 'at' and returns an
	// opaque handle usable with Cancel.
	Schedule(at time.Time, f func()) (id string)

	// Cancel drops a pending event. It is a no-op if the handle is unknown
	// or the event already fired.
	Cancel(id string)

	// Now returns the current simulation time.
	Now() time.Time
}

// Driver is a Scheduler whose owner also pumps the queue one event at a time.
type Driver interface {
	Scheduler

	// Step fires the next event due at or before until and reports whether
	// one ran.
	Step(until time.Time) bool
	// NextAt returns the time of the earliest pending event.
	NextAt() (time.Time, bool)
	Pending() int
	Fired() uint64
}

var _ Driver = (*EventScheduler)(nil)

// scheduledEvent represents a single scheduled callback.
type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// EventScheduler is the concrete Scheduler. It keeps events in a slice
// ordered by time and moves the clock to each event before firing it.
type EventScheduler struct {
	clock Clock

	mu      sync.Mutex
	counter uint64
	fired   uint64
	events  []*scheduledEvent // ordered by 'when' (earliest first)
	index   map[string]*scheduledEvent
}

// NewEventScheduler creates a scheduler that advances clock.
func NewEventScheduler(clock Clock) *EventScheduler {
	return &EventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

// Schedule registers a callback to run at the specified simulation time.
// Times in the past are clamped to now.
func (s *EventScheduler) Schedule(at time.Time, f func()) (id string) {
	if now := s.clock.Now(); at.Before(now) {
		at = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)

	ev := &scheduledEvent{
		id:   id,
		when: at,
		f:    f,
	}
	s.addEventLocked(ev)
	s.index[id] = ev

	return id
}

// addEventLocked inserts an event after every event scheduled for the same
// or an earlier time. Caller must hold s.mu.
func (s *EventScheduler) addEventLocked(ev *scheduledEvent) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(ev.when)
	})

	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

// Cancel attempts to cancel a previously scheduled event.
func (s *EventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
	// Removal from s.events is lazy; popping skips cancelled events.
}

// Now returns the current simulation time from the underlying clock.
func (s *EventScheduler) Now() time.Time {
	return s.clock.Now()
}

// Pending returns the number of events that are still due to fire.
func (s *EventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Fired returns how many events have run so far.
func (s *EventScheduler) Fired() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// NextAt returns the time of the earliest pending event.
func (s *EventScheduler) NextAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.events {
		if !ev.cancelled {
			return ev.when, true
		}
	}
	return time.Time{}, false
}

// popNextLocked removes and returns the earliest non-cancelled event if it
// is due at or before until. Caller must hold s.mu.
func (s *EventScheduler) popNextLocked(until time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(until) {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

// Step fires the next event due at or before until, advancing the clock to
// its time first. It reports whether an event ran.
func (s *EventScheduler) Step(until time.Time) bool {
	s.mu.Lock()
	ev := s.popNextLocked(until)
	if ev == nil {
		s.mu.Unlock()
		return false
	}
	s.fired++
	s.mu.Unlock()

	s.clock.AdvanceTo(ev.when)

	// Callbacks run outside the lock so they can schedule and cancel.
	if ev.f != nil {
		ev.f()
	}
	return true
}
