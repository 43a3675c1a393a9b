package timectrl

import (
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. The event
// scheduler and the routing nodes depend on it rather than on a concrete
// controller so tests can drive time directly.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// Accelerated jumps straight to the next event time.
	Accelerated Mode = iota
	// RealTime sleeps for the simulated gap (divided by Speed) before each jump.
	RealTime
)

func (m Mode) String() string {
	if m == RealTime {
		return "realtime"
	}
	return "accelerated"
}

// TimeController owns simulation time for a discrete-event run and notifies
// registered listeners whenever time moves forward.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Mode      Mode
	// Speed scales real-time pacing; 2 runs twice as fast as wall clock.
	Speed float64

	currentTime time.Time
	listeners   []func(time.Time)

	sleep func(time.Duration)
}

// NewTimeController constructs a controller positioned at start.
func NewTimeController(start time.Time, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Mode:        mode,
		Speed:       1,
		currentTime: start,
		sleep:       time.Sleep,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// AddListener registers a callback invoked every time AdvanceTo moves time.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// AdvanceTo moves simulation time forward to t. Time never goes backwards;
// an earlier t is ignored.
func (tc *TimeController) AdvanceTo(t time.Time) {
	tc.mu.Lock()
	if !t.After(tc.currentTime) {
		tc.mu.Unlock()
		return
	}
	gap := t.Sub(tc.currentTime)
	mode, speed, sleep := tc.Mode, tc.Speed, tc.sleep
	tc.mu.Unlock()

	if mode == RealTime && sleep != nil {
		if speed <= 0 {
			speed = 1
		}
		sleep(time.Duration(float64(gap) / speed))
	}

	tc.mu.Lock()
	tc.currentTime = t
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
}

// Elapsed returns how much simulation time has passed since StartTime.
func (tc *TimeController) Elapsed() time.Duration {
	return tc.Now().Sub(tc.StartTime)
}
