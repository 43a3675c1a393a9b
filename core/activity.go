package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/leo-swarm-router/model"
)

var ErrMalformedSchedule = errors.New("malformed schedule")

// ActivityTracker holds the active windows of every node together with their
// heading history. It is schedule knowledge: written once while the scenario
// loads, then only read during the run.
type ActivityTracker struct {
	mu sync.RWMutex

	windows  map[model.Address]model.ActiveWindow
	headings map[model.Address][]model.HeadingRecord
}

// NewActivityTracker returns an empty tracker.
func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{
		windows:  make(map[model.Address]model.ActiveWindow),
		headings: make(map[model.Address][]model.HeadingRecord),
	}
}

// SetWindow registers the active window of addr. A node has at most one
// window and it must not be inverted.
func (a *ActivityTracker) SetWindow(addr model.Address, w model.ActiveWindow) error {
	if w.End.Before(w.Start) {
		return fmt.Errorf("%w: window of %d ends before it starts", ErrMalformedSchedule, addr)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.windows[addr]; exists {
		return fmt.Errorf("%w: duplicate active window for %d", ErrMalformedSchedule, addr)
	}
	a.windows[addr] = w
	return nil
}

// Window returns the configured window of addr.
func (a *ActivityTracker) Window(addr model.Address) (model.ActiveWindow, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	w, ok := a.windows[addr]
	return w, ok
}

// Windows returns a copy of all configured windows.
func (a *ActivityTracker) Windows() map[model.Address]model.ActiveWindow {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[model.Address]model.ActiveWindow, len(a.windows))
	for addr, w := range a.windows {
		out[addr] = w
	}
	return out
}

// IsActive reports whether addr is inside its window at t.
func (a *ActivityTracker) IsActive(addr model.Address, t time.Time) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	w, ok := a.windows[addr]
	return ok && w.Contains(t)
}

// ActiveAt returns the sorted addresses active at t.
func (a *ActivityTracker) ActiveAt(t time.Time) []model.Address {
	return a.collect(func(w model.ActiveWindow) bool { return w.Contains(t) })
}

// ScheduledAt is ActiveAt with window ends included. Origination logs list
// this set, so a node stopping at exactly t still appears.
func (a *ActivityTracker) ScheduledAt(t time.Time) []model.Address {
	return a.collect(func(w model.ActiveWindow) bool { return w.Covers(t) })
}

func (a *ActivityTracker) collect(match func(model.ActiveWindow) bool) []model.Address {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []model.Address
	for addr, w := range a.windows {
		if match(w) {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RecordHeading appends a heading record, keeping each node's history in
// time order. Records with equal times keep insertion order.
func (a *ActivityTracker) RecordHeading(rec model.HeadingRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hist := a.headings[rec.Address]
	idx := sort.Search(len(hist), func(i int) bool {
		return hist[i].At.After(rec.At)
	})
	hist = append(hist, model.HeadingRecord{})
	copy(hist[idx+1:], hist[idx:])
	hist[idx] = rec
	a.headings[rec.Address] = hist
}

// HeadingAt reports whether addr was moving north at t, using the latest
// record at or before t. Nodes without a record are treated as not north.
func (a *ActivityTracker) HeadingAt(addr model.Address, t time.Time) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	hist := a.headings[addr]
	idx := sort.Search(len(hist), func(i int) bool {
		return hist[i].At.After(t)
	})
	if idx == 0 {
		return false
	}
	return hist[idx-1].MovingNorth
}
