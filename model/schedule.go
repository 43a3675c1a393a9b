package model

import "time"

// ActiveWindow is the half-open interval [Start, End) during which a node is
// active.
type ActiveWindow struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w ActiveWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Covers is Contains with the end instant included.
func (w ActiveWindow) Covers(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// ConnectivityEvent brings the link to Peer up at Connect and down again at
// Disconnect.
type ConnectivityEvent struct {
	Connect    time.Time
	Disconnect time.Time
	Peer       Address
	Ascending  bool
}

// TrafficUnit is a scheduled amount of payload an active node originates.
type TrafficUnit struct {
	At          time.Time
	MovingNorth bool
	Amount      int
}

// HeadingRecord captures whether a node was moving north from At onwards.
type HeadingRecord struct {
	Address     Address
	At          time.Time
	MovingNorth bool
}
