package model

import "time"

// Boundaries is the convergence snapshot taken when a packet is created.
// b1/b2 bound the widest gap between active groups, v/u the widest gap
// between active ring indices, and j is the convergence index derived from
// them.
type Boundaries struct {
	B1 int
	B2 int
	U  int
	V  int
	J  int
}

// MinGroup returns the lower of the two boundary groups.
func (b Boundaries) MinGroup() int { return min(b.B1, b.B2) }

// MaxGroup returns the higher of the two boundary groups.
func (b Boundaries) MaxGroup() int { return max(b.B1, b.B2) }

// Packet is a value object: every send hands an independent copy to the
// transport, so nothing on it is shared between hops.
type Packet struct {
	Source Address
	// Relay is the node that last sent this copy.
	Relay     Address
	CreatedAt time.Time

	TTL      int
	HopCount int
	Sequence int
	Size     int

	Boundaries Boundaries

	EastFailed bool
	WestFailed bool
	ReachedJ   bool
}

// DedupKey identifies one fragment of one message for at-most-once
// delivery accounting.
type DedupKey struct {
	Source   Address
	Created  int64 // creation time rounded to the nearest second
	Sequence int
}

// Key returns the de-duplication key of the packet.
func (p Packet) Key() DedupKey {
	return DedupKey{
		Source:   p.Source,
		Created:  p.CreatedAt.Round(time.Second).Unix(),
		Sequence: p.Sequence,
	}
}
