package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/leo-swarm-router/model"
)

var (
	ErrNoSuchLink       = errors.New("no such link")
	ErrUnknownNeighbor  = errors.New("unknown neighbor")
	ErrTopologyBadInput = errors.New("invalid topology")
)

// NeighborLink is one directional adjacency of a node. Peer and direction are
// fixed when the table is built; Alive toggles under link events.
type NeighborLink struct {
	Direction model.Direction
	Peer      model.Address
	Alive     bool
}

// NeighborTable is the per-node adjacency model: exactly one neighbor per
// direction, derived from the torus geometry.
//
// Each node owns its table; the mutex only guards against inspection from
// outside the simulation loop (CLI, metrics scrape).
type NeighborTable struct {
	mu sync.RWMutex

	self  model.Address
	links map[model.Direction]*NeighborLink
}

// TorusGeometry describes the constellation shape.
type TorusGeometry struct {
	Groups            int
	PositionsPerGroup int
}

// Validate checks the geometry can hold a full four-link mesh.
func (g TorusGeometry) Validate() error {
	if g.Groups < 2 {
		return fmt.Errorf("%w: need at least 2 groups, got %d", ErrTopologyBadInput, g.Groups)
	}
	if g.PositionsPerGroup < 2 {
		return fmt.Errorf("%w: need at least 2 positions per group, got %d", ErrTopologyBadInput, g.PositionsPerGroup)
	}
	if g.PositionsPerGroup >= model.AddressSpan {
		return fmt.Errorf("%w: positions per group must be below %d", ErrTopologyBadInput, model.AddressSpan)
	}
	return nil
}

// Contains reports whether addr names a node of this geometry.
func (g TorusGeometry) Contains(addr model.Address) bool {
	return addr.Group() >= 1 && addr.Group() <= g.Groups &&
		addr.Position() >= 1 && addr.Position() <= g.PositionsPerGroup
}

// Addresses lists every node address, group by group.
func (g TorusGeometry) Addresses() []model.Address {
	out := make([]model.Address, 0, g.Groups*g.PositionsPerGroup)
	for group := 1; group <= g.Groups; group++ {
		for pos := 1; pos <= g.PositionsPerGroup; pos++ {
			out = append(out, model.MakeAddress(group, pos))
		}
	}
	return out
}

// NeighborAt returns the peer reached from self in direction dir. Ring links
// wrap between the last position and position 1; cross-group links wrap
// between the last group and group 1.
func (g TorusGeometry) NeighborAt(self model.Address, dir model.Direction) (model.Address, error) {
	group, pos := self.Group(), self.Position()
	switch dir {
	case model.Up:
		return model.MakeAddress(group, pos%g.PositionsPerGroup+1), nil
	case model.Down:
		return model.MakeAddress(group, (pos-2+g.PositionsPerGroup)%g.PositionsPerGroup+1), nil
	case model.East:
		return model.MakeAddress(group%g.Groups+1, pos), nil
	case model.West:
		return model.MakeAddress((group-2+g.Groups)%g.Groups+1, pos), nil
	default:
		return 0, fmt.Errorf("%w: direction %v", ErrTopologyBadInput, dir)
	}
}

// NewNeighborTable builds the four links of self. Ring links start alive;
// cross-group links start alive only when crossGroupUp is set.
func NewNeighborTable(geo TorusGeometry, self model.Address, crossGroupUp bool) (*NeighborTable, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	if !geo.Contains(self) {
		return nil, fmt.Errorf("%w: address %d outside %dx%d torus", ErrTopologyBadInput, self, geo.Groups, geo.PositionsPerGroup)
	}

	t := &NeighborTable{
		self:  self,
		links: make(map[model.Direction]*NeighborLink, len(model.Directions)),
	}
	for _, dir := range model.Directions {
		peer, err := geo.NeighborAt(self, dir)
		if err != nil {
			return nil, err
		}
		t.links[dir] = &NeighborLink{
			Direction: dir,
			Peer:      peer,
			Alive:     dir.IsRing() || crossGroupUp,
		}
	}
	return t, nil
}

// Self returns the owning node's address.
func (t *NeighborTable) Self() model.Address { return t.self }

// Neighbor returns the peer in direction dir, or ErrNoSuchLink if that link is
// missing or currently dead.
func (t *NeighborTable) Neighbor(dir model.Direction) (model.Address, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	link, ok := t.links[dir]
	if !ok || !link.Alive {
		return 0, fmt.Errorf("%w: %d has no live %s link", ErrNoSuchLink, t.self, dir)
	}
	return link.Peer, nil
}

// DirectionOf returns the first direction (Up, Down, East, West) whose peer
// is addr.
func (t *NeighborTable) DirectionOf(addr model.Address) (model.Direction, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, dir := range model.Directions {
		if link, ok := t.links[dir]; ok && link.Peer == addr {
			return dir, nil
		}
	}
	return model.DirectionUnknown, fmt.Errorf("%w: %d is not adjacent to %d", ErrUnknownNeighbor, addr, t.self)
}

// IsDirectionFailed reports whether the link in dir exists and is dead.
// A structurally absent direction is not considered failed.
func (t *NeighborTable) IsDirectionFailed(dir model.Direction) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	link, ok := t.links[dir]
	return ok && !link.Alive
}

// SetLinkAlive toggles every link whose peer is addr. It returns the number
// of links whose state actually changed.
func (t *NeighborTable) SetLinkAlive(addr model.Address, alive bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	found, changed := false, 0
	for _, link := range t.links {
		if link.Peer != addr {
			continue
		}
		found = true
		if link.Alive != alive {
			link.Alive = alive
			changed++
		}
	}
	if !found {
		return 0, fmt.Errorf("%w: %d is not adjacent to %d", ErrUnknownNeighbor, addr, t.self)
	}
	return changed, nil
}

// SetDirectionAlive toggles a single direction.
func (t *NeighborTable) SetDirectionAlive(dir model.Direction, alive bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	link, ok := t.links[dir]
	if !ok {
		return fmt.Errorf("%w: %d has no %s link", ErrNoSuchLink, t.self, dir)
	}
	link.Alive = alive
	return nil
}

// Links returns a copy of the table in direction order.
func (t *NeighborTable) Links() []NeighborLink {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]NeighborLink, 0, len(t.links))
	for _, dir := range model.Directions {
		if link, ok := t.links[dir]; ok {
			out = append(out, *link)
		}
	}
	return out
}
