package model

import (
	"fmt"
	"strings"
)

// AddressSpan is the raw address distance between the same position in two
// consecutive groups. A node address is group*AddressSpan + position.
const AddressSpan = 100

// Address identifies a node in the constellation, e.g. 203 is position 3 of
// group 2. Groups and positions are 1-based.
type Address int

// MakeAddress builds the raw address of a position within a group.
func MakeAddress(group, position int) Address {
	return Address(group*AddressSpan + position)
}

// Group returns the group (orbital plane) id encoded in the address.
func (a Address) Group() int { return int(a) / AddressSpan }

// Position returns the raw position within the group.
func (a Address) Position() int { return int(a) % AddressSpan }

func (a Address) String() string { return fmt.Sprintf("%d", int(a)) }

// Direction names one of the four links every node has.
type Direction int

const (
	DirectionUnknown Direction = iota
	// Up is the ring link towards the next (position-increasing) neighbour.
	Up
	// Down is the ring link towards the previous (position-decreasing) neighbour.
	Down
	// East is the cross-group link towards the next group.
	East
	// West is the cross-group link towards the previous group.
	West
)

// Directions lists the four link directions in lookup order.
var Directions = [...]Direction{Up, Down, East, West}

// Opposite returns the direction a link is seen from at its other end.
func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	case East:
		return West
	case West:
		return East
	default:
		return DirectionUnknown
	}
}

// IsRing reports whether d is an intra-group link.
func (d Direction) IsRing() bool { return d == Up || d == Down }

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case East:
		return "east"
	case West:
		return "west"
	default:
		return "unknown"
	}
}

// Role is the routing behaviour a node applies to received packets.
type Role int

const (
	RoleProxy Role = iota
	RoleActive
)

func (r Role) String() string {
	if r == RoleActive {
		return "active"
	}
	return "proxy"
}

// Preference selects which way traffic is pushed around a ring.
//
// Westward pushes along Up and converges on V; Eastward pushes along Down and
// converges on U.
type Preference int

const (
	PreferenceWestward Preference = iota
	PreferenceEastward
)

// ParsePreference maps a config string onto a Preference.
func ParsePreference(s string) (Preference, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "west", "westward":
		return PreferenceWestward, nil
	case "east", "eastward":
		return PreferenceEastward, nil
	default:
		return PreferenceWestward, fmt.Errorf("unknown routing preference %q", s)
	}
}

func (p Preference) String() string {
	if p == PreferenceEastward {
		return "eastward"
	}
	return "westward"
}
