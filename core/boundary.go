package core

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/signalsfoundry/leo-swarm-router/model"
)

var ErrInsufficientBoundaryInput = errors.New("insufficient boundary input")

// WidestGap finds the pair of values bounding the widest gap on a cyclic
// domain of size domain. Values are deduplicated and sorted first. Adjacent
// pairs are scanned in ascending order and the wraparound gap
// first+(domain-last) is tested last; ties keep the earlier pair.
//
// For the wraparound pair the result is (last, first).
func WidestGap(values []int, domain int) (int, int, error) {
	sorted := sortedUnique(values)
	if len(sorted) < 2 {
		return 0, 0, fmt.Errorf("%w: need 2 distinct values, got %v", ErrInsufficientBoundaryInput, sorted)
	}

	maxGap := -1
	lo, hi := -1, -1
	for i := 0; i < len(sorted)-1; i++ {
		if gap := sorted[i+1] - sorted[i]; gap > maxGap {
			maxGap = gap
			lo, hi = sorted[i], sorted[i+1]
		}
	}
	if wrap := sorted[0] + (domain - sorted[len(sorted)-1]); wrap > maxGap {
		lo, hi = sorted[len(sorted)-1], sorted[0]
	}
	return lo, hi, nil
}

func sortedUnique(values []int) []int {
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}

// BoundaryCalculator derives the convergence boundaries from the set of
// nodes active at a given time.
type BoundaryCalculator struct {
	Geometry   TorusGeometry
	Translator Translator
	Activity   *ActivityTracker
}

// NewBoundaryCalculator wires a calculator over the tracker.
func NewBoundaryCalculator(geo TorusGeometry, tr Translator, activity *ActivityTracker) *BoundaryCalculator {
	return &BoundaryCalculator{Geometry: geo, Translator: tr, Activity: activity}
}

// CalculateVU returns the west (V) and east (U) ring indices bounding the
// widest gap between active nodes.
func (c *BoundaryCalculator) CalculateVU(t time.Time) (v, u int, err error) {
	active := c.Activity.ActiveAt(t)
	indices := make([]int, 0, len(active))
	for _, addr := range active {
		indices = append(indices, c.Translator.Canonical(addr))
	}
	indices = sortedUnique(indices)

	c1, c2, err := WidestGap(indices, c.Geometry.PositionsPerGroup)
	if err != nil {
		return 0, 0, fmt.Errorf("calculate v/u: %w", err)
	}
	if c1 > c2 {
		c1, c2 = c2, c1
	}

	between := false
	for _, idx := range indices {
		if c1 < idx && idx < c2 {
			between = true
			break
		}
	}
	if between {
		return c1, c2, nil
	}
	return c2, c1, nil
}

// CalculateAPorMAP returns the sorted unique groups of active nodes whose
// heading matches wantNorth.
func (c *BoundaryCalculator) CalculateAPorMAP(t time.Time, wantNorth bool) []int {
	var groups []int
	for _, addr := range c.Activity.ActiveAt(t) {
		if c.Activity.HeadingAt(addr, t) == wantNorth {
			groups = append(groups, addr.Group())
		}
	}
	return sortedUnique(groups)
}

// CalculateB1B2 returns the pair of active groups bounding the widest gap
// around the group ring.
func (c *BoundaryCalculator) CalculateB1B2(t time.Time) (b1, b2 int, err error) {
	aps := append(c.CalculateAPorMAP(t, true), c.CalculateAPorMAP(t, false)...)
	b1, b2, err = WidestGap(aps, c.Geometry.Groups)
	if err != nil {
		return 0, 0, fmt.Errorf("calculate b1/b2: %w", err)
	}
	return b1, b2, nil
}

// CalculateJ derives the convergence index from the boundary index nearer
// the direction traffic is pushed: U when westward, V when eastward.
func (c *BoundaryCalculator) CalculateJ(vu int, pref model.Preference) int {
	n := c.Geometry.PositionsPerGroup
	if pref == model.PreferenceEastward {
		return (vu - 1) % n
	}
	return ((vu/2 + 1) * 2) % n
}

// Snapshot computes the boundaries a packet created at t carries.
func (c *BoundaryCalculator) Snapshot(t time.Time, pref model.Preference) (model.Boundaries, error) {
	b1, b2, err := c.CalculateB1B2(t)
	if err != nil {
		return model.Boundaries{}, err
	}
	v, u, err := c.CalculateVU(t)
	if err != nil {
		return model.Boundaries{}, err
	}
	anchor := u
	if pref == model.PreferenceEastward {
		anchor = v
	}
	return model.Boundaries{
		B1: b1,
		B2: b2,
		U:  u,
		V:  v,
		J:  c.CalculateJ(anchor, pref),
	}, nil
}
