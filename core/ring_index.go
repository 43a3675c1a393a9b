package core

import (
	"fmt"

	"github.com/signalsfoundry/leo-swarm-router/model"
)

// Default folding parameters. Consecutive groups are phase-shifted by three
// positions, so one group's raw span folds down by AddressSpan-3.
const (
	DefaultFoldThreshold = 2 * model.AddressSpan
	DefaultFoldStride    = model.AddressSpan - 3
)

// Translator maps raw addresses onto the canonical 1..PositionsPerGroup ring
// index used by all boundary math.
type Translator struct {
	PositionsPerGroup int
	FoldThreshold     int
	FoldStride        int
}

// NewTranslator returns a translator with the default fold parameters.
func NewTranslator(positionsPerGroup int) Translator {
	return Translator{
		PositionsPerGroup: positionsPerGroup,
		FoldThreshold:     DefaultFoldThreshold,
		FoldStride:        DefaultFoldStride,
	}
}

// Validate rejects parameters that would not terminate or would not fold.
func (tr Translator) Validate() error {
	if tr.PositionsPerGroup < 1 || tr.PositionsPerGroup >= model.AddressSpan {
		return fmt.Errorf("%w: positions per group %d", ErrTopologyBadInput, tr.PositionsPerGroup)
	}
	if tr.FoldStride <= 0 {
		return fmt.Errorf("%w: fold stride must be positive, got %d", ErrTopologyBadInput, tr.FoldStride)
	}
	if tr.FoldThreshold < model.AddressSpan {
		return fmt.Errorf("%w: fold threshold %d below one address span", ErrTopologyBadInput, tr.FoldThreshold)
	}
	return nil
}

// CheckGeometry validates tr and rejects a geometry with any address that
// folds outside 1..PositionsPerGroup. Fold results that land on a multiple
// of the address span (200+97k with the defaults, e.g. 976 on a 9x76
// torus) are the usual culprit.
func (tr Translator) CheckGeometry(geo TorusGeometry) error {
	if err := tr.Validate(); err != nil {
		return err
	}
	for _, addr := range geo.Addresses() {
		if idx := tr.Canonical(addr); idx < 1 || idx > tr.PositionsPerGroup {
			return fmt.Errorf("%w: address %d folds to ring index %d outside 1..%d", ErrTopologyBadInput, addr, idx, tr.PositionsPerGroup)
		}
	}
	return nil
}

// Canonical returns the ring index of addr.
func (tr Translator) Canonical(addr model.Address) int {
	raw := int(addr)
	if tr.FoldStride > 0 {
		for raw > tr.FoldThreshold {
			raw -= tr.FoldStride
		}
	}
	candidate := raw % model.AddressSpan
	if candidate <= tr.PositionsPerGroup {
		return candidate
	}
	return candidate%(tr.PositionsPerGroup+1) + 1
}

// Mapping lists every address of geo with its canonical index, group by
// group.
func (tr Translator) Mapping(geo TorusGeometry) map[model.Address]int {
	out := make(map[model.Address]int, geo.Groups*geo.PositionsPerGroup)
	for _, addr := range geo.Addresses() {
		out[addr] = tr.Canonical(addr)
	}
	return out
}
