package core

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/leo-swarm-router/model"
)

func TestCanonicalTwoByFour(t *testing.T) {
	tr := NewTranslator(4)
	want := map[model.Address]int{
		101: 1, 102: 2, 103: 3, 104: 4,
		201: 4, 202: 1, 203: 2, 204: 3,
	}
	geo := TorusGeometry{Groups: 2, PositionsPerGroup: 4}
	got := tr.Mapping(geo)
	if len(got) != len(want) {
		t.Fatalf("mapping has %d entries, want %d", len(got), len(want))
	}
	for addr, idx := range want {
		if got[addr] != idx {
			t.Errorf("Canonical(%d) = %d, want %d", addr, got[addr], idx)
		}
	}
}

func TestCanonicalIsIdempotent(t *testing.T) {
	tr := NewTranslator(6)
	geo := TorusGeometry{Groups: 3, PositionsPerGroup: 6}
	for _, addr := range geo.Addresses() {
		idx := tr.Canonical(addr)
		if again := tr.Canonical(model.Address(idx)); again != idx {
			t.Errorf("Canonical(Canonical(%d)) = %d, want %d", addr, again, idx)
		}
	}
}

func TestCanonicalFoldInvariance(t *testing.T) {
	tr := NewTranslator(4)
	for raw := tr.FoldThreshold + 1; raw < 4*model.AddressSpan; raw++ {
		a := model.Address(raw)
		b := model.Address(raw - tr.FoldStride)
		if tr.Canonical(a) != tr.Canonical(b) {
			t.Fatalf("Canonical(%d) = %d but Canonical(%d) = %d", a, tr.Canonical(a), b, tr.Canonical(b))
		}
	}
}

func TestTranslatorValidate(t *testing.T) {
	cases := []struct {
		name string
		tr   Translator
		ok   bool
	}{
		{"default", NewTranslator(4), true},
		{"zero positions", NewTranslator(0), false},
		{"too many positions", NewTranslator(model.AddressSpan), false},
		{"zero stride", Translator{PositionsPerGroup: 4, FoldThreshold: 200}, false},
		{"low threshold", Translator{PositionsPerGroup: 4, FoldThreshold: 50, FoldStride: 97}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tr.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrTopologyBadInput) {
				t.Fatalf("error = %v, want ErrTopologyBadInput", err)
			}
		})
	}
}

func TestCheckGeometryRejectsOutOfRangeIndices(t *testing.T) {
	if err := NewTranslator(4).CheckGeometry(TorusGeometry{Groups: 2, PositionsPerGroup: 4}); err != nil {
		t.Fatalf("2x4: %v", err)
	}
	if err := NewTranslator(6).CheckGeometry(TorusGeometry{Groups: 3, PositionsPerGroup: 6}); err != nil {
		t.Fatalf("3x6: %v", err)
	}

	tr := NewTranslator(76)
	if got := tr.Canonical(976); got != 0 {
		t.Fatalf("Canonical(976) = %d, want 0", got)
	}
	err := tr.CheckGeometry(TorusGeometry{Groups: 9, PositionsPerGroup: 76})
	if !errors.Is(err, ErrTopologyBadInput) {
		t.Fatalf("9x76 err = %v, want ErrTopologyBadInput", err)
	}

	if err := NewTranslator(0).CheckGeometry(TorusGeometry{Groups: 2, PositionsPerGroup: 0}); !errors.Is(err, ErrTopologyBadInput) {
		t.Fatalf("invalid translator err = %v", err)
	}
}
