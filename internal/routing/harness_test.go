package routing

import (
	"context"
	"testing"
	"time"

	"github.com/signalsfoundry/leo-swarm-router/core"
	"github.com/signalsfoundry/leo-swarm-router/model"
	"github.com/signalsfoundry/leo-swarm-router/timectrl"
)

type sentCopy struct {
	From model.Address
	Via  model.Direction
	To   model.Address
	Pkt  model.Packet
}

type recordingTransport struct {
	sent []sentCopy
}

func (r *recordingTransport) Send(_ context.Context, from model.Address, via model.Direction, to model.Address, pkt model.Packet) {
	r.sent = append(r.sent, sentCopy{From: from, Via: via, To: to, Pkt: pkt})
}

func (r *recordingTransport) vias() []model.Direction {
	out := make([]model.Direction, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.Via)
	}
	return out
}

func (r *recordingTransport) reset() { r.sent = nil }

type recordingTelemetry struct {
	deliveries   []Delivery
	duplicates   int
	originations []Origination
	forwarded    map[model.Direction]int
	dropped      map[DropReason]int
}

func newRecordingTelemetry() *recordingTelemetry {
	return &recordingTelemetry{
		forwarded: make(map[model.Direction]int),
		dropped:   make(map[DropReason]int),
	}
}

func (r *recordingTelemetry) Delivered(_ context.Context, d Delivery) {
	r.deliveries = append(r.deliveries, d)
}

func (r *recordingTelemetry) Duplicate(context.Context, model.Address, model.DedupKey) {
	r.duplicates++
}

func (r *recordingTelemetry) Originated(_ context.Context, o Origination) {
	r.originations = append(r.originations, o)
}

func (r *recordingTelemetry) Forwarded(dir model.Direction) { r.forwarded[dir]++ }
func (r *recordingTelemetry) Dropped(reason DropReason)     { r.dropped[reason]++ }
func (r *recordingTelemetry) NodeTotals(context.Context, model.Address, int, int) {
}

type staticBounds struct {
	b   model.Boundaries
	err error
}

func (s *staticBounds) Snapshot(time.Time, model.Preference) (model.Boundaries, error) {
	return s.b, s.err
}

// fixture is a 3 group x 6 position torus with every link up. Group 1
// addresses translate to their own position, so 103 has ring index 3.
type fixture struct {
	geo       core.TorusGeometry
	tracker   *core.ActivityTracker
	clock     *timectrl.TimeController
	transport *recordingTransport
	telemetry *recordingTelemetry
	bounds    *staticBounds
	start     time.Time
}

func newFixture() *fixture {
	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	return &fixture{
		geo:       core.TorusGeometry{Groups: 3, PositionsPerGroup: 6},
		tracker:   core.NewActivityTracker(),
		clock:     timectrl.NewTimeController(start, timectrl.Accelerated),
		transport: &recordingTransport{},
		telemetry: newRecordingTelemetry(),
		bounds:    &staticBounds{},
		start:     start,
	}
}

func (f *fixture) node(t *testing.T, addr model.Address, pref model.Preference) *Node {
	t.Helper()

	table, err := core.NewNeighborTable(f.geo, addr, true)
	if err != nil {
		t.Fatalf("NewNeighborTable(%d): %v", addr, err)
	}
	n, err := NewNode(Config{Preference: pref, TTL: 5, MaxPacketSize: 100}, Deps{
		Table:      table,
		Translator: core.NewTranslator(f.geo.PositionsPerGroup),
		Clock:      f.clock,
		Activity:   f.tracker,
		Boundaries: f.bounds,
		Transport:  f.transport,
		Telemetry:  f.telemetry,
	})
	if err != nil {
		t.Fatalf("NewNode(%d): %v", addr, err)
	}
	return n
}

func (f *fixture) activate(t *testing.T, addr model.Address) {
	t.Helper()
	if err := f.tracker.SetWindow(addr, model.ActiveWindow{Start: f.start, End: f.start.Add(time.Hour)}); err != nil {
		t.Fatalf("SetWindow(%d): %v", addr, err)
	}
}

func (f *fixture) packet(b model.Boundaries) model.Packet {
	return model.Packet{
		Source:     301,
		CreatedAt:  f.start,
		TTL:        5,
		Sequence:   1,
		Size:       10,
		Boundaries: b,
	}
}
