package routing

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signalsfoundry/leo-swarm-router/model"
)

func TestActiveRelaysAndCountsOnce(t *testing.T) {
	f := newFixture()
	f.activate(t, 103)
	n := f.node(t, 103, model.PreferenceWestward)
	f.clock.AdvanceTo(f.start.Add(2 * time.Second))

	pkt := f.packet(notJ)
	pkt.HopCount = 3
	if err := n.HandlePacket(context.Background(), pkt, model.Down); err != nil {
		t.Fatalf("HandlePacket: %v", err)
	}
	if diff := cmp.Diff([]model.Direction{model.Up}, f.transport.vias()); diff != "" {
		t.Fatalf("sends mismatch (-want +got):\n%s", diff)
	}
	if got := f.transport.sent[0].Pkt.TTL; got != 4 {
		t.Fatalf("relayed TTL = %d, want 4", got)
	}

	if len(f.telemetry.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(f.telemetry.deliveries))
	}
	d := f.telemetry.deliveries[0]
	if d.Source != 301 || d.Node != 103 || d.HopCount != 3 || d.Sequence != 1 || d.Size != 10 {
		t.Fatalf("delivery = %+v", d)
	}
	if d.Latency() != 2*time.Second {
		t.Fatalf("latency = %v, want 2s", d.Latency())
	}

	// The second copy (e.g. the one going the other way around the ring) is
	// still relayed but not counted again.
	f.transport.reset()
	if err := n.HandlePacket(context.Background(), pkt, model.Down); err != nil {
		t.Fatalf("HandlePacket: %v", err)
	}
	if len(f.transport.sent) != 1 {
		t.Fatalf("duplicate copy sends = %d, want 1", len(f.transport.sent))
	}
	if len(f.telemetry.deliveries) != 1 || f.telemetry.duplicates != 1 {
		t.Fatalf("deliveries/duplicates = %d/%d, want 1/1", len(f.telemetry.deliveries), f.telemetry.duplicates)
	}
	if _, received := n.Counts(); received != 1 {
		t.Fatalf("received = %d, want 1", received)
	}
	if n.Seen().Len() != 1 {
		t.Fatalf("seen set len = %d, want 1", n.Seen().Len())
	}
}

func TestActiveAbsorbsAtConvergence(t *testing.T) {
	f := newFixture()
	f.activate(t, 103)
	n := f.node(t, 103, model.PreferenceWestward)

	b := model.Boundaries{B1: 2, B2: 3, V: 3, U: 1, J: 4}
	if err := n.HandlePacket(context.Background(), f.packet(b), model.Up); err != nil {
		t.Fatalf("HandlePacket: %v", err)
	}
	if len(f.transport.sent) != 0 {
		t.Fatalf("packet at V was relayed via %v", f.transport.vias())
	}
	if len(f.telemetry.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(f.telemetry.deliveries))
	}

	f.transport.reset()
	pkt := f.packet(notJ)
	pkt.Sequence = 2
	if err := n.HandlePacket(context.Background(), pkt, model.Up); err != nil {
		t.Fatalf("HandlePacket: %v", err)
	}
	if diff := cmp.Diff([]model.Direction{model.Down}, f.transport.vias()); diff != "" {
		t.Fatalf("sends mismatch (-want +got):\n%s", diff)
	}
}

func TestActiveIgnoresOwnPackets(t *testing.T) {
	f := newFixture()
	f.activate(t, 103)
	n := f.node(t, 103, model.PreferenceWestward)

	pkt := f.packet(notJ)
	pkt.Source = 103
	if err := n.HandlePacket(context.Background(), pkt, model.Down); err != nil {
		t.Fatalf("HandlePacket: %v", err)
	}
	if len(f.telemetry.deliveries) != 0 || f.telemetry.duplicates != 0 {
		t.Fatalf("own packet counted: deliveries=%d duplicates=%d", len(f.telemetry.deliveries), f.telemetry.duplicates)
	}
}

func TestActiveCrossGroupArrivalIsCountedNotRelayed(t *testing.T) {
	f := newFixture()
	f.activate(t, 103)
	n := f.node(t, 103, model.PreferenceWestward)

	if err := n.HandlePacket(context.Background(), f.packet(notJ), model.East); err != nil {
		t.Fatalf("HandlePacket: %v", err)
	}
	if len(f.transport.sent) != 0 {
		t.Fatalf("cross-group arrival relayed via %v", f.transport.vias())
	}
	if len(f.telemetry.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(f.telemetry.deliveries))
	}
}

func TestActiveExpiredTTLIsNotCounted(t *testing.T) {
	f := newFixture()
	f.activate(t, 103)
	n := f.node(t, 103, model.PreferenceWestward)

	pkt := f.packet(notJ)
	pkt.TTL = 0
	if err := n.HandlePacket(context.Background(), pkt, model.Down); err == nil {
		t.Fatalf("HandlePacket accepted an expired packet")
	}
	if len(f.telemetry.deliveries) != 0 {
		t.Fatalf("expired packet delivered")
	}
}

func TestSeenSet(t *testing.T) {
	s := NewSeenSet(0)
	key := model.DedupKey{Source: 101, Created: 30, Sequence: 1}

	if !s.MarkSeen(key) {
		t.Fatalf("first MarkSeen = false, want true")
	}
	if s.MarkSeen(key) {
		t.Fatalf("second MarkSeen = true, want false")
	}
	if !s.Seen(key) || s.Seen(model.DedupKey{Source: 101, Created: 30, Sequence: 2}) {
		t.Fatalf("Seen reports wrong membership")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestSeenSetRetentionForgetsOldKeys(t *testing.T) {
	s := NewSeenSet(20 * time.Millisecond)
	key := model.DedupKey{Source: 202, Created: 5, Sequence: 1}

	if !s.MarkSeen(key) {
		t.Fatalf("first MarkSeen = false, want true")
	}
	if s.MarkSeen(key) {
		t.Fatalf("repeat within retention counted as new")
	}

	time.Sleep(60 * time.Millisecond)
	if s.Seen(key) || s.Len() != 0 {
		t.Fatalf("key survived retention: seen=%v len=%d", s.Seen(key), s.Len())
	}
	if !s.MarkSeen(key) {
		t.Fatalf("MarkSeen after expiry = false, want true")
	}
}
