package routing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/leo-swarm-router/internal/logging"
	"github.com/signalsfoundry/leo-swarm-router/model"
)

// Originate turns a traffic unit into packets and pushes them onto the ring.
// Nodes outside their active window skip the slot. Boundary computation
// failures are returned and are fatal to the run.
func (n *Node) Originate(ctx context.Context, unit model.TrafficUnit) error {
	now := n.clock.Now()
	if unit.Amount <= 0 {
		return nil
	}
	if !n.activity.IsActive(n.addr, now) {
		n.log.Debug(ctx, "skipping traffic outside active window", logging.Int("amount", unit.Amount))
		return nil
	}

	ctx, span := n.tracer.Start(ctx, "routing.Originate",
		trace.WithAttributes(
			attribute.Int("node", int(n.addr)),
			attribute.Int("amount", unit.Amount),
			attribute.String("preference", n.cfg.Preference.String()),
		),
	)
	defer span.End()

	bounds, err := n.boundaries.Snapshot(now, n.cfg.Preference)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("node %d originate: %w", n.addr, err)
	}
	span.SetAttributes(
		attribute.Int("b1", bounds.B1),
		attribute.Int("b2", bounds.B2),
		attribute.Int("v", bounds.V),
		attribute.Int("u", bounds.U),
		attribute.Int("j", bounds.J),
	)

	sizes := fragment(unit.Amount, n.cfg.MaxPacketSize)
	for i, size := range sizes {
		pkt := model.Packet{
			Source:     n.addr,
			Relay:      n.addr,
			CreatedAt:  now,
			TTL:        n.cfg.TTL,
			Sequence:   i + 1,
			Size:       size,
			Boundaries: bounds,
			EastFailed: true,
			WestFailed: true,
		}
		n.sent++

		n.send(ctx, &pkt, n.ring.forward)
		if n.index != n.ring.convergence(bounds) {
			n.send(ctx, &pkt, n.ring.backward)
		}
	}

	n.telemetry.Originated(ctx, Origination{
		Node:    n.addr,
		At:      now,
		Packets: len(sizes),
		Bytes:   unit.Amount,
		Active:  n.activity.ScheduledAt(now),
	})
	n.log.Debug(ctx, "traffic originated",
		logging.Int("packets", len(sizes)),
		logging.Int("amount", unit.Amount),
		logging.Any("boundaries", bounds),
	)
	return nil
}

// fragment splits amount into chunks of at most limit, the last one carrying
// the remainder. A non-positive limit disables fragmentation.
func fragment(amount, limit int) []int {
	if limit <= 0 || amount <= limit {
		return []int{amount}
	}
	var out []int
	for amount > limit {
		out = append(out, limit)
		amount -= limit
	}
	return append(out, amount)
}
