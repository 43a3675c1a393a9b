package routing

import (
	"context"

	"github.com/signalsfoundry/leo-swarm-router/internal/logging"
	"github.com/signalsfoundry/leo-swarm-router/model"
)

// handleActive counts the packet once and relays it along the ring until it
// reaches the convergence boundary.
func (n *Node) handleActive(ctx context.Context, pkt *model.Packet, arrival model.Direction) {
	n.recordDelivery(ctx, pkt)

	switch arrival {
	case n.ring.backward:
		pkt.TTL--
		n.send(ctx, pkt, n.ring.forward)
	case n.ring.forward:
		if n.index == n.ring.convergence(pkt.Boundaries) {
			n.log.Debug(ctx, "absorbed at convergence boundary", logging.Int("source", int(pkt.Source)))
			return
		}
		pkt.TTL--
		n.send(ctx, pkt, n.ring.backward)
	}
}

func (n *Node) recordDelivery(ctx context.Context, pkt *model.Packet) {
	if pkt.Source == n.addr {
		return
	}
	key := pkt.Key()
	if !n.seen.MarkSeen(key) {
		n.telemetry.Duplicate(ctx, n.addr, key)
		return
	}

	n.received++
	d := Delivery{
		Node:      n.addr,
		Source:    pkt.Source,
		CreatedAt: pkt.CreatedAt,
		At:        n.clock.Now(),
		Sequence:  pkt.Sequence,
		HopCount:  pkt.HopCount,
		Size:      pkt.Size,
	}
	n.telemetry.Delivered(ctx, d)
	n.log.Debug(ctx, "packet delivered",
		logging.Int("source", int(pkt.Source)),
		logging.Int("sequence", pkt.Sequence),
		logging.Int("hops", pkt.HopCount),
		logging.Any("latency", d.Latency()),
	)
}
