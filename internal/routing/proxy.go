package routing

import (
	"context"

	"github.com/signalsfoundry/leo-swarm-router/model"
)

// handleProxy relays a packet through a non-active node. Until the packet
// reaches the convergence index j it is pushed along the ring; at j it is
// handed across groups. EastFailed/WestFailed carry deferred cross-group
// sends past dead links and are cleared by any successful send that way.
func (n *Node) handleProxy(ctx context.Context, pkt *model.Packet, arrival model.Direction) {
	pkt.TTL--

	if n.index != pkt.Boundaries.J {
		n.relayTowardJ(ctx, pkt, arrival)
		return
	}
	n.relayAtJ(ctx, pkt, arrival)
}

func (n *Node) relayTowardJ(ctx context.Context, pkt *model.Packet, arrival model.Direction) {
	switch arrival {
	case n.ring.backward:
		if !pkt.ReachedJ {
			n.send(ctx, pkt, n.ring.forward)
			return
		}
		n.sendDeferred(ctx, pkt)
		if pkt.EastFailed || pkt.WestFailed {
			n.send(ctx, pkt, n.ring.forward)
		}

	case model.East:
		pkt.EastFailed = false
		if n.table.IsDirectionFailed(model.West) {
			pkt.WestFailed = true
		} else {
			n.send(ctx, pkt, model.West)
		}
		n.send(ctx, pkt, n.ring.backward)

	case model.West:
		pkt.WestFailed = false
		if n.table.IsDirectionFailed(model.East) {
			pkt.EastFailed = true
		} else {
			n.send(ctx, pkt, model.East)
		}
		// West arrivals fan out both ways around the ring.
		n.send(ctx, pkt, n.ring.backward)
		n.send(ctx, pkt, n.ring.forward)
		pkt.EastFailed = false

	case n.ring.forward:
		n.sendDeferred(ctx, pkt)
		if n.index != n.ring.convergence(pkt.Boundaries) {
			n.send(ctx, pkt, n.ring.backward)
		}
	}
}

func (n *Node) relayAtJ(ctx context.Context, pkt *model.Packet, arrival model.Direction) {
	// Edge groups have nothing beyond them to defer to.
	if n.addr.Group() == pkt.Boundaries.MinGroup() {
		pkt.WestFailed = false
	}
	if n.addr.Group() == pkt.Boundaries.MaxGroup() {
		pkt.EastFailed = false
	}
	pkt.ReachedJ = true

	switch arrival {
	case n.ring.forward:
		n.send(ctx, pkt, n.ring.backward)
		if pkt.EastFailed {
			n.send(ctx, pkt, model.East)
		}
		if pkt.EastFailed || pkt.WestFailed {
			n.send(ctx, pkt, n.ring.forward)
		}

	case n.ring.backward:
		if n.table.IsDirectionFailed(model.East) {
			pkt.EastFailed = true
		} else {
			n.send(ctx, pkt, model.East)
		}
		n.send(ctx, pkt, n.ring.forward)

	default:
		pkt.EastFailed = false
		n.send(ctx, pkt, n.ring.forward)
		n.send(ctx, pkt, n.ring.backward)
	}
}

// sendDeferred retries the cross-group sends flagged as failed.
func (n *Node) sendDeferred(ctx context.Context, pkt *model.Packet) {
	if pkt.EastFailed {
		n.send(ctx, pkt, model.East)
	}
	if pkt.WestFailed {
		n.send(ctx, pkt, model.West)
	}
}
