package sim

import (
	"slices"

	"github.com/signalsfoundry/leo-swarm-router/internal/events"
	"github.com/signalsfoundry/leo-swarm-router/internal/logging"
	"github.com/signalsfoundry/leo-swarm-router/internal/routing"
	"github.com/signalsfoundry/leo-swarm-router/model"
)

// scheduleWindows queues the role flips at every window boundary.
func (n *Network) scheduleWindows(windows map[model.Address]model.ActiveWindow) {
	addrs := make([]model.Address, 0, len(windows))
	for addr := range windows {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)

	for _, addr := range addrs {
		node, w := n.nodes[addr], windows[addr]
		n.sched.Schedule(w.Start, func() { n.setRole(node, model.RoleActive) })
		n.sched.Schedule(w.End, func() { n.setRole(node, model.RoleProxy) })
	}
}

func (n *Network) setRole(node *routing.Node, role model.Role) {
	node.SetRole(n.context(), role)
	n.metrics.SetActiveNodes(len(n.tracker.ActiveAt(n.clock.Now())))
}

// scheduleTraffic feeds a node its traffic units one at a time, in order.
func (n *Network) scheduleTraffic(node *routing.Node, units []model.TrafficUnit) {
	if len(units) == 0 {
		return
	}
	unit := units[0]
	n.sched.Schedule(unit.At, func() {
		ctx := n.context()
		if err := node.Originate(ctx, unit); err != nil {
			n.fail(ctx, err)
			return
		}
		n.scheduleTraffic(node, units[1:])
	})
}

// linkCursor walks one node's connectivity list. At most one connect and one
// disconnect are queued at a time: a connect queues the next entry starting
// later, a disconnect drops the head entry and queues the new head's stop.
type linkCursor struct {
	net    *Network
	sched  events.Scheduler
	node   *routing.Node
	events []model.ConnectivityEvent

	connectID    string
	disconnectID string
}

func newLinkCursor(n *Network, sched events.Scheduler, node *routing.Node, evs []model.ConnectivityEvent) *linkCursor {
	return &linkCursor{net: n, sched: sched, node: node, events: slices.Clone(evs)}
}

func (c *linkCursor) start() {
	if len(c.events) == 0 {
		return
	}
	c.scheduleConnect(c.events[0])
	c.scheduleDisconnect(c.events[0])
}

func (c *linkCursor) scheduleConnect(ev model.ConnectivityEvent) {
	if c.connectID != "" {
		c.sched.Cancel(c.connectID)
	}
	c.connectID = c.sched.Schedule(ev.Connect, func() { c.onConnect(ev) })
}

func (c *linkCursor) scheduleDisconnect(ev model.ConnectivityEvent) {
	if c.disconnectID != "" {
		c.sched.Cancel(c.disconnectID)
	}
	c.disconnectID = c.sched.Schedule(ev.Disconnect, func() { c.onDisconnect(ev) })
}

func (c *linkCursor) onConnect(ev model.ConnectivityEvent) {
	c.connectID = ""
	c.node.SetAscending(ev.Ascending)
	c.setLink(ev.Peer, true)

	for _, next := range c.events {
		if next.Connect.After(ev.Connect) {
			c.scheduleConnect(next)
			return
		}
	}
}

func (c *linkCursor) onDisconnect(ev model.ConnectivityEvent) {
	c.disconnectID = ""
	c.setLink(ev.Peer, false)

	if len(c.events) > 0 {
		c.events = c.events[1:]
	}
	if len(c.events) > 0 {
		c.scheduleDisconnect(c.events[0])
	}
}

func (c *linkCursor) setLink(peer model.Address, alive bool) {
	ctx := c.net.context()
	changed, err := c.node.Table().SetLinkAlive(peer, alive)
	if err != nil {
		c.net.log.Warn(ctx, "ignoring link event for non-adjacent peer",
			logging.Int("node", int(c.node.Address())),
			logging.Int("peer", int(peer)),
		)
		return
	}
	c.net.metrics.LinkTransition(alive, changed)
	c.net.log.Debug(ctx, "link state changed",
		logging.Int("node", int(c.node.Address())),
		logging.Int("peer", int(peer)),
		logging.Any("alive", alive),
		logging.Any("ascending", c.node.Ascending()),
	)
}
