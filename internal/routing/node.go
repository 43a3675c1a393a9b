package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/leo-swarm-router/core"
	"github.com/signalsfoundry/leo-swarm-router/internal/logging"
	"github.com/signalsfoundry/leo-swarm-router/model"
	"github.com/signalsfoundry/leo-swarm-router/timectrl"
)

const tracerName = "github.com/signalsfoundry/leo-swarm-router/internal/routing"

var (
	ErrTTLExpired  = errors.New("ttl expired")
	ErrNodeBadDeps = errors.New("invalid node dependencies")
)

// Transport carries a packet copy over the link in direction via to peer.
type Transport interface {
	Send(ctx context.Context, from model.Address, via model.Direction, to model.Address, pkt model.Packet)
}

// Activity answers role questions from the active-window schedule.
type Activity interface {
	IsActive(addr model.Address, t time.Time) bool
	ScheduledAt(t time.Time) []model.Address
}

// BoundarySource computes the convergence snapshot for new packets.
type BoundarySource interface {
	Snapshot(t time.Time, pref model.Preference) (model.Boundaries, error)
}

// Config holds the routing parameters shared by every node.
type Config struct {
	Preference    model.Preference
	TTL           int
	MaxPacketSize int
	// SeenRetention bounds how long an active node remembers a delivered
	// packet. Zero keeps every key for the whole run.
	SeenRetention time.Duration
}

// Deps are the collaborators a node needs.
type Deps struct {
	Table      *core.NeighborTable
	Translator core.Translator
	Clock      timectrl.SimClock
	Activity   Activity
	Boundaries BoundarySource
	Transport  Transport
	Telemetry  Telemetry
	Logger     logging.Logger
}

// Node is the routing decision engine of one constellation node. All of its
// state is owned by the node and only touched from event handlers.
type Node struct {
	addr  model.Address
	index int
	cfg   Config
	ring  ringMap

	table      *core.NeighborTable
	clock      timectrl.SimClock
	activity   Activity
	boundaries BoundarySource
	transport  Transport
	telemetry  Telemetry
	log        logging.Logger
	tracer     trace.Tracer

	role      model.Role
	ascending bool
	seen      *SeenSet
	sent      int
	received  int
}

// NewNode wires a node around its neighbor table.
func NewNode(cfg Config, deps Deps) (*Node, error) {
	switch {
	case deps.Table == nil:
		return nil, fmt.Errorf("%w: nil neighbor table", ErrNodeBadDeps)
	case deps.Clock == nil:
		return nil, fmt.Errorf("%w: nil clock", ErrNodeBadDeps)
	case deps.Activity == nil:
		return nil, fmt.Errorf("%w: nil activity tracker", ErrNodeBadDeps)
	case deps.Boundaries == nil:
		return nil, fmt.Errorf("%w: nil boundary source", ErrNodeBadDeps)
	case deps.Transport == nil:
		return nil, fmt.Errorf("%w: nil transport", ErrNodeBadDeps)
	}
	if deps.Telemetry == nil {
		deps.Telemetry = NopTelemetry{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Noop()
	}

	addr := deps.Table.Self()
	return &Node{
		addr:       addr,
		index:      deps.Translator.Canonical(addr),
		cfg:        cfg,
		ring:       ringFor(cfg.Preference),
		table:      deps.Table,
		clock:      deps.Clock,
		activity:   deps.Activity,
		boundaries: deps.Boundaries,
		transport:  deps.Transport,
		telemetry:  deps.Telemetry,
		log:        deps.Logger.With(logging.Int("node", int(addr))),
		tracer:     otel.Tracer(tracerName),
		role:       model.RoleProxy,
		seen:       NewSeenSet(cfg.SeenRetention),
	}, nil
}

func (n *Node) Address() model.Address       { return n.addr }
func (n *Node) Index() int                   { return n.index }
func (n *Node) Table() *core.NeighborTable   { return n.table }
func (n *Node) Role() model.Role             { return n.role }
func (n *Node) Seen() *SeenSet               { return n.seen }
func (n *Node) Counts() (sent, received int) { return n.sent, n.received }
func (n *Node) Ascending() bool              { return n.ascending }
func (n *Node) SetAscending(ascending bool)  { n.ascending = ascending }

// SetRole records a role transition fired at a window boundary.
func (n *Node) SetRole(ctx context.Context, role model.Role) {
	if n.role == role {
		return
	}
	n.log.Info(ctx, "role changed",
		logging.String("from", n.role.String()),
		logging.String("to", role.String()),
	)
	n.role = role
}

// HandlePacket runs the forwarding state machine for one received copy.
// arrival is the direction the copy came in on; DirectionUnknown makes the
// node infer it from the packet's relay address.
//
// ErrTTLExpired is returned when the packet is discarded for its TTL; it is
// not fatal.
func (n *Node) HandlePacket(ctx context.Context, pkt model.Packet, arrival model.Direction) error {
	if arrival == model.DirectionUnknown {
		dir, err := n.table.DirectionOf(pkt.Relay)
		if err != nil {
			n.telemetry.Dropped(DropUnknownNeighbor)
			return fmt.Errorf("node %d: %w", n.addr, err)
		}
		arrival = dir
	}

	if pkt.TTL <= 0 {
		n.telemetry.Dropped(DropTTLExpired)
		n.log.Debug(ctx, "discarding packet",
			logging.Int("source", int(pkt.Source)),
			logging.Int("hops", pkt.HopCount),
		)
		return fmt.Errorf("node %d: %w", n.addr, ErrTTLExpired)
	}

	if n.activity.IsActive(n.addr, n.clock.Now()) {
		n.handleActive(ctx, &pkt, arrival)
	} else {
		n.handleProxy(ctx, &pkt, arrival)
	}
	return nil
}

// Finish reports the node's totals to telemetry.
func (n *Node) Finish(ctx context.Context) {
	n.telemetry.NodeTotals(ctx, n.addr, n.sent, n.received)
}

// send forwards a copy of pkt on dir. Dead or missing links are skipped.
// A successful East or West send clears the matching failure flag on pkt.
func (n *Node) send(ctx context.Context, pkt *model.Packet, dir model.Direction) bool {
	peer, err := n.table.Neighbor(dir)
	if err != nil {
		n.telemetry.Dropped(DropDeadLink)
		n.log.Debug(ctx, "skipping send", logging.String("direction", dir.String()), logging.String("error", err.Error()))
		return false
	}

	out := *pkt
	out.Relay = n.addr
	out.HopCount++
	n.transport.Send(ctx, n.addr, dir, peer, out)
	n.telemetry.Forwarded(dir)

	switch dir {
	case model.East:
		pkt.EastFailed = false
	case model.West:
		pkt.WestFailed = false
	}
	return true
}
