// Package sim runs a constellation scenario: it builds one routing node per
// torus address, turns the schedule into events and carries packets between
// nodes with a fixed per-hop latency.
package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/leo-swarm-router/core"
	"github.com/signalsfoundry/leo-swarm-router/internal/events"
	"github.com/signalsfoundry/leo-swarm-router/internal/logging"
	"github.com/signalsfoundry/leo-swarm-router/internal/observability"
	"github.com/signalsfoundry/leo-swarm-router/internal/routing"
	"github.com/signalsfoundry/leo-swarm-router/internal/schedule"
	"github.com/signalsfoundry/leo-swarm-router/model"
	"github.com/signalsfoundry/leo-swarm-router/timectrl"
)

const tracerName = "github.com/signalsfoundry/leo-swarm-router/internal/sim"

// Options describe the constellation and its routing parameters.
type Options struct {
	Geometry          core.TorusGeometry
	Translator        core.Translator
	CrossGroupLinksUp bool
	Routing           routing.Config
	// HopLatency is the simulated time a packet copy spends on a link.
	HopLatency time.Duration
}

// Deps are optional collaborators. A nil Clock gets an accelerated
// controller starting at the zero time.
type Deps struct {
	Clock     *timectrl.TimeController
	Telemetry routing.Telemetry
	Metrics   *observability.SimCollector
	Logger    logging.Logger
}

// Network is the node arena of one run. It implements routing.Transport.
type Network struct {
	opts Options

	clock     *timectrl.TimeController
	sched     events.Driver
	tracker   *core.ActivityTracker
	bounds    *core.BoundaryCalculator
	telemetry routing.Telemetry
	metrics   *observability.SimCollector
	log       logging.Logger
	tracer    trace.Tracer

	nodes map[model.Address]*routing.Node
	order []model.Address
	links map[model.Address]*linkCursor

	runCtx context.Context
	fatal  error
}

var _ routing.Transport = (*Network)(nil)

// New builds the network and queues every scheduled event. The schedule must
// configure at least one active window and only name addresses of the torus.
func New(opts Options, sch *schedule.Schedule, deps Deps) (*Network, error) {
	if err := opts.Geometry.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Translator.CheckGeometry(opts.Geometry); err != nil {
		return nil, err
	}
	if opts.HopLatency < 0 {
		return nil, fmt.Errorf("negative hop latency %v", opts.HopLatency)
	}
	if sch == nil || len(sch.Windows) == 0 {
		return nil, fmt.Errorf("%w: no active window configured", core.ErrMalformedSchedule)
	}
	if err := checkAddresses(opts.Geometry, sch); err != nil {
		return nil, err
	}

	if deps.Clock == nil {
		deps.Clock = timectrl.NewTimeController(time.Time{}, timectrl.Accelerated)
	}
	if deps.Telemetry == nil {
		deps.Telemetry = routing.NopTelemetry{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Noop()
	}

	tracker := core.NewActivityTracker()
	if err := sch.Apply(tracker); err != nil {
		return nil, err
	}

	n := &Network{
		opts:      opts,
		clock:     deps.Clock,
		sched:     events.NewEventScheduler(deps.Clock),
		tracker:   tracker,
		bounds:    core.NewBoundaryCalculator(opts.Geometry, opts.Translator, tracker),
		telemetry: deps.Telemetry,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		tracer:    otel.Tracer(tracerName),
		nodes:     make(map[model.Address]*routing.Node),
		order:     opts.Geometry.Addresses(),
		links:     make(map[model.Address]*linkCursor),
	}
	n.clock.AddListener(func(time.Time) { n.metrics.SetSimElapsed(n.clock.Elapsed()) })

	for _, addr := range n.order {
		table, err := core.NewNeighborTable(opts.Geometry, addr, opts.CrossGroupLinksUp)
		if err != nil {
			return nil, err
		}
		node, err := routing.NewNode(opts.Routing, routing.Deps{
			Table:      table,
			Translator: opts.Translator,
			Clock:      n.clock,
			Activity:   tracker,
			Boundaries: n.bounds,
			Transport:  n,
			Telemetry:  n.telemetry,
			Logger:     n.log,
		})
		if err != nil {
			return nil, err
		}
		n.nodes[addr] = node
	}

	n.scheduleWindows(sch.Windows)
	for _, addr := range n.order {
		if evs := sch.Connectivity[addr]; len(evs) > 0 {
			c := newLinkCursor(n, n.sched, n.nodes[addr], evs)
			n.links[addr] = c
			c.start()
		}
	}
	for _, addr := range n.order {
		if units := sch.Traffic[addr]; len(units) > 0 {
			n.scheduleTraffic(n.nodes[addr], slices.Clone(units))
		}
	}
	return n, nil
}

func checkAddresses(geo core.TorusGeometry, sch *schedule.Schedule) error {
	check := func(kind string, addr model.Address) error {
		if !geo.Contains(addr) {
			return fmt.Errorf("%w: %s for %d outside %dx%d torus", core.ErrMalformedSchedule, kind, addr, geo.Groups, geo.PositionsPerGroup)
		}
		return nil
	}
	var errs []error
	for addr := range sch.Windows {
		errs = append(errs, check("active window", addr))
	}
	for addr := range sch.Traffic {
		errs = append(errs, check("traffic", addr))
	}
	for addr, evs := range sch.Connectivity {
		errs = append(errs, check("connectivity", addr))
		for _, ev := range evs {
			errs = append(errs, check("connectivity peer", ev.Peer))
		}
	}
	return errors.Join(errs...)
}

// Send queues delivery of pkt to peer after the hop latency. The receiving
// node learns the arrival direction from the link itself, which keeps East
// and West apart on two-group tori where both point at the same peer.
func (n *Network) Send(ctx context.Context, from model.Address, via model.Direction, to model.Address, pkt model.Packet) {
	node, ok := n.nodes[to]
	if !ok {
		n.log.Warn(ctx, "dropping packet for unknown node",
			logging.Int("from", int(from)),
			logging.Int("to", int(to)),
		)
		return
	}
	arrival := via.Opposite()
	n.sched.Schedule(n.clock.Now().Add(n.opts.HopLatency), func() {
		err := node.HandlePacket(ctx, pkt, arrival)
		if err != nil && !errors.Is(err, routing.ErrTTLExpired) {
			n.log.Debug(ctx, "packet rejected", logging.String("error", err.Error()))
		}
	})
}

// Run fires events until the queue drains, until is reached (when non-zero),
// ctx is cancelled or an origination fails. Node totals are reported on the
// way out. The first fatal error is returned.
func (n *Network) Run(ctx context.Context, until time.Time) (err error) {
	ctx, span := n.tracer.Start(ctx, "sim.Run",
		trace.WithAttributes(
			attribute.Int("groups", n.opts.Geometry.Groups),
			attribute.Int("positions_per_group", n.opts.Geometry.PositionsPerGroup),
			attribute.Int("events_pending", n.sched.Pending()),
		),
	)
	defer span.End()
	n.runCtx = ctx

	started := time.Now()
	defer func() {
		n.metrics.ObserveRun(time.Since(started))
		for _, addr := range n.order {
			n.nodes[addr].Finish(ctx)
		}
		span.SetAttributes(attribute.Int64("events_fired", int64(n.sched.Fired())))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	n.log.Info(ctx, "run started",
		logging.Int("nodes", len(n.order)),
		logging.Int("events", n.sched.Pending()),
		logging.String("start", n.clock.Now().Format(time.RFC3339Nano)),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		limit, ok := n.sched.NextAt()
		if !ok || (!until.IsZero() && limit.After(until)) {
			break
		}
		n.sched.Step(limit)
		n.metrics.EventProcessed(n.sched.Pending())
		if n.fatal != nil {
			return n.fatal
		}
	}
	if !until.IsZero() {
		n.clock.AdvanceTo(until)
	}

	n.log.Info(ctx, "run finished",
		logging.Any("fired", n.sched.Fired()),
		logging.Int("pending", n.sched.Pending()),
		logging.String("end", n.clock.Now().Format(time.RFC3339Nano)),
		logging.String("elapsed", n.clock.Elapsed().String()),
	)
	return nil
}

// context returns the context of the current run for event callbacks.
func (n *Network) context() context.Context {
	if n.runCtx == nil {
		return context.Background()
	}
	return n.runCtx
}

func (n *Network) fail(ctx context.Context, err error) {
	if n.fatal != nil {
		return
	}
	n.fatal = err
	n.log.Error(ctx, "run aborted", logging.String("error", err.Error()))
}

// Node returns the node at addr.
func (n *Network) Node(addr model.Address) (*routing.Node, bool) {
	node, ok := n.nodes[addr]
	return node, ok
}

// Addresses lists every node, group by group.
func (n *Network) Addresses() []model.Address { return slices.Clone(n.order) }

func (n *Network) Tracker() *core.ActivityTracker       { return n.tracker }
func (n *Network) Boundaries() *core.BoundaryCalculator { return n.bounds }
func (n *Network) Scheduler() events.Driver             { return n.sched }
func (n *Network) Now() time.Time                       { return n.clock.Now() }
