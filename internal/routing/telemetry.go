package routing

import (
	"context"
	"time"

	"github.com/signalsfoundry/leo-swarm-router/model"
)

// DropReason labels why a packet copy went no further.
type DropReason string

const (
	DropTTLExpired      DropReason = "ttl_expired"
	DropDeadLink        DropReason = "dead_link"
	DropUnknownNeighbor DropReason = "unknown_neighbor"
)

// Delivery describes the first arrival of a packet at an active node.
type Delivery struct {
	Node      model.Address
	Source    model.Address
	CreatedAt time.Time
	At        time.Time
	Sequence  int
	HopCount  int
	Size      int
}

// Latency is the end-to-end delay of the delivery.
func (d Delivery) Latency() time.Duration { return d.At.Sub(d.CreatedAt) }

// Origination describes one traffic unit turned into packets.
type Origination struct {
	Node    model.Address
	At      time.Time
	Packets int
	Bytes   int
	// Active lists the nodes active when the traffic was generated.
	Active []model.Address
}

// Telemetry receives the routing engine's statistics. Implementations must
// not block; they are called from inside event handling.
type Telemetry interface {
	Delivered(ctx context.Context, d Delivery)
	Duplicate(ctx context.Context, node model.Address, key model.DedupKey)
	Originated(ctx context.Context, o Origination)
	Forwarded(dir model.Direction)
	Dropped(reason DropReason)
	NodeTotals(ctx context.Context, node model.Address, sent, received int)
}

// NopTelemetry discards everything.
type NopTelemetry struct{}

func (NopTelemetry) Delivered(context.Context, Delivery)                      {}
func (NopTelemetry) Duplicate(context.Context, model.Address, model.DedupKey) {}
func (NopTelemetry) Originated(context.Context, Origination)                  {}
func (NopTelemetry) Forwarded(model.Direction)                                {}
func (NopTelemetry) Dropped(DropReason)                                       {}
func (NopTelemetry) NodeTotals(context.Context, model.Address, int, int)      {}

// MultiTelemetry fans every call out to each member in order.
type MultiTelemetry []Telemetry

func (m MultiTelemetry) Delivered(ctx context.Context, d Delivery) {
	for _, t := range m {
		t.Delivered(ctx, d)
	}
}

func (m MultiTelemetry) Duplicate(ctx context.Context, node model.Address, key model.DedupKey) {
	for _, t := range m {
		t.Duplicate(ctx, node, key)
	}
}

func (m MultiTelemetry) Originated(ctx context.Context, o Origination) {
	for _, t := range m {
		t.Originated(ctx, o)
	}
}

func (m MultiTelemetry) Forwarded(dir model.Direction) {
	for _, t := range m {
		t.Forwarded(dir)
	}
}

func (m MultiTelemetry) Dropped(reason DropReason) {
	for _, t := range m {
		t.Dropped(reason)
	}
}

func (m MultiTelemetry) NodeTotals(ctx context.Context, node model.Address, sent, received int) {
	for _, t := range m {
		t.NodeTotals(ctx, node, sent, received)
	}
}
