package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/signalsfoundry/leo-swarm-router/core"
	"github.com/signalsfoundry/leo-swarm-router/internal/observability"
	"github.com/signalsfoundry/leo-swarm-router/internal/routing"
	"github.com/signalsfoundry/leo-swarm-router/internal/schedule"
	"github.com/signalsfoundry/leo-swarm-router/model"
	"github.com/signalsfoundry/leo-swarm-router/timectrl"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return epoch.Add(time.Duration(sec * float64(time.Second)))
}

type pair struct{ node, source model.Address }

type recordingTelemetry struct {
	routing.NopTelemetry
	deliveries []routing.Delivery
	dropped    map[routing.DropReason]int
}

func newRecordingTelemetry() *recordingTelemetry {
	return &recordingTelemetry{dropped: make(map[routing.DropReason]int)}
}

func (r *recordingTelemetry) Delivered(_ context.Context, d routing.Delivery) {
	r.deliveries = append(r.deliveries, d)
}

func (r *recordingTelemetry) Dropped(reason routing.DropReason) { r.dropped[reason]++ }

func (r *recordingTelemetry) counts() map[pair]int {
	out := make(map[pair]int)
	for _, d := range r.deliveries {
		out[pair{d.Node, d.Source}]++
	}
	return out
}

func options(ttl int, crossGroupUp bool) Options {
	return Options{
		Geometry:          core.TorusGeometry{Groups: 2, PositionsPerGroup: 4},
		Translator:        core.NewTranslator(4),
		CrossGroupLinksUp: crossGroupUp,
		Routing:           routing.Config{Preference: model.PreferenceWestward, TTL: ttl, MaxPacketSize: 100},
		HopLatency:        10 * time.Millisecond,
	}
}

// twoActive puts one north-bound active node in each group, both sending a
// single packet at t=1s.
func twoActive() *schedule.Schedule {
	return &schedule.Schedule{
		Traffic: map[model.Address][]model.TrafficUnit{
			104: {{At: at(1), MovingNorth: true, Amount: 10}},
			202: {{At: at(1), MovingNorth: true, Amount: 10}},
		},
		Headings: []model.HeadingRecord{
			{Address: 104, At: at(0), MovingNorth: true},
			{Address: 202, At: at(0), MovingNorth: true},
		},
		Connectivity: map[model.Address][]model.ConnectivityEvent{},
		Windows: map[model.Address]model.ActiveWindow{
			104: {Start: at(0), End: at(60)},
			202: {Start: at(0), End: at(60)},
		},
	}
}

func newNetwork(t *testing.T, opts Options, sch *schedule.Schedule, tel routing.Telemetry) *Network {
	t.Helper()
	n, err := New(opts, sch, Deps{
		Clock:     timectrl.NewTimeController(epoch, timectrl.Accelerated),
		Telemetry: tel,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func TestEachActiveNodeReceivesTheOtherOnce(t *testing.T) {
	tel := newRecordingTelemetry()
	n := newNetwork(t, options(5, true), twoActive(), tel)

	if err := n.Run(context.Background(), time.Time{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := map[pair]int{{104, 202}: 1, {202, 104}: 1}
	if diff := cmp.Diff(want, tel.counts()); diff != "" {
		t.Fatalf("deliveries mismatch (-want +got):\n%s", diff)
	}
	for _, d := range tel.deliveries {
		if d.HopCount > 5 {
			t.Fatalf("delivery %+v exceeded TTL 5 hops", d)
		}
		if d.Latency() <= 0 {
			t.Fatalf("delivery %+v has non-positive latency", d)
		}
	}

	for _, addr := range []model.Address{104, 202} {
		node, _ := n.Node(addr)
		sent, received := node.Counts()
		if sent != 1 || received != 1 {
			t.Fatalf("node %d sent/received = %d/%d, want 1/1", addr, sent, received)
		}
	}
	if n.Scheduler().Pending() != 0 {
		t.Fatalf("pending events after drain = %d", n.Scheduler().Pending())
	}
}

func TestDeliveryDetoursAroundDeadLinkAtJ(t *testing.T) {
	// Cross-group links start dead; the schedule brings up every pair except
	// 102-202, the link the j proxy would normally use.
	sch := twoActive()
	for _, pos := range []int{1, 3, 4} {
		a, b := model.MakeAddress(1, pos), model.MakeAddress(2, pos)
		sch.Connectivity[a] = []model.ConnectivityEvent{{Connect: at(0), Disconnect: at(60), Peer: b}}
		sch.Connectivity[b] = []model.ConnectivityEvent{{Connect: at(0), Disconnect: at(60), Peer: a}}
	}

	tel := newRecordingTelemetry()
	n := newNetwork(t, options(5, false), sch, tel)
	if err := n.Run(context.Background(), time.Time{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := map[pair]int{{104, 202}: 1, {202, 104}: 1}
	if diff := cmp.Diff(want, tel.counts()); diff != "" {
		t.Fatalf("deliveries mismatch (-want +got):\n%s", diff)
	}

	j, _ := n.Node(102)
	if !j.Table().IsDirectionFailed(model.East) {
		t.Fatalf("102 east link should have stayed down")
	}
}

func TestShortTTLDropsEverything(t *testing.T) {
	tel := newRecordingTelemetry()
	n := newNetwork(t, options(2, true), twoActive(), tel)

	if err := n.Run(context.Background(), time.Time{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tel.deliveries) != 0 {
		t.Fatalf("deliveries = %+v, want none", tel.deliveries)
	}
	if tel.dropped[routing.DropTTLExpired] == 0 {
		t.Fatalf("expected ttl_expired drops")
	}
}

func TestLinkAliveBetweenConnectAndDisconnect(t *testing.T) {
	sch := &schedule.Schedule{
		Connectivity: map[model.Address][]model.ConnectivityEvent{
			101: {
				{Connect: at(10), Disconnect: at(20), Peer: 201},
				{Connect: at(30), Disconnect: at(40), Peer: 201, Ascending: true},
			},
		},
		Windows: map[model.Address]model.ActiveWindow{101: {Start: at(0), End: at(50)}},
	}
	n := newNetwork(t, options(5, false), sch, nil)
	node, _ := n.Node(101)

	// The second connect is queued while the first fires, so samples at exactly
	// 30s would run ahead of it; sample strictly inside the intervals instead.
	samples := []float64{5, 10, 15, 20, 25, 35, 45}
	var got []bool
	for _, p := range samples {
		n.Scheduler().Schedule(at(p), func() {
			got = append(got, !node.Table().IsDirectionFailed(model.East))
		})
	}

	if err := n.Run(context.Background(), time.Time{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []bool{false, true, true, false, false, true, false}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("link state mismatch (-want +got):\n%s", diff)
	}
	if !node.Ascending() {
		t.Fatalf("ascending flag of the last connect not recorded")
	}
}

func TestRolesFollowWindows(t *testing.T) {
	n := newNetwork(t, options(5, true), twoActive(), nil)
	node, _ := n.Node(104)

	var during model.Role
	n.Scheduler().Schedule(at(30), func() { during = node.Role() })

	if err := n.Run(context.Background(), at(90)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if during != model.RoleActive {
		t.Fatalf("role inside window = %v, want active", during)
	}
	if node.Role() != model.RoleProxy {
		t.Fatalf("role after window = %v, want proxy", node.Role())
	}
	if !n.Now().Equal(at(90)) {
		t.Fatalf("clock = %v, want %v", n.Now(), at(90))
	}
}

func TestRunStopsAtUntil(t *testing.T) {
	tel := newRecordingTelemetry()
	n := newNetwork(t, options(5, true), twoActive(), tel)

	if err := n.Run(context.Background(), at(0.5)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tel.deliveries) != 0 {
		t.Fatalf("traffic at 1s ran before until")
	}
	if n.Scheduler().Pending() == 0 {
		t.Fatalf("later events should still be pending")
	}
}

func TestRunPublishesSimulationMetrics(t *testing.T) {
	metrics, err := observability.NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	n, err := New(options(5, true), twoActive(), Deps{
		Clock:   timectrl.NewTimeController(epoch, timectrl.Accelerated),
		Metrics: metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := n.Run(context.Background(), at(90)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := testutil.ToFloat64(metrics.SimElapsed); got != 90 {
		t.Fatalf("sim elapsed = %v, want 90", got)
	}
	if got := testutil.ToFloat64(metrics.ActiveNodes); got != 0 {
		t.Fatalf("active nodes after windows closed = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.EventsProcessed); got == 0 {
		t.Fatalf("no events counted")
	}
}

func TestBoundaryFailureAbortsRun(t *testing.T) {
	sch := twoActive()
	delete(sch.Windows, 202)

	n := newNetwork(t, options(5, true), sch, nil)
	err := n.Run(context.Background(), time.Time{})
	if !errors.Is(err, core.ErrInsufficientBoundaryInput) {
		t.Fatalf("Run error = %v, want ErrInsufficientBoundaryInput", err)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	n := newNetwork(t, options(5, true), twoActive(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := n.Run(ctx, time.Time{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}

func TestNewRejectsBadSchedules(t *testing.T) {
	t.Run("no active window", func(t *testing.T) {
		sch := twoActive()
		sch.Windows = nil
		_, err := New(options(5, true), sch, Deps{})
		if !errors.Is(err, core.ErrMalformedSchedule) {
			t.Fatalf("New error = %v, want ErrMalformedSchedule", err)
		}
	})

	t.Run("address outside torus", func(t *testing.T) {
		sch := twoActive()
		sch.Traffic[305] = []model.TrafficUnit{{At: at(1), Amount: 1}}
		_, err := New(options(5, true), sch, Deps{})
		if !errors.Is(err, core.ErrMalformedSchedule) {
			t.Fatalf("New error = %v, want ErrMalformedSchedule", err)
		}
	})

	t.Run("bad geometry", func(t *testing.T) {
		opts := options(5, true)
		opts.Geometry.Groups = 1
		if _, err := New(opts, twoActive(), Deps{}); !errors.Is(err, core.ErrTopologyBadInput) {
			t.Fatalf("New error = %v, want ErrTopologyBadInput", err)
		}
	})
}
