package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/leo-swarm-router/internal/config"
	"github.com/signalsfoundry/leo-swarm-router/internal/logging"
	"github.com/signalsfoundry/leo-swarm-router/internal/observability"
	"github.com/signalsfoundry/leo-swarm-router/internal/outlog"
	"github.com/signalsfoundry/leo-swarm-router/internal/routing"
	"github.com/signalsfoundry/leo-swarm-router/internal/schedule"
	"github.com/signalsfoundry/leo-swarm-router/internal/sim"
	"github.com/signalsfoundry/leo-swarm-router/timectrl"
)

type runFlags struct {
	ttl         int
	preference  string
	outputDir   string
	metricsAddr string
	duration    time.Duration
	realtime    bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario",
		Long:  `Loads the scenario, replays its feeds and writes recv<addr>.csv and sent<addr>.csv for every active node.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid scenario: %w", err)
			}

			log, closeLog, err := g.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, log := logging.WithRunLogger(cmd.Context(), log)
			tcfg := observability.TracingConfigFromEnv()
			tcfg.Attributes = []attribute.KeyValue{
				attribute.Int("swarm.groups", cfg.Topology.Groups),
				attribute.Int("swarm.positions_per_group", cfg.Topology.PositionsPerGroup),
				attribute.String("swarm.preference", cfg.Routing.Preference),
			}
			shutdown, err := observability.InitTracing(ctx, tcfg, log)
			if err != nil {
				return err
			}
			defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

			return runScenario(ctx, cfg, log, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&f.ttl, "ttl", 0, "packet TTL (overrides routing.ttl)")
	cmd.Flags().StringVar(&f.preference, "preference", "", "westward or eastward (overrides routing.preference)")
	cmd.Flags().StringVarP(&f.outputDir, "output", "o", "", "output directory (overrides output.dir)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address during the run")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "stop after this much simulated time (overrides run.duration)")
	cmd.Flags().BoolVar(&f.realtime, "realtime", false, "pace the run against the wall clock")
	return cmd
}

// apply copies explicitly set flags over the file values.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("ttl") {
		cfg.Routing.TTL = f.ttl
	}
	if flags.Changed("preference") {
		cfg.Routing.Preference = f.preference
	}
	if flags.Changed("output") {
		cfg.Output.Dir = f.outputDir
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if flags.Changed("duration") {
		cfg.Run.Duration = config.Duration(f.duration)
	}
	if flags.Changed("realtime") && f.realtime {
		cfg.Run.Mode = timectrl.RealTime.String()
	}
}

func runScenario(ctx context.Context, cfg config.Config, log logging.Logger, stdout io.Writer) error {
	sch, err := schedule.Load(cfg.ScheduleFeeds(), cfg.Run.Epoch)
	if err != nil {
		return err
	}
	rc, err := cfg.RoutingConfig()
	if err != nil {
		return err
	}
	mode, err := cfg.ClockMode()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	routingMetrics, err := observability.NewRoutingCollector(reg)
	if err != nil {
		return err
	}
	simMetrics, err := observability.NewSimCollector(reg)
	if err != nil {
		return err
	}

	out, err := outlog.NewWriter(cfg.Output.Dir, cfg.Run.Epoch, log)
	if err != nil {
		return err
	}

	clock := timectrl.NewTimeController(cfg.Run.Epoch, mode)
	clock.Speed = cfg.Run.Speed

	network, err := sim.New(sim.Options{
		Geometry:          cfg.Geometry(),
		Translator:        cfg.Translator(),
		CrossGroupLinksUp: cfg.Topology.CrossGroupLinksUp,
		Routing:           rc,
		HopLatency:        cfg.Run.HopLatency.Std(),
	}, sch, sim.Deps{
		Clock:     clock,
		Telemetry: routing.MultiTelemetry{routingMetrics, out},
		Metrics:   simMetrics,
		Logger:    log,
	})
	if err != nil {
		return errors.Join(err, out.Close())
	}

	var until time.Time
	if d := cfg.Run.Duration.Std(); d > 0 {
		until = cfg.Run.Epoch.Add(d)
	}

	grp, gctx := errgroup.WithContext(ctx)
	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(routingMetrics)}
		grp.Go(func() error {
			log.Info(gctx, "serving Prometheus metrics", logging.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	grp.Go(func() error {
		runErr := network.Run(gctx, until)
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}
		return runErr
	})

	err = grp.Wait()
	if closeErr := out.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if err != nil {
		return err
	}
	return printTotals(stdout, network)
}

func metricsMux(c *observability.RoutingCollector) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return mux
}

// printTotals lists sent/received counts of every node that took part.
func printTotals(w io.Writer, n *sim.Network) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tSENT\tRECEIVED")
	for _, addr := range n.Addresses() {
		node, _ := n.Node(addr)
		sent, received := node.Counts()
		if sent == 0 && received == 0 {
			continue
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\n", addr, sent, received)
	}
	return tw.Flush()
}
