package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/leo-swarm-router/core"
	"github.com/signalsfoundry/leo-swarm-router/internal/schedule"
	"github.com/signalsfoundry/leo-swarm-router/model"
)

func newBoundariesCmd(g *globalFlags) *cobra.Command {
	var at time.Duration
	cmd := &cobra.Command{
		Use:   "boundaries",
		Short: "Print the convergence boundaries at a point of the scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid scenario: %w", err)
			}
			pref, err := model.ParsePreference(cfg.Routing.Preference)
			if err != nil {
				return err
			}

			sch, err := schedule.Load(cfg.ScheduleFeeds(), cfg.Run.Epoch)
			if err != nil {
				return err
			}
			tracker := core.NewActivityTracker()
			if err := sch.Apply(tracker); err != nil {
				return err
			}

			when := cfg.Run.Epoch.Add(at)
			calc := core.NewBoundaryCalculator(cfg.Geometry(), cfg.Translator(), tracker)
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "time:   %s\n", at)
			fmt.Fprintf(out, "active: %v\n", tracker.ActiveAt(when))
			b, err := calc.Snapshot(when, pref)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "b1=%d b2=%d v=%d u=%d j=%d (%s)\n", b.B1, b.B2, b.V, b.U, b.J, pref)
			return nil
		},
	}
	cmd.Flags().DurationVar(&at, "at", 0, "offset from the scenario epoch")
	return cmd
}
