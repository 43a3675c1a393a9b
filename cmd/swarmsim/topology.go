package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/leo-swarm-router/core"
)

func newTopologyCmd(g *globalFlags) *cobra.Command {
	var groups, positions int
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Print ring indices and neighbors of every node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("groups") {
				cfg.Topology.Groups = groups
			}
			if cmd.Flags().Changed("positions") {
				cfg.Topology.PositionsPerGroup = positions
			}

			geo, tr := cfg.Geometry(), cfg.Translator()
			if err := geo.Validate(); err != nil {
				return err
			}
			if err := tr.CheckGeometry(geo); err != nil {
				return err
			}
			indices := tr.Mapping(geo)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ADDRESS\tINDEX\tUP\tDOWN\tEAST\tWEST")
			for _, addr := range geo.Addresses() {
				table, err := core.NewNeighborTable(geo, addr, true)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%d\t%d", addr, indices[addr])
				for _, link := range table.Links() {
					fmt.Fprintf(tw, "\t%d", link.Peer)
				}
				fmt.Fprintln(tw)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&groups, "groups", 0, "number of groups (overrides topology.groups)")
	cmd.Flags().IntVar(&positions, "positions", 0, "positions per group (overrides topology.positions_per_group)")
	return cmd
}
