package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/leo-swarm-router/internal/config"
	"github.com/signalsfoundry/leo-swarm-router/internal/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	logFile    string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "swarmsim",
		Short: "LEO swarm boundary-routing simulator",
		Long: `swarmsim replays traffic, connectivity and active-window feeds over a
torus constellation and routes every packet with the boundary algorithm.
Per-node delivery logs are written to the output directory.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "scenario YAML file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "text or json")
	root.PersistentFlags().StringVar(&g.logFile, "log-file", "", "also append logs to this file")

	root.AddCommand(newRunCmd(g), newTopologyCmd(g), newBoundariesCmd(g))
	return root
}

// loadConfig returns the scenario named by --config, or the defaults when
// no file was given.
func (g *globalFlags) loadConfig() (config.Config, error) {
	if g.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(g.configPath)
}

func (g *globalFlags) logger(out io.Writer) (logging.Logger, func() error, error) {
	return logging.New(logging.Config{
		Level:  g.logLevel,
		Format: g.logFormat,
		File:   g.logFile,
		Output: out,
	})
}
