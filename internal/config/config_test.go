package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/leo-swarm-router/core"
	"github.com/signalsfoundry/leo-swarm-router/model"
	"github.com/signalsfoundry/leo-swarm-router/timectrl"
)

const scenario = `
topology:
  groups: 3
  positions_per_group: 6
  cross_group_links_up: true
routing:
  preference: Eastward
  ttl: 9
  max_packet_size: 64
  seen_retention: 10m
feeds:
  traffic: feeds/traffic.csv
  connectivity: /abs/connections.csv
  active_windows: feeds/windows.csv
run:
  epoch: 2025-03-01T00:00:00Z
  duration: 90s
  hop_latency: 5ms
  mode: realtime
  speed: 4
output:
  dir: out
metrics:
  addr: ":9464"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"SWARM_TTL", "SWARM_PREFERENCE", "SWARM_OUTPUT_DIR", "SWARM_METRICS_ADDR"} {
		t.Setenv(k, "")
	}
}

func TestLoadScenario(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, scenario)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, 3, cfg.Topology.Groups)
	require.Equal(t, 97, cfg.Topology.FoldStride, "unset fields keep defaults")
	require.Equal(t, 90*time.Second, cfg.Run.Duration.Std())
	require.Equal(t, 5*time.Millisecond, cfg.Run.HopLatency.Std())
	require.Equal(t, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), cfg.Run.Epoch.UTC())
	require.Equal(t, filepath.Join(filepath.Dir(path), "feeds", "traffic.csv"), cfg.Feeds.Traffic)
	require.Equal(t, "/abs/connections.csv", cfg.Feeds.Connectivity)

	rc, err := cfg.RoutingConfig()
	require.NoError(t, err)
	require.Equal(t, model.PreferenceEastward, rc.Preference)
	require.Equal(t, 9, rc.TTL)
	require.Equal(t, 64, rc.MaxPacketSize)
	require.Equal(t, 10*time.Minute, rc.SeenRetention)

	mode, err := cfg.ClockMode()
	require.NoError(t, err)
	require.Equal(t, timectrl.RealTime, mode)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "routing:\n  tll: 3\n"))
	require.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "run:\n  duration: forever\n"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SWARM_TTL", "12")
	t.Setenv("SWARM_PREFERENCE", "west")
	t.Setenv("SWARM_OUTPUT_DIR", "/tmp/swarm")
	t.Setenv("SWARM_METRICS_ADDR", ":1")

	cfg, err := Load(writeConfig(t, scenario))
	require.NoError(t, err)
	require.Equal(t, 12, cfg.Routing.TTL)
	require.Equal(t, "west", cfg.Routing.Preference)
	require.Equal(t, "/tmp/swarm", cfg.Output.Dir)
	require.Equal(t, ":1", cfg.Metrics.Addr)
}

func TestEnvOverrideRejectsBadTTL(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "SWARM_TTL" {
			return "many", true
		}
		return "", false
	})
	require.Error(t, err)
}

func TestValidateJoinsProblems(t *testing.T) {
	cfg := Default()
	cfg.Topology.Groups = 1
	cfg.Routing.TTL = 0
	cfg.Routing.Preference = "north"
	cfg.Run.Mode = "warp"
	cfg.Routing.SeenRetention = Duration(-time.Second)

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"at least 2 groups", "ttl", "north", "warp", "seen_retention", "feeds.traffic"} {
		require.ErrorContains(t, err, want)
	}
}

func TestValidateRejectsGeometryThatFoldsOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Feeds.Traffic = "t.csv"
	cfg.Feeds.ActiveWindows = "w.csv"
	cfg.Topology.Groups = 9
	cfg.Topology.PositionsPerGroup = 76

	err := cfg.Validate()
	require.ErrorIs(t, err, core.ErrTopologyBadInput)
	require.ErrorContains(t, err, "address 976")
}

func TestDefaultsNeedOnlyFeeds(t *testing.T) {
	cfg := Default()
	cfg.Feeds.Traffic = "t.csv"
	cfg.Feeds.ActiveWindows = "w.csv"
	require.NoError(t, cfg.Validate())
}

func TestDurationMarshalRoundTrip(t *testing.T) {
	v, err := Duration(1500 * time.Millisecond).MarshalYAML()
	require.NoError(t, err)
	require.Equal(t, "1.5s", v)
}
