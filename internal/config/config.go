// Package config loads the YAML scenario file of a swarm run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/leo-swarm-router/core"
	"github.com/signalsfoundry/leo-swarm-router/internal/routing"
	"github.com/signalsfoundry/leo-swarm-router/internal/schedule"
	"github.com/signalsfoundry/leo-swarm-router/model"
	"github.com/signalsfoundry/leo-swarm-router/timectrl"
)

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type Topology struct {
	Groups            int  `yaml:"groups"`
	PositionsPerGroup int  `yaml:"positions_per_group"`
	CrossGroupLinksUp bool `yaml:"cross_group_links_up"`
	FoldThreshold     int  `yaml:"fold_threshold"`
	FoldStride        int  `yaml:"fold_stride"`
}

type Routing struct {
	Preference    string `yaml:"preference"`
	TTL           int    `yaml:"ttl"`
	MaxPacketSize int    `yaml:"max_packet_size"`
	// SeenRetention expires duplicate-detection keys; zero never expires.
	SeenRetention Duration `yaml:"seen_retention"`
}

type Feeds struct {
	Traffic       string `yaml:"traffic"`
	Connectivity  string `yaml:"connectivity"`
	ActiveWindows string `yaml:"active_windows"`
}

type Run struct {
	// Epoch is the wall time of scenario offset 0.
	Epoch time.Time `yaml:"epoch"`
	// Duration bounds the run; zero runs until the queue drains.
	Duration   Duration `yaml:"duration"`
	HopLatency Duration `yaml:"hop_latency"`
	Mode       string   `yaml:"mode"`
	Speed      float64  `yaml:"speed"`
}

type Output struct {
	Dir string `yaml:"dir"`
}

type Metrics struct {
	Addr string `yaml:"addr"`
}

// Config is a complete scenario.
type Config struct {
	Topology Topology `yaml:"topology"`
	Routing  Routing  `yaml:"routing"`
	Feeds    Feeds    `yaml:"feeds"`
	Run      Run      `yaml:"run"`
	Output   Output   `yaml:"output"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Default returns the settings used for anything the file leaves out.
func Default() Config {
	return Config{
		Topology: Topology{
			Groups:            2,
			PositionsPerGroup: 4,
			FoldThreshold:     core.DefaultFoldThreshold,
			FoldStride:        core.DefaultFoldStride,
		},
		Routing: Routing{
			Preference:    model.PreferenceWestward.String(),
			TTL:           5,
			MaxPacketSize: 100,
		},
		Run: Run{
			Epoch:      time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC),
			HopLatency: Duration(10 * time.Millisecond),
			Mode:       timectrl.Accelerated.String(),
			Speed:      1,
		},
		Output: Output{Dir: "results"},
	}
}

// Load reads path over the defaults, resolves feed paths relative to the
// file's directory and applies environment overrides. The result is not
// validated.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	base := filepath.Dir(path)
	cfg.Feeds.Traffic = resolve(base, cfg.Feeds.Traffic)
	cfg.Feeds.Connectivity = resolve(base, cfg.Feeds.Connectivity)
	cfg.Feeds.ActiveWindows = resolve(base, cfg.Feeds.ActiveWindows)

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// ApplyEnv overrides settings from SWARM_TTL, SWARM_PREFERENCE,
// SWARM_OUTPUT_DIR and SWARM_METRICS_ADDR.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SWARM_TTL"); ok && v != "" {
		ttl, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SWARM_TTL: %w", err)
		}
		c.Routing.TTL = ttl
	}
	if v, ok := lookup("SWARM_PREFERENCE"); ok && v != "" {
		c.Routing.Preference = v
	}
	if v, ok := lookup("SWARM_OUTPUT_DIR"); ok && v != "" {
		c.Output.Dir = v
	}
	if v, ok := lookup("SWARM_METRICS_ADDR"); ok && v != "" {
		c.Metrics.Addr = v
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	if err := c.Geometry().Validate(); err != nil {
		errs = append(errs, err)
		if c.Topology.PositionsPerGroup > 0 {
			if err := c.Translator().Validate(); err != nil {
				errs = append(errs, err)
			}
		}
	} else if err := c.Translator().CheckGeometry(c.Geometry()); err != nil {
		errs = append(errs, err)
	}
	if _, err := model.ParsePreference(c.Routing.Preference); err != nil {
		errs = append(errs, err)
	}
	if c.Routing.TTL <= 0 {
		errs = append(errs, fmt.Errorf("routing.ttl must be positive, got %d", c.Routing.TTL))
	}
	if c.Routing.MaxPacketSize <= 0 {
		errs = append(errs, fmt.Errorf("routing.max_packet_size must be positive, got %d", c.Routing.MaxPacketSize))
	}
	if c.Routing.SeenRetention < 0 {
		errs = append(errs, errors.New("routing.seen_retention must not be negative"))
	}
	if c.Feeds.Traffic == "" {
		errs = append(errs, errors.New("feeds.traffic is required"))
	}
	if c.Feeds.ActiveWindows == "" {
		errs = append(errs, errors.New("feeds.active_windows is required"))
	}
	if c.Run.Duration < 0 {
		errs = append(errs, errors.New("run.duration must not be negative"))
	}
	if c.Run.HopLatency < 0 {
		errs = append(errs, errors.New("run.hop_latency must not be negative"))
	}
	if _, err := c.ClockMode(); err != nil {
		errs = append(errs, err)
	}
	if c.Run.Speed <= 0 {
		errs = append(errs, fmt.Errorf("run.speed must be positive, got %v", c.Run.Speed))
	}
	if c.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir is required"))
	}
	return errors.Join(errs...)
}

func (c Config) Geometry() core.TorusGeometry {
	return core.TorusGeometry{Groups: c.Topology.Groups, PositionsPerGroup: c.Topology.PositionsPerGroup}
}

func (c Config) Translator() core.Translator {
	return core.Translator{
		PositionsPerGroup: c.Topology.PositionsPerGroup,
		FoldThreshold:     c.Topology.FoldThreshold,
		FoldStride:        c.Topology.FoldStride,
	}
}

// RoutingConfig converts the routing section for the node engine.
func (c Config) RoutingConfig() (routing.Config, error) {
	pref, err := model.ParsePreference(c.Routing.Preference)
	if err != nil {
		return routing.Config{}, err
	}
	return routing.Config{
		Preference:    pref,
		TTL:           c.Routing.TTL,
		MaxPacketSize: c.Routing.MaxPacketSize,
		SeenRetention: c.Routing.SeenRetention.Std(),
	}, nil
}

func (c Config) ScheduleFeeds() schedule.Feeds {
	return schedule.Feeds{
		Traffic:       c.Feeds.Traffic,
		Connectivity:  c.Feeds.Connectivity,
		ActiveWindows: c.Feeds.ActiveWindows,
	}
}

func (c Config) ClockMode() (timectrl.Mode, error) {
	switch strings.ToLower(c.Run.Mode) {
	case "", "accelerated":
		return timectrl.Accelerated, nil
	case "realtime", "real-time", "real_time":
		return timectrl.RealTime, nil
	default:
		return 0, fmt.Errorf("run.mode: unknown mode %q", c.Run.Mode)
	}
}
