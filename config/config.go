// Package config provides configuration loading for the statistics pipeline.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all configuration parameters.
type Config struct {
	Statistics StatisticsConfig `yaml:"statistics"`
	Autosave   AutosaveConfig   `yaml:"autosave"`
	Sim        SimConfig        `yaml:"sim"`
	Output     OutputConfig     `yaml:"output"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// StatisticsConfig holds sampling and live-window parameters.
type StatisticsConfig struct {
	TimestepsPerUpdate int      `yaml:"timesteps_per_update"` // Sample counters every N timesteps
	LiveHistory        float64  `yaml:"live_history"`         // Live window length in seconds (max 240)
	SummaryMetrics     []string `yaml:"summary_metrics"`      // Metrics summarized when logging stats
}

// AutosaveConfig holds savepoint parameters.
type AutosaveConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Interval      int     `yaml:"interval"`        // Minutes between savepoints
	Mode          string  `yaml:"mode"`            // "circular" or "unlimited"
	NumberOfFiles int     `yaml:"number_of_files"` // Savepoints kept in circular mode
	Directory     string  `yaml:"directory"`
	CatchPeaks    string  `yaml:"catch_peaks"`     // Metric to maximize, or "none"
	PeakInterval  float64 `yaml:"peak_interval"`   // Seconds between peak samples
}

// SimConfig holds parameters of the built-in counter producer.
type SimConfig struct {
	InitialCells     int     `yaml:"initial_cells"`
	InitialParticles int     `yaml:"initial_particles"`
	NumColors        int     `yaml:"num_colors"`
	CellEnergy       float64 `yaml:"cell_energy"`
	DecayRate        float64 `yaml:"decay_rate"`       // Energy lost per cell per timestep
	ReplicationCost  float64 `yaml:"replication_cost"` // Energy needed to replicate
	ActivityChance   float64 `yaml:"activity_chance"`  // Chance per cell per timestep to fire its function
	ExternalInflow   float64 `yaml:"external_inflow"`  // External energy added per timestep
	MaxCells         int     `yaml:"max_cells"`
}

// OutputConfig holds export destinations.
type OutputConfig struct {
	Dir        string `yaml:"dir"`         // Directory for CSV logs (empty = disabled)
	SQLitePath string `yaml:"sqlite_path"` // History database (empty = disabled)
}

// TelemetryConfig holds logging/perf parameters.
type TelemetryConfig struct {
	LogInterval         int `yaml:"log_interval"` // Log a summary every N samples
	PerfCollectorWindow int `yaml:"perf_collector_window"`
	PersistWorkers      int `yaml:"persist_workers"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	AutosaveInterval time.Duration
	PeakInterval     time.Duration
	CatchPeaks       bool
	Circular         bool
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// MustLoad is like Load but panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("config: failed to load: %v", err))
	}
	return cfg
}

func (c *Config) validate() error {
	switch c.Autosave.Mode {
	case "circular", "unlimited":
	default:
		return fmt.Errorf("autosave.mode: unknown mode %q", c.Autosave.Mode)
	}
	if c.Sim.NumColors < 1 || c.Sim.NumColors > 7 {
		return fmt.Errorf("sim.num_colors: %d out of range [1,7]", c.Sim.NumColors)
	}
	return nil
}

// computeDerived calculates values derived from loaded config and clamps
// values that have a lower bound.
func (c *Config) computeDerived() {
	if c.Statistics.TimestepsPerUpdate < 1 {
		c.Statistics.TimestepsPerUpdate = 1
	}
	if c.Autosave.Interval < 1 {
		c.Autosave.Interval = 1
	}
	if c.Autosave.NumberOfFiles < 1 {
		c.Autosave.NumberOfFiles = 1
	}
	if c.Telemetry.PersistWorkers < 1 {
		c.Telemetry.PersistWorkers = 1
	}

	c.Derived.AutosaveInterval = time.Duration(c.Autosave.Interval) * time.Minute
	c.Derived.PeakInterval = time.Duration(c.Autosave.PeakInterval * float64(time.Second))
	c.Derived.CatchPeaks = c.Autosave.CatchPeaks != "" && c.Autosave.CatchPeaks != "none"
	c.Derived.Circular = c.Autosave.Mode == "circular"
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
