// Package config loads and validates rngwatch's run configuration: the
// same knobs available as CLI flags can be pinned in a YAML file and
// layered with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"
)

// Config is the full run configuration for one `rngwatch watch`
// invocation.
type Config struct {
	Stream    StreamConfig    `yaml:"stream"`
	Detector  DetectorConfig  `yaml:"detector"`
	Output    OutputConfig    `yaml:"output"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StreamConfig selects and bounds the bit source.
type StreamConfig struct {
	Source      string        `yaml:"source"`       // device path, ignored when Synthetic is set
	Processes   int           `yaml:"processes"`     // number of parallel workers
	Chunk       int           `yaml:"chunk"`         // device read chunk size, bytes
	Bits        int64         `yaml:"bits"`          // per-worker bit limit, 0 = unbounded
	TimeSeconds float64       `yaml:"time_seconds"`  // per-worker time limit, 0 = unbounded
	NoLimit     bool          `yaml:"no_limit"`      // ignore Bits and TimeSeconds entirely

	Synthetic bool    `yaml:"synthetic"`
	P         float64 `yaml:"p"`    // P(bit=1) for the synthetic source
	Seed      *uint64 `yaml:"seed"` // base seed; nil draws from crypto/rand

	// LiveInterval accepts Prometheus-style duration strings in YAML
	// ("500ms", "2s"), not just nanosecond integers.
	LiveInterval  model.Duration `yaml:"live_interval"`
	StopOnAnomaly bool           `yaml:"stop_on_anomaly"`
}

// DetectorConfig parameterizes the statistical tests.
type DetectorConfig struct {
	Alpha     float64 `yaml:"alpha"`
	Beta      float64 `yaml:"beta"`
	Delta     float64 `yaml:"delta"`
	APTWindow int     `yaml:"apt_window"`

	ZTest    bool    `yaml:"ztest"`
	ZAlpha   float64 `yaml:"z_alpha"` // 0 means "use Alpha"
	ZMinBits int     `yaml:"z_min_bits"`
}

// OutputConfig controls the JSON event stream.
type OutputConfig struct {
	PerIter    bool `yaml:"per_iter"`
	IterSample int  `yaml:"iter_sample"`
	QuietJSON  bool `yaml:"quiet_json"`
}

// TelemetryConfig controls the optional Prometheus metrics endpoint.
type TelemetryConfig struct {
	MetricsListen string `yaml:"metrics_listen"` // e.g. ":9477"; empty disables the endpoint
}

// LoggingConfig controls the operational (non-event-stream) logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns rngwatch's out-of-the-box configuration,
// matching the watch command's flag defaults.
func DefaultConfig() *Config {
	return &Config{
		Stream: StreamConfig{
			Source:       "/dev/urandom",
			Processes:    runtime.NumCPU(),
			Chunk:        1 << 16,
			TimeSeconds:  30.0,
			P:            0.5,
			LiveInterval: model.Duration(500 * time.Millisecond),
		},
		Detector: DetectorConfig{
			Alpha:     1e-6,
			Beta:      1e-2,
			Delta:     1e-4,
			APTWindow: 1024,
			ZMinBits:  10000,
		},
		Output: OutputConfig{
			IterSample: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults
// when path does not exist, and applies RNGWATCH_-prefixed environment
// variable overrides on top (env wins over file, file wins over
// defaults).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "rngwatch.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets a small set of operationally critical
// environment variables win over both defaults and the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RNGWATCH_METRICS_LISTEN"); v != "" {
		cfg.Telemetry.MetricsListen = v
	}
	if v := os.Getenv("RNGWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Save writes cfg to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: writing %q: %w", path, err)
	}
	return nil
}

// Validate checks cfg for internally inconsistent or out-of-range
// values before any worker is spawned.
func (c *Config) Validate() error {
	if c.Stream.Processes < 1 {
		return fmt.Errorf("stream.processes must be at least 1")
	}
	if c.Stream.Source == "" && !c.Stream.Synthetic {
		return fmt.Errorf("stream.source is required unless stream.synthetic is set")
	}
	if c.Stream.Synthetic && (c.Stream.P < 0 || c.Stream.P > 1) {
		return fmt.Errorf("stream.p must be in [0,1], got %v", c.Stream.P)
	}
	if !c.Stream.Synthetic {
		if _, err := os.Stat(c.Stream.Source); err != nil {
			return fmt.Errorf("stream.source %q: %w", c.Stream.Source, err)
		}
	}
	if c.Stream.Chunk <= 0 {
		return fmt.Errorf("stream.chunk must be positive")
	}

	if !(c.Detector.Alpha > 0 && c.Detector.Alpha < 1) {
		return fmt.Errorf("detector.alpha must be in (0,1), got %v", c.Detector.Alpha)
	}
	if !(c.Detector.Beta > 0 && c.Detector.Beta < 1) {
		return fmt.Errorf("detector.beta must be in (0,1), got %v", c.Detector.Beta)
	}
	if !(c.Detector.Delta > 0 && c.Detector.Delta < 0.5) {
		return fmt.Errorf("detector.delta must be in (0,0.5), got %v", c.Detector.Delta)
	}
	if c.Detector.APTWindow < 1 {
		return fmt.Errorf("detector.apt_window must be at least 1")
	}
	if c.Detector.ZTest && c.Detector.ZMinBits < 1 {
		return fmt.Errorf("detector.z_min_bits must be at least 1 when ztest is enabled")
	}

	if c.Output.IterSample < 1 {
		return fmt.Errorf("output.iter_sample must be at least 1")
	}

	return nil
}
