// Package config loads the pipeline's YAML configuration and maps it
// onto the concrete settings of the coordinator, the agent pool, the
// circuit breaker, and the aggregation engines.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paletteops/tokenflow/agent"
	"github.com/paletteops/tokenflow/aggregate"
	"github.com/paletteops/tokenflow/breaker"
	"github.com/paletteops/tokenflow/spacing"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PipelineConfig holds the coordinator and pool settings.
type PipelineConfig struct {
	PoolSize                int      `yaml:"pool_size"`
	FailOnPartialExtraction bool     `yaml:"fail_on_partial_extraction"`
	StageTimeout            Duration `yaml:"stage_timeout"`
	ExtractTimeout          Duration `yaml:"extract_timeout"`
	MaxParallelTasks        int      `yaml:"max_parallel_tasks"`
}

// BreakerConfig holds the circuit breaker settings.
type BreakerConfig struct {
	Name             string   `yaml:"name"`
	FailureThreshold int      `yaml:"failure_threshold"`
	SuccessThreshold int      `yaml:"success_threshold"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout"`
}

// ColorConfig holds the color aggregation settings.
type ColorConfig struct {
	DeltaEThreshold float64 `yaml:"delta_e_threshold"`
	Metric          string  `yaml:"metric"`
	Clustering      string  `yaml:"clustering"`
	ClusterCount    int     `yaml:"cluster_count"`
}

// SpacingConfig holds the spacing aggregation settings.
type SpacingConfig struct {
	ThresholdPercent float64 `yaml:"threshold_percent"`
}

// RetryConfig holds the rate-limit retry settings for extraction agents.
type RetryConfig struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// Config is the root configuration document.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Color    ColorConfig    `yaml:"color"`
	Spacing  SpacingConfig  `yaml:"spacing"`
	Retry    RetryConfig    `yaml:"retry"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			PoolSize:         5,
			StageTimeout:     Duration(2 * time.Minute),
			ExtractTimeout:   Duration(time.Minute),
			MaxParallelTasks: 4,
		},
		Breaker: BreakerConfig{
			Name:             "pipeline",
			FailureThreshold: 5,
			SuccessThreshold: 1,
			RecoveryTimeout:  Duration(30 * time.Second),
		},
		Color: ColorConfig{
			DeltaEThreshold: 5.0,
			Metric:          "ciede2000",
			Clustering:      "lloyd",
		},
		Spacing: SpacingConfig{ThresholdPercent: 10},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: Duration(time.Second),
			MaxDelay:     Duration(30 * time.Second),
		},
		Metrics: MetricsConfig{Enabled: true, Namespace: "tokenflow"},
	}
}

// LoadFromFile reads a YAML file over the defaults. Fields absent from
// the file keep their default values.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the pipeline cannot run
// with.
func (c *Config) Validate() error {
	if c.Pipeline.PoolSize <= 0 {
		return fmt.Errorf("pipeline.pool_size must be positive, got %d", c.Pipeline.PoolSize)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Color.DeltaEThreshold <= 0 {
		return fmt.Errorf("color.delta_e_threshold must be positive, got %g", c.Color.DeltaEThreshold)
	}
	switch c.Color.Metric {
	case "ciede2000", "lab":
	default:
		return fmt.Errorf("color.metric must be \"ciede2000\" or \"lab\", got %q", c.Color.Metric)
	}
	switch c.Color.Clustering {
	case "", "lloyd", "kmeans":
	default:
		return fmt.Errorf("color.clustering must be \"lloyd\" or \"kmeans\", got %q", c.Color.Clustering)
	}
	if c.Spacing.ThresholdPercent <= 0 || c.Spacing.ThresholdPercent >= 100 {
		return fmt.Errorf("spacing.threshold_percent must be in (0, 100), got %g", c.Spacing.ThresholdPercent)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	return nil
}

// BreakerSettings maps the document onto the breaker package's config.
func (c *Config) BreakerSettings() breaker.Config {
	return breaker.Config{
		Name:             c.Breaker.Name,
		FailureThreshold: c.Breaker.FailureThreshold,
		SuccessThreshold: c.Breaker.SuccessThreshold,
		RecoveryTimeout:  time.Duration(c.Breaker.RecoveryTimeout),
	}
}

// ColorSettings maps the document onto the color engine's config.
func (c *Config) ColorSettings() aggregate.Config {
	cfg := aggregate.Config{
		DeltaEThreshold: c.Color.DeltaEThreshold,
		ClusterCount:    c.Color.ClusterCount,
	}
	if c.Color.Metric == "lab" {
		cfg.Metric = aggregate.MetricLab
	}
	switch c.Color.Clustering {
	case "kmeans":
		cfg.Clusterer = aggregate.KMeansClusterer{}
	default:
		cfg.Clusterer = aggregate.LloydClusterer{}
	}
	return cfg
}

// RetrySettings maps the document onto the extraction retry decorator's
// config.
func (c *Config) RetrySettings() agent.RetryConfig {
	return agent.RetryConfig{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: time.Duration(c.Retry.InitialDelay),
		MaxDelay:     time.Duration(c.Retry.MaxDelay),
	}
}

// SpacingSettings maps the document onto the spacing engine's config.
func (c *Config) SpacingSettings() spacing.Config {
	return spacing.Config{ThresholdPercent: c.Spacing.ThresholdPercent}
}
