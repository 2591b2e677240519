package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paletteops/tokenflow/aggregate"
	"github.com/paletteops/tokenflow/token"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokenflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Pipeline.PoolSize)
	assert.Equal(t, 5.0, cfg.Color.DeltaEThreshold)
	assert.Equal(t, "ciede2000", cfg.Color.Metric)
	assert.Equal(t, 10.0, cfg.Spacing.ThresholdPercent)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Breaker.RecoveryTimeout))
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  pool_size: 12
  fail_on_partial_extraction: true
  stage_timeout: 45s
breaker:
  failure_threshold: 3
  recovery_timeout: 10s
color:
  delta_e_threshold: 2.5
  metric: lab
  clustering: kmeans
  cluster_count: 6
spacing:
  threshold_percent: 15
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Pipeline.PoolSize)
	assert.True(t, cfg.Pipeline.FailOnPartialExtraction)
	assert.Equal(t, 45*time.Second, time.Duration(cfg.Pipeline.StageTimeout))
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2.5, cfg.Color.DeltaEThreshold)
	assert.Equal(t, 15.0, cfg.Spacing.ThresholdPercent)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, "pipeline", cfg.Breaker.Name)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeConfig(t, "pipeline: [not a map"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeConfig(t, "pipeline:\n  stage_timeout: forever\n"))
	assert.ErrorContains(t, err, "invalid duration")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero pool", func(c *Config) { c.Pipeline.PoolSize = 0 }, "pool_size"},
		{"zero failure threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }, "failure_threshold"},
		{"negative delta-e", func(c *Config) { c.Color.DeltaEThreshold = -1 }, "delta_e_threshold"},
		{"unknown metric", func(c *Config) { c.Color.Metric = "hsv" }, "color.metric"},
		{"unknown clustering", func(c *Config) { c.Color.Clustering = "dbscan" }, "color.clustering"},
		{"spacing out of range", func(c *Config) { c.Spacing.ThresholdPercent = 100 }, "threshold_percent"},
		{"zero retries", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSettingsMapping(t *testing.T) {
	cfg := Default()
	cfg.Color.Metric = "lab"
	cfg.Color.Clustering = "kmeans"
	cfg.Color.ClusterCount = 4

	b := cfg.BreakerSettings()
	assert.Equal(t, "pipeline", b.Name)
	assert.Equal(t, 30*time.Second, b.RecoveryTimeout)

	col := cfg.ColorSettings()
	assert.Equal(t, aggregate.MetricLab, col.Metric)
	assert.IsType(t, aggregate.KMeansClusterer{}, col.Clusterer)
	assert.Equal(t, 4, col.ClusterCount)

	sp := cfg.SpacingSettings()
	assert.Equal(t, 10.0, sp.ThresholdPercent)

	r := cfg.RetrySettings()
	assert.Equal(t, 3, r.MaxAttempts)
	assert.Equal(t, time.Second, r.InitialDelay)
}

func TestColorSettingsLloydClustering(t *testing.T) {
	cfg := Default()
	cfg.Color.ClusterCount = 2
	require.Equal(t, "lloyd", cfg.Color.Clustering)

	col := cfg.ColorSettings()
	require.NotNil(t, col.Clusterer, "the default clustering strategy must map to a concrete Clusterer")
	assert.IsType(t, aggregate.LloydClusterer{}, col.Clusterer)

	// Clustering actually runs: four spread-out colors collapse to two.
	col.DeltaEThreshold = 1
	lib, err := aggregate.NewEngine(col).Aggregate([][]token.TokenResult{{
		{Type: token.TypeColor, Name: "red-1", Value: "#FF0000", Confidence: 0.9},
		{Type: token.TypeColor, Name: "red-2", Value: "#EE1111", Confidence: 0.8},
		{Type: token.TypeColor, Name: "blue-1", Value: "#0000FF", Confidence: 0.9},
		{Type: token.TypeColor, Name: "blue-2", Value: "#1111EE", Confidence: 0.8},
	}})
	require.NoError(t, err)
	assert.Len(t, lib.Colors, 2)
}
