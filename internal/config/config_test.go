package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 13, cfg.Policy.RollingWindow)
	assert.Equal(t, 3.0, cfg.Policy.ZScoreThreshold)
	assert.Equal(t, 0.5, cfg.Policy.LargeChangeRatio)
	assert.Equal(t, 0.8, cfg.Policy.AnnualChangeRatio)
	assert.Equal(t, 5.0, cfg.Policy.TotalMismatchPct)
	assert.Equal(t, 5, cfg.Policy.MinComponentsForBalance)

	start, end, err := cfg.Policy.SolveWindow()
	require.NoError(t, err)
	assert.Equal(t, time.Date(1995, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestLoad_FileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "circflow.yaml")
	content := `
server:
  port: 9090
policy:
  rolling_window: 9
  balanced_pct: 2.5
classification:
  "Northern Territory": NT
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 9, cfg.Policy.RollingWindow)
	assert.Equal(t, 2.5, cfg.Policy.BalancedPct)
	assert.Equal(t, "NT", cfg.Classification["Northern Territory"])
	// Untouched defaults survive the overlay.
	assert.Equal(t, 3.0, cfg.Policy.ZScoreThreshold)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"window too small", func(c *Config) { c.Policy.RollingWindow = 2 }},
		{"inverted solve window", func(c *Config) {
			c.Policy.SolveWindowStart = "2016-01-01"
			c.Policy.SolveWindowEnd = "2015-01-01"
		}},
		{"malformed solve date", func(c *Config) { c.Policy.SolveWindowStart = "01/01/1995" }},
		{"cv bands inverted", func(c *Config) {
			c.Policy.CVExcellentPct = 50
			c.Policy.CVGoodPct = 40
		}},
		{"share above one", func(c *Config) { c.Policy.SolveMaxShareOfSM = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
