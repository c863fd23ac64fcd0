package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.80, cfg.Storage.WarningThreshold)
	assert.Equal(t, 0.95, cfg.Storage.CriticalThreshold)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 10, cfg.Cleanup.MinItemsToKeep)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Sync, cfg.Sync)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setkeep.yaml")
	data := `
data_dir: /tmp/setkeep
writer_id: laptop
storage:
  budget_bytes: 1048576
  warning_threshold: 0.7
sync:
  base_delay: 250ms
  strategies:
    songs: three-way-merge
cleanup:
  min_items_to_keep: 5
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/setkeep", cfg.DataDir)
	assert.Equal(t, "laptop", cfg.WriterID)
	assert.Equal(t, int64(1048576), cfg.Storage.BudgetBytes)
	assert.Equal(t, 0.7, cfg.Storage.WarningThreshold)
	assert.Equal(t, 0.95, cfg.Storage.CriticalThreshold, "unset keys keep defaults")
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.BaseDelay)
	assert.Equal(t, "three-way-merge", cfg.Sync.Strategies["songs"])
	assert.Equal(t, 5, cfg.Cleanup.MinItemsToKeep)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/tmp/setkeep/setkeep.db", cfg.DatabasePath())
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("storage:\n  budget: 10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget")
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default().Cleanup, cfg.Cleanup)
}

func TestValidate_Constraints(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"critical below warning", func(c *Config) { c.Storage.CriticalThreshold = 0.5 }},
		{"critical above one", func(c *Config) { c.Storage.CriticalThreshold = 1.5 }},
		{"zero warning", func(c *Config) { c.Storage.WarningThreshold = 0 }},
		{"ceiling below max retries", func(c *Config) { c.Sync.RetryCeiling = 2 }},
		{"max delay below base", func(c *Config) { c.Sync.MaxDelay = time.Millisecond }},
		{"zero batch", func(c *Config) { c.Cleanup.BatchSize = 0 }},
		{"critical age above max age", func(c *Config) { c.Cleanup.CriticalMaxAgeDays = 60 }},
		{"unknown strategy", func(c *Config) { c.Sync.Strategies = map[string]string{"songs": "coin-flip"} }},
		{"unknown collection", func(c *Config) { c.Sync.Strategies = map[string]string{"albums": "last-write-wins"} }},
		{"unknown level", func(c *Config) { c.Log.Level = "trace" }},
		{"empty database", func(c *Config) { c.Database = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}
}

func TestDatabasePath_Absolute(t *testing.T) {
	cfg := Default()
	cfg.Database = "/var/lib/setkeep/library.db"
	assert.Equal(t, "/var/lib/setkeep/library.db", cfg.DatabasePath())
}
