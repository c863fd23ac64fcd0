// Package config loads setkeep configuration from YAML and validates it
// against an embedded CUE schema.
//
// Thresholds, batch sizes, ages and retry limits all live here; no
// component hard-codes them.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Config is the complete engine configuration.
type Config struct {
	DataDir  string        `yaml:"data_dir"`
	Database string        `yaml:"database"`
	WriterID string        `yaml:"writer_id"`
	Storage  StorageConfig `yaml:"storage"`
	Sync     SyncConfig    `yaml:"sync"`
	Cleanup  CleanupConfig `yaml:"cleanup"`
	Log      LogConfig     `yaml:"log"`
}

// StorageConfig sets the quota budget and status thresholds.
type StorageConfig struct {
	// BudgetBytes caps usage. Zero means "use the filesystem's capacity".
	BudgetBytes       int64   `yaml:"budget_bytes"`
	WarningThreshold  float64 `yaml:"warning_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold"`
}

// SyncConfig tunes the outbox drain loop.
type SyncConfig struct {
	MaxRetries       int               `yaml:"max_retries"`
	RetryCeiling     int               `yaml:"retry_ceiling"`
	BaseDelay        time.Duration     `yaml:"base_delay"`
	MaxDelay         time.Duration     `yaml:"max_delay"`
	Jitter           float64           `yaml:"jitter"`
	TransportTimeout time.Duration     `yaml:"transport_timeout"`
	BatchSize        int               `yaml:"batch_size"`
	Strategies       map[string]string `yaml:"strategies"`
}

// CleanupConfig tunes eviction.
type CleanupConfig struct {
	MaxAgeDays          int `yaml:"max_age_days"`
	CriticalMaxAgeDays  int `yaml:"critical_max_age_days"`
	MinItemsToKeep      int `yaml:"min_items_to_keep"`
	BatchSize           int `yaml:"batch_size"`
	QueueMaxAgeDays     int `yaml:"queue_max_age_days"`
	EmergencyEvictCount int `yaml:"emergency_evict_count"`
}

// LogConfig selects the log handler and optional rotating file.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:  DefaultDataDir(),
		Database: "setkeep.db",
		WriterID: defaultWriterID(),
		Storage: StorageConfig{
			BudgetBytes:       0,
			WarningThreshold:  0.80,
			CriticalThreshold: 0.95,
		},
		Sync: SyncConfig{
			MaxRetries:       3,
			RetryCeiling:     10,
			BaseDelay:        time.Second,
			MaxDelay:         5 * time.Minute,
			Jitter:           0.10,
			TransportTimeout: 30 * time.Second,
			BatchSize:        50,
			Strategies:       map[string]string{},
		},
		Cleanup: CleanupConfig{
			MaxAgeDays:          30,
			CriticalMaxAgeDays:  7,
			MinItemsToKeep:      10,
			BatchSize:           50,
			QueueMaxAgeDays:     7,
			EmergencyEvictCount: 10,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// DefaultDataDir returns $XDG_DATA_HOME/setkeep or ~/.local/share/setkeep.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "setkeep")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".setkeep"
	}
	return filepath.Join(home, ".local", "share", "setkeep")
}

func defaultWriterID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "local"
	}
	return host
}

// Load reads the YAML file at path over the defaults and validates the
// result. An empty path yields the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// DatabasePath returns the database file path, resolving a relative
// Database against DataDir.
func (c Config) DatabasePath() string {
	if filepath.IsAbs(c.Database) {
		return c.Database
	}
	return filepath.Join(c.DataDir, c.Database)
}

// Validate checks the configuration against the CUE schema.
func (c Config) Validate() error {
	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	val := cctx.Encode(c.cueView())
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Details: cueerrors.Details(err, nil)}
	}
	return nil
}

// cueView flattens the config into plain values the schema can check.
// Durations are expressed in whole milliseconds.
func (c Config) cueView() map[string]any {
	strategies := make(map[string]any, len(c.Sync.Strategies))
	for k, v := range c.Sync.Strategies {
		strategies[k] = v
	}
	return map[string]any{
		"data_dir":  c.DataDir,
		"database":  c.Database,
		"writer_id": c.WriterID,
		"storage": map[string]any{
			"budget_bytes":       c.Storage.BudgetBytes,
			"warning_threshold":  c.Storage.WarningThreshold,
			"critical_threshold": c.Storage.CriticalThreshold,
		},
		"sync": map[string]any{
			"max_retries":          c.Sync.MaxRetries,
			"retry_ceiling":        c.Sync.RetryCeiling,
			"base_delay_ms":        c.Sync.BaseDelay.Milliseconds(),
			"max_delay_ms":         c.Sync.MaxDelay.Milliseconds(),
			"jitter":               c.Sync.Jitter,
			"transport_timeout_ms": c.Sync.TransportTimeout.Milliseconds(),
			"batch_size":           c.Sync.BatchSize,
			"strategies":           strategies,
		},
		"cleanup": map[string]any{
			"max_age_days":          c.Cleanup.MaxAgeDays,
			"critical_max_age_days": c.Cleanup.CriticalMaxAgeDays,
			"min_items_to_keep":     c.Cleanup.MinItemsToKeep,
			"batch_size":            c.Cleanup.BatchSize,
			"queue_max_age_days":    c.Cleanup.QueueMaxAgeDays,
			"emergency_evict_count": c.Cleanup.EmergencyEvictCount,
		},
		"log": map[string]any{
			"level":        c.Log.Level,
			"format":       c.Log.Format,
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
		},
	}
}

// ValidationError carries the schema violations of an invalid config.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + e.Details
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
