package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzbill/claimq/internal/recovery"
	pebblestore "github.com/rzbill/claimq/internal/storage/pebble"
	"github.com/rzbill/claimq/pkg/log"
)

// Config is the top-level configuration loaded from file and env.
type Config struct {
	// DataDir is the queue store directory. Empty means DefaultDataDir.
	DataDir string `json:"dataDir" yaml:"dataDir"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	// Fsync is the WAL sync mode: always, interval, or never.
	Fsync string `json:"fsync" yaml:"fsync"`
	// FsyncIntervalMs applies when Fsync is "interval".
	FsyncIntervalMs int64 `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`
	// RecoveryPolicy governs repair of corrupt queue state.
	RecoveryPolicy recovery.Policy `json:"recoveryPolicy" yaml:"recoveryPolicy"`
	// DefaultLeaseMs is the claim lease used when a caller does not supply one.
	DefaultLeaseMs int64 `json:"defaultLeaseMs" yaml:"defaultLeaseMs"`
	// ExpireIntervalMs is the worker's stale-claim sweep cadence.
	ExpireIntervalMs int64 `json:"expireIntervalMs" yaml:"expireIntervalMs"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		LogLevel:         "info",
		Fsync:            "always",
		FsyncIntervalMs:  5,
		RecoveryPolicy:   recovery.PolicyWarn,
		DefaultLeaseMs:   (5 * time.Minute).Milliseconds(),
		ExpireIntervalMs: (30 * time.Second).Milliseconds(),
	}
}

// Load reads configuration from a JSON or YAML file, by extension. An
// empty path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate checks field values the typed decoders cannot.
func (c Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := pebblestore.ParseFsyncMode(c.Fsync); err != nil {
		return err
	}
	if c.DefaultLeaseMs <= 0 {
		return fmt.Errorf("config: defaultLeaseMs %d is not positive", c.DefaultLeaseMs)
	}
	if c.ExpireIntervalMs <= 0 {
		return fmt.Errorf("config: expireIntervalMs %d is not positive", c.ExpireIntervalMs)
	}
	return nil
}

// EffectiveDataDir resolves DataDir, falling back to the OS default.
func (c Config) EffectiveDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return DefaultDataDir()
}

// FsyncMode converts the string fields to storage options.
func (c Config) FsyncMode() (pebblestore.FsyncMode, time.Duration) {
	mode, err := pebblestore.ParseFsyncMode(c.Fsync)
	if err != nil {
		mode = pebblestore.FsyncModeAlways
	}
	return mode, time.Duration(c.FsyncIntervalMs) * time.Millisecond
}
