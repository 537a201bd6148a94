package config

import (
	"os"
	"strconv"

	"github.com/rzbill/claimq/internal/recovery"
)

// FromEnv overlays CLAIMQ_* environment variables onto cfg. Malformed
// values are ignored, keeping the file/default value.
func FromEnv(cfg *Config) {
	if v := os.Getenv("CLAIMQ_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CLAIMQ_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CLAIMQ_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("CLAIMQ_FSYNC_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.FsyncIntervalMs = n
		}
	}
	if v := os.Getenv("CLAIMQ_RECOVERY_POLICY"); v != "" {
		if p, err := recovery.ParsePolicy(v); err == nil {
			cfg.RecoveryPolicy = p
		}
	}
	if v := os.Getenv("CLAIMQ_DEFAULT_LEASE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DefaultLeaseMs = n
		}
	}
	if v := os.Getenv("CLAIMQ_EXPIRE_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ExpireIntervalMs = n
		}
	}
}
