// Package cli contains the Cobra commands for claimq.
package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "github.com/rzbill/claimq/internal/config"
	"github.com/rzbill/claimq/internal/runtime"
	"github.com/rzbill/claimq/pkg/log"
)

// NewRoot constructs the root command and registers every subcommand.
func NewRoot(logger log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "claimq",
		Short:         "Claim-based coordination queue for agents sharing a host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("data-dir", "", "Data directory (default: OS-specific application data directory)")
	root.PersistentFlags().String("config", "", "Config file (JSON or YAML)")

	root.AddCommand(
		newAddCommand(logger),
		newClaimCommand(logger),
		newReleaseCommand(logger),
		newRenewCommand(logger),
		newExpireCommand(logger),
		newRemoveCommand(logger),
		newListCommand(logger),
		newStatsCommand(logger),
		newRecoveryLogCommand(logger),
		newWorkerCommand(logger),
	)
	return root
}

// loadConfig resolves file, env, and flag layers in that order.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfg, err
	}
	cfgpkg.FromEnv(&cfg)
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func openRuntime(cmd *cobra.Command, logger log.Logger) (*runtime.Runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return runtime.Open(runtime.Options{Config: cfg, Logger: logger})
}

// leaseMs resolves a --lease duration flag against the configured default.
func leaseMs(cmd *cobra.Command, cfg cfgpkg.Config) (int64, error) {
	raw, _ := cmd.Flags().GetString("lease")
	if raw == "" {
		return cfg.DefaultLeaseMs, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --lease: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid --lease: %s is not positive", raw)
	}
	return d.Milliseconds(), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
