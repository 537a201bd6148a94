package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "github.com/rzbill/claimq/internal/config"
	"github.com/rzbill/claimq/internal/queue"
	"github.com/rzbill/claimq/internal/worker"
	"github.com/rzbill/claimq/pkg/log"
)

// newWorkerCommand constructs the `worker` subcommand.
func newWorkerCommand(logger log.Logger) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker -- <command> [args...]",
		Short: "Claim entries and run a command for each",
		Long: `Run the claim loop: claim the next entry, execute the command with
CLAIMQ_WORKSPACE, CLAIMQ_ENTRY_ID, and CLAIMQ_TASK in its environment,
remove the entry when the command succeeds and release it when it
fails. The lease is renewed while the command runs, and lapsed claims
held by dead agents are swept on a timer. Stop with Ctrl+C.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := worker.ExecHandler(args)
			if err != nil {
				return err
			}
			var agent queue.AgentID
			if raw, _ := cmd.Flags().GetString("agent"); raw != "" {
				if agent, err = queue.ParseAgentID(raw); err != nil {
					return err
				}
			}
			rawPoll, _ := cmd.Flags().GetString("poll")
			poll, err := time.ParseDuration(rawPoll)
			if err != nil {
				return fmt.Errorf("invalid --poll: %w", err)
			}

			rt, err := openRuntime(cmd, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			ms, err := leaseMs(cmd, rt.Config())
			if err != nil {
				return err
			}
			w, err := worker.New(worker.Options{
				Repo:           rt.Repo(),
				Logger:         logger,
				Handle:         handle,
				Agent:          agent,
				LeaseMs:        ms,
				Poll:           poll,
				ExpireInterval: time.Duration(rt.Config().ExpireIntervalMs) * time.Millisecond,
			})
			if err != nil {
				return err
			}

			// Long-running command: pick up config edits without a
			// restart. Log level and sweep cadence apply live.
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				watcher, werr := cfgpkg.Watch(path, logger, func(cfg cfgpkg.Config) {
					if lvl, perr := log.ParseLevel(cfg.LogLevel); perr == nil {
						logger.SetLevel(lvl)
					}
					w.SetExpireInterval(time.Duration(cfg.ExpireIntervalMs) * time.Millisecond)
				})
				if werr != nil {
					return werr
				}
				defer watcher.Close()
			}

			logger.Info("worker started", log.F("agent", w.Agent().String()))
			return w.Run(cmd.Context())
		},
	}
	workerCmd.Flags().String("agent", "", "Agent identity (auto-generated if empty)")
	workerCmd.Flags().String("lease", "", "Claim lease duration (default from config)")
	workerCmd.Flags().String("poll", "1s", "Idle poll interval")
	return workerCmd
}
