package cli

import (
	"github.com/spf13/cobra"

	"github.com/rzbill/claimq/internal/queue"
	"github.com/rzbill/claimq/pkg/log"
)

// newListCommand constructs the `list` subcommand.
func newListCommand(logger log.Logger) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries",
		Long: `List queue entries. By default only claimable entries are shown, in
claim order; --all lists every entry ascending by id.

--filter takes a CEL expression over the fields id, workspace, task,
priority, state, agent, created_at_ms, expires_at_ms, now_ms:

  claimq list --all --filter 'state == "claimed" && agent == "agent-7"'
  claimq list --filter 'priority <= 3'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")
			expr, _ := cmd.Flags().GetString("filter")
			filter, err := queue.NewFilter(expr)
			if err != nil {
				return err
			}

			rt, err := openRuntime(cmd, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			var entries []queue.Entry
			if all {
				entries, err = rt.Repo().ListAll(cmd.Context())
			} else {
				entries, err = rt.Repo().ListUnclaimed(cmd.Context())
			}
			if err != nil {
				return err
			}

			out := make([]queue.Entry, 0, len(entries))
			for _, e := range entries {
				if filter.Match(e, 0) {
					out = append(out, e)
				}
			}
			return printJSON(cmd, out)
		},
	}
	listCmd.Flags().Bool("all", false, "Include claimed and expired entries")
	listCmd.Flags().String("filter", "", "CEL filter expression")
	return listCmd
}

// newStatsCommand constructs the `stats` subcommand.
func newStatsCommand(logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts by claim state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			stats, err := rt.Repo().Stats(cmd.Context())
			if err != nil {
				return err
			}
			events, err := rt.RecoveryLog().Recent(cmd.Context(), 5)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"stats":           stats,
				"recent_recovery": events,
				"recovery_policy": rt.Config().RecoveryPolicy,
			})
		},
	}
}

// newRecoveryLogCommand constructs the `recovery-log` subcommand.
func newRecoveryLogCommand(logger log.Logger) *cobra.Command {
	recoveryCmd := &cobra.Command{
		Use:   "recovery-log",
		Short: "Show recent recovery events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			rt, err := openRuntime(cmd, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			events, err := rt.RecoveryLog().Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, events)
		},
	}
	recoveryCmd.Flags().Int("limit", 20, "Max events to return")
	return recoveryCmd
}
