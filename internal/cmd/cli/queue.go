package cli

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rzbill/claimq/internal/queue"
	"github.com/rzbill/claimq/pkg/log"
)

func parseEntryIDArg(arg string) (queue.EntryID, error) {
	n, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid entry id %q: %w", arg, err)
	}
	return queue.EntryID(n), nil
}

func agentFlag(cmd *cobra.Command, generateDefault bool) (queue.AgentID, error) {
	raw, _ := cmd.Flags().GetString("agent")
	if raw == "" {
		if !generateDefault {
			return "", fmt.Errorf("--agent is required")
		}
		// A timestamp would collide for two claims in the same second.
		raw = "cli-" + uuid.NewString()
	}
	return queue.ParseAgentID(raw)
}

// newAddCommand constructs the `add` subcommand.
func newAddCommand(logger log.Logger) *cobra.Command {
	addCmd := &cobra.Command{
		Use:   "add <workspace>",
		Short: "Add a workspace entry to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := queue.ParseWorkspaceName(args[0])
			if err != nil {
				return err
			}
			var task queue.TaskID
			if raw, _ := cmd.Flags().GetString("task"); raw != "" {
				if task, err = queue.ParseTaskID(raw); err != nil {
					return err
				}
			}
			rawPrio, _ := cmd.Flags().GetInt32("priority")
			prio, err := queue.ParsePriority(rawPrio)
			if err != nil {
				return err
			}
			var dedupe queue.DedupeKey
			if raw, _ := cmd.Flags().GetString("dedupe"); raw != "" {
				if dedupe, err = queue.ParseDedupeKey(raw); err != nil {
					return err
				}
			}

			rt, err := openRuntime(cmd, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			entry, err := rt.Repo().Add(cmd.Context(), ws, task, prio, dedupe, 0)
			if err != nil {
				return err
			}
			return printJSON(cmd, entry)
		},
	}
	addCmd.Flags().String("task", "", "Associated task id (bd-<hex>)")
	addCmd.Flags().Int32("priority", int32(queue.PriorityDefault), "Priority (lower is claimed first)")
	addCmd.Flags().String("dedupe", "", "Dedupe key (rejects duplicates while the entry lives)")
	return addCmd
}

// newClaimCommand constructs the `claim` subcommand.
func newClaimCommand(logger log.Logger) *cobra.Command {
	claimCmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim the next eligible entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agent, err := agentFlag(cmd, true)
			if err != nil {
				return err
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
			entry, err := rt.Repo().ClaimNext(cmd.Context(), agent, ms, 0)
			if err != nil {
				return err
			}
			if entry == nil {
				return printJSON(cmd, map[string]any{"claimed": false})
			}
			return printJSON(cmd, entry)
		},
	}
	claimCmd.Flags().String("agent", "", "Agent identity (auto-generated if empty)")
	claimCmd.Flags().String("lease", "", "Lease duration, e.g. 5m (default from config)")
	return claimCmd
}

// newReleaseCommand constructs the `release` subcommand.
func newReleaseCommand(logger log.Logger) *cobra.Command {
	releaseCmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Release a claimed entry back to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntryIDArg(args[0])
			if err != nil {
				return err
			}
			agent, err := agentFlag(cmd, false)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Repo().Release(cmd.Context(), id, agent); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"released": uint64(id)})
		},
	}
	releaseCmd.Flags().String("agent", "", "Owning agent identity (required)")
	return releaseCmd
}

// newRenewCommand constructs the `renew` subcommand.
func newRenewCommand(logger log.Logger) *cobra.Command {
	renewCmd := &cobra.Command{
		Use:   "renew <id>",
		Short: "Extend the lease on a claimed entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntryIDArg(args[0])
			if err != nil {
				return err
			}
			agent, err := agentFlag(cmd, false)
			if err != nil {
				return err
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
			entry, err := rt.Repo().Renew(cmd.Context(), id, agent, ms, 0)
			if err != nil {
				return err
			}
			return printJSON(cmd, entry)
		},
	}
	renewCmd.Flags().String("agent", "", "Owning agent identity (required)")
	renewCmd.Flags().String("lease", "", "New lease duration, e.g. 5m (default from config)")
	return renewCmd
}

// newExpireCommand constructs the `expire` subcommand.
func newExpireCommand(logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire every claim whose lease has lapsed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.Repo().ExpireClaims(cmd.Context(), 0)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"expired": n})
		},
	}
}

// newRemoveCommand constructs the `remove` subcommand.
func newRemoveCommand(logger log.Logger) *cobra.Command {
	removeCmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an entry from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntryIDArg(args[0])
			if err != nil {
				return err
			}
			force, _ := cmd.Flags().GetBool("force")
			var agent queue.AgentID
			if raw, _ := cmd.Flags().GetString("agent"); raw != "" {
				if agent, err = queue.ParseAgentID(raw); err != nil {
					return err
				}
			}
			rt, err := openRuntime(cmd, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Repo().Remove(cmd.Context(), id, agent, force); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"removed": uint64(id)})
		},
	}
	removeCmd.Flags().String("agent", "", "Agent identity (required unless --force)")
	removeCmd.Flags().Bool("force", false, "Remove even when claimed by another agent")
	return removeCmd
}
