package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sentinelops/sentinel/pkg/queue"
)

func newQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drive the durable retry queue",
		Long: `Work with the durable retry queue. Dead-lettered tasks exhausted their
retries and need manual remediation; releasing the matching quarantine
entry and deleting the dead-letter file requeues the action on the next
approval scan.`,
	}

	cmd.AddCommand(newQueueListCommand())
	cmd.AddCommand(newQueueDeadCommand())
	cmd.AddCommand(newQueueProcessCommand())
	cmd.AddCommand(newQueueReleaseCommand())

	return cmd
}

func newQueueListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			tasks, err := app.queue.List()
			if err != nil {
				return err
			}
			return printTasks(tasks, "active")
		},
	}
}

func newQueueDeadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dead",
		Short: "List dead-lettered tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			tasks, err := app.queue.ListDead()
			if err != nil {
				return err
			}
			return printTasks(tasks, "dead-lettered")
		},
	}
}

func newQueueProcessCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run one pass over the queue",
		Long: `Attempt every queued redispatch once. Tasks that fail keep their retry
budget; tasks that exhaust it are dead-lettered and their actions
quarantined.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			results, err := app.scanner.ProcessQueue(ctx)
			if err != nil {
				return err
			}

			log.Info().
				Int("processed", results.Processed).
				Int("failed", results.Failed).
				Int("dead_lettered", results.DeadLettered).
				Msg("Queue pass completed")

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(results)
			}
			fmt.Printf("Queue pass: %d processed, %d failed, %d dead-lettered\n",
				results.Processed, results.Failed, results.DeadLettered)
			return nil
		},
	}
}

func newQueueReleaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release <action-id>",
		Short: "Release a quarantined action",
		Long: `Clear the quarantine entry for an action. The record is still in the
Approved container, so the next scan picks it up again. Use after
fixing whatever made the dispatch fail.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actionID := args[0]

			app, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			if err := app.store.ReleaseQuarantine(ctx, actionID); err != nil {
				return err
			}
			_ = app.store.Undefer(ctx, actionID)

			app.tel.Audit.Component("queue").AuditTrail(ctx, "quarantine_released",
				fmt.Sprintf("action %s released from quarantine", actionID),
				map[string]interface{}{"action_id": actionID})

			log.Info().Str("action_id", actionID).Msg("Quarantine released")
			fmt.Printf("✓ Released %s; it will be re-dispatched on the next scan\n", actionID)
			return nil
		},
	}
}

func printTasks(tasks []*queue.Task, label string) error {
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(tasks)
	}
	if len(tasks) == 0 {
		fmt.Printf("No %s tasks\n", label)
		return nil
	}

	fmt.Printf("%d %s task(s):\n\n", len(tasks), label)
	for _, t := range tasks {
		fmt.Printf("  %s  type=%s  attempts=%d/%d  enqueued=%s\n",
			t.ID, t.Type, t.RetryCount, t.MaxRetries, t.EnqueuedAt.Format("2006-01-02 15:04:05"))
		if t.Reason != "" {
			fmt.Printf("    reason: %s\n", t.Reason)
		}
		if t.DeadLetterReason != "" {
			fmt.Printf("    dead-lettered: %s\n", t.DeadLetterReason)
		}
	}
	return nil
}
