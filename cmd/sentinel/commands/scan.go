package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan cycle",
		Long: `Run a single lifecycle pass over the vault: expire overdue pending
records, dispatch approved ones, then drain the retry queue once.
Useful from cron or for debugging; watch mode does this in a loop.`,
		Example: `  # One pass with the default config
  sentinel scan

  # Machine-readable stats
  sentinel scan --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			stats, err := app.scanner.RunCycle(ctx)
			if err != nil {
				return fmt.Errorf("scan cycle failed: %w", err)
			}
			results, err := app.scanner.ProcessQueue(ctx)
			if err != nil {
				return fmt.Errorf("queue pass failed: %w", err)
			}

			log.Info().
				Int("expired", stats.Expired).
				Int("executed", stats.Executed).
				Int("pending", stats.Pending).
				Msg("Scan cycle completed")

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"cycle": stats,
					"queue": results,
				})
			}

			fmt.Printf("Cycle %d completed in %s\n\n", stats.Cycle, stats.Duration.Round(0))
			fmt.Printf("  Expired:     %d\n", stats.Expired)
			fmt.Printf("  Executed:    %d\n", stats.Executed)
			fmt.Printf("  Deferred:    %d\n", stats.Deferred)
			fmt.Printf("  Quarantined: %d\n", stats.Quarantined)
			fmt.Printf("  Pending:     %d\n", stats.Pending)
			fmt.Printf("  Errors:      %d\n", stats.Errors)
			fmt.Printf("\nQueue pass: %d processed, %d failed, %d dead-lettered\n",
				results.Processed, results.Failed, results.DeadLettered)

			return nil
		},
	}

	return cmd
}
