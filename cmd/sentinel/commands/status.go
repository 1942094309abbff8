package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentinelops/sentinel/pkg/vault"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the vault and lifecycle state",
		Long: `Summarize the vault containers, the last completed scan cycle, the
retry queue depth, and any quarantined actions awaiting remediation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			containers := make(map[string]int, len(vault.Containers))
			for _, c := range vault.Containers {
				names, err := app.repo.List(ctx, c)
				if err != nil {
					return err
				}
				containers[string(c)] = len(names)
			}

			lastCycle, err := app.store.LastCycle(ctx)
			if err != nil {
				return err
			}
			quarantined, err := app.store.ListQuarantined(ctx, 50, 0)
			if err != nil {
				return err
			}
			deferred, err := app.store.ListDeferred(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"vault":       app.cfg.Vault.Dir,
					"containers":  containers,
					"last_cycle":  lastCycle,
					"queue":       app.queue.Size(),
					"dead_letter": app.queue.DeadLetterSize(),
					"quarantined": quarantined,
					"deferred":    deferred,
				})
			}

			fmt.Printf("Vault: %s\n\n", app.cfg.Vault.Dir)
			fmt.Println("Containers:")
			for _, c := range vault.Containers {
				fmt.Printf("  %-9s %d\n", string(c)+":", containers[string(c)])
			}

			fmt.Println("\nLast cycle:")
			if lastCycle == nil {
				fmt.Println("  none recorded yet")
			} else {
				fmt.Printf("  started:  %s\n", lastCycle.StartedAt.Format(time.RFC3339))
				fmt.Printf("  duration: %dms\n", lastCycle.DurationMS)
				fmt.Printf("  expired=%d executed=%d pending=%d errors=%d\n",
					lastCycle.Expired, lastCycle.Executed, lastCycle.Pending, lastCycle.Errors)
			}

			fmt.Printf("\nQueue: %d active, %d dead-lettered\n", app.queue.Size(), app.queue.DeadLetterSize())

			if len(deferred) > 0 {
				fmt.Printf("\nDeferred (%d):\n", len(deferred))
				for _, d := range deferred {
					fmt.Printf("  %s  since %s\n", d.ActionID, d.DeferredAt.Format(time.RFC3339))
				}
			}

			if len(quarantined) > 0 {
				fmt.Printf("\nQuarantined (%d):\n", len(quarantined))
				for _, q := range quarantined {
					fmt.Printf("  %s  %s\n", q.ActionID, q.Reason)
				}
			}

			return nil
		},
	}

	return cmd
}
