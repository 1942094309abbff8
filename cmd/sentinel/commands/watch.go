package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sentinelops/sentinel/pkg/vault"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the vault and run the lifecycle continuously",
		Long: `Run the lifecycle daemon: scan the vault on every poll tick, and when
filesystem watching is enabled, scan as soon as a record changes. The
loop stops on SIGINT or SIGTERM after the in-flight cycle completes.`,
		Example: `  # Run with the default config
  sentinel watch

  # Run against a specific config file
  sentinel watch --config /etc/sentinel/sentinel.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			if err := app.tel.StartMetricsServer(); err != nil {
				return fmt.Errorf("starting metrics server: %w", err)
			}

			var changes <-chan struct{}
			if app.cfg.Vault.WatchEnabled {
				watcher, err := vault.NewWatcher(app.repo, app.cfg.Vault.WatchDebounce, app.tel.Logger)
				if err != nil {
					return fmt.Errorf("starting vault watcher: %w", err)
				}
				defer watcher.Close()
				go watcher.Run(ctx)
				changes = watcher.Changes()
			}

			log.Info().
				Str("vault", app.cfg.Vault.Dir).
				Dur("poll_interval", app.cfg.Scan.PollInterval).
				Bool("fs_watch", app.cfg.Vault.WatchEnabled).
				Msg("Sentinel watching")

			err = app.scanner.Run(ctx, changes)
			if errors.Is(err, context.Canceled) {
				log.Info().Msg("Sentinel stopped")
				return nil
			}
			return err
		},
	}

	return cmd
}
