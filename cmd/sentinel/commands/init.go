package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sentinelops/sentinel/pkg/stores"
	"github.com/sentinelops/sentinel/pkg/vault"
)

func newInitCommand() *cobra.Command {
	var (
		vaultDir string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a sentinel vault",
		Long: `Initialize a new action vault: the container directories, the durable
retry queue, the SQLite state database, and a starter config file.`,
		Example: `  # Initialize a vault in ./vault
  sentinel init

  # Initialize elsewhere with a custom config path
  sentinel init --vault /srv/vault --config /etc/sentinel/sentinel.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().
				Str("vault", vaultDir).
				Str("config", configPath).
				Msg("Initializing vault")

			ctx := context.Background()

			fmt.Printf("Initializing sentinel vault in %s\n\n", vaultDir)

			// Step 1: Create the container directories
			repo := vault.NewFS(vaultDir, nil)
			if err := repo.Init(); err != nil {
				return fmt.Errorf("failed to create vault: %w", err)
			}
			for _, c := range vault.Containers {
				fmt.Printf("✓ Created container: %s\n", filepath.Join(vaultDir, string(c)))
			}

			// Step 2: Create the queue, policy overlay, and audit log directories
			for _, dir := range []string{
				filepath.Join(vaultDir, ".queue"),
				filepath.Join(vaultDir, ".queue", "dead_letter"),
				filepath.Join(vaultDir, PolicyOverlayDir),
				filepath.Join(vaultDir, "Logs"),
			} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Printf("✓ Created directory: %s\n", dir)
			}

			// Step 3: Initialize the SQLite state database
			dbPath := filepath.Join(vaultDir, "sentinel.db")
			store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			if err := store.Close(); err != nil {
				return fmt.Errorf("failed to close store: %w", err)
			}
			fmt.Printf("✓ Initialized SQLite database: %s\n", dbPath)

			// Step 4: Create a starter config file
			defaultConfig := `# Sentinel configuration

vault:
  dir: %[1]s
  watch_enabled: true
  watch_debounce: 500ms

scan:
  poll_interval: 30s
  expiry_window: 24h

resilience:
  max_retries: 3
  backoff_base: 1s
  backoff_max: 30s
  jitter_fraction: 0.5
  failure_threshold: 3
  recovery_timeout: 60s

queue:
  max_retries: 3

telemetry:
  logging:
    level: info
    format: console
  audit:
    dir: %[1]s/Logs
`
			if configPath == "" {
				configPath = "./sentinel.yaml"
			}
			configContent := fmt.Sprintf(defaultConfig, vaultDir)
			if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Printf("✓ Created config file: %s\n", configPath)

			fmt.Printf("\n✅ Vault initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Propose an action:\n")
			fmt.Printf("     sentinel propose email --to someone@example.com --subject Hello --body 'Hi there'\n\n")
			fmt.Printf("  2. Start the watcher:\n")
			fmt.Printf("     sentinel watch --config %s\n\n", configPath)
			fmt.Printf("  3. Approve by moving records from Pending to Approved.\n\n")

			return nil
		},
	}

	cmd.Flags().StringVar(&vaultDir, "vault", "./vault", "vault root directory")

	return cmd
}
