package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sentinelops/sentinel/pkg/config"
	"github.com/sentinelops/sentinel/pkg/executor"
	"github.com/sentinelops/sentinel/pkg/lifecycle"
	"github.com/sentinelops/sentinel/pkg/policy"
	"github.com/sentinelops/sentinel/pkg/queue"
	"github.com/sentinelops/sentinel/pkg/resilience"
	"github.com/sentinelops/sentinel/pkg/stores"
	"github.com/sentinelops/sentinel/pkg/telemetry"
	"github.com/sentinelops/sentinel/pkg/vault"
)

// PolicyOverlayDir is the vault subdirectory holding operator-supplied
// rego policies layered over the builtin handbook rules.
const PolicyOverlayDir = "Policies"

// app bundles the wired process: configuration, telemetry, and every
// lifecycle collaborator. Commands build one, use it, and close it.
type app struct {
	cfg     *config.AppConfig
	tel     *telemetry.Telemetry
	repo    *vault.FS
	store   *stores.SQLiteStore
	queue   *queue.Queue
	engine  *policy.Engine
	caller  *resilience.Caller
	scanner *lifecycle.Scanner
}

// buildApp loads the configuration and wires the full stack against it.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	repo := vault.NewFS(cfg.Vault.Dir, tel.Logger)
	if err := repo.Init(); err != nil {
		return nil, err
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.State.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}

	q, err := queue.New(cfg.Queue.Dir, tel.Audit.Component("queue"), tel.Metrics, tel.Events)
	if err != nil {
		return nil, err
	}

	engine, err := policy.NewEngine(tel.Logger)
	if err != nil {
		return nil, err
	}
	if err := engine.LoadDirectory(ctx, filepath.Join(cfg.Vault.Dir, PolicyOverlayDir)); err != nil {
		return nil, err
	}

	caller := resilience.NewCaller(cfg.CallerConfig(), tel.Audit.Component("resilience"), tel.Tracer, tel.Metrics, tel.Events)

	scanner := lifecycle.New(lifecycle.Deps{
		Repo:     repo,
		Store:    store,
		Executor: executor.NewSimulated(tel.Logger),
		Policy:   engine,
		Caller:   caller,
		Queue:    q,
		Audit:    tel.Audit.Component("lifecycle"),
		Tracer:   tel.Tracer,
		Metrics:  tel.Metrics,
		Events:   tel.Events,
		Logger:   tel.Logger,
	}, lifecycle.Config{
		PollInterval:    cfg.Scan.PollInterval,
		ExpiryWindow:    cfg.Scan.ExpiryWindow,
		QueueMaxRetries: cfg.Queue.MaxRetries,
	})

	return &app{
		cfg:     cfg,
		tel:     tel,
		repo:    repo,
		store:   store,
		queue:   q,
		engine:  engine,
		caller:  caller,
		scanner: scanner,
	}, nil
}

// Close releases the app's resources in reverse wiring order.
func (a *app) Close(ctx context.Context) {
	_ = a.store.Close()
	_ = a.tel.Shutdown(ctx)
}
