package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the StateStore interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Connection-level setting, the DSN flag alone is not enough
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordExecution inserts the execution row for an action. A second
// insert for the same id fails; callers gate on WasExecuted first.
func (s *SQLiteStore) RecordExecution(ctx context.Context, exec *Execution) error {
	query := `
		INSERT INTO executions (action_id, action_type, result, executed_at)
		VALUES (?, ?, ?, ?)
	`

	result := exec.Result
	if result == "" {
		result = "{}"
	}

	_, err := s.db.ExecContext(ctx, query,
		exec.ActionID,
		exec.ActionType,
		result,
		exec.ExecutedAt.UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}

	return nil
}

// GetExecution retrieves an execution by action ID
func (s *SQLiteStore) GetExecution(ctx context.Context, actionID string) (*Execution, error) {
	query := `
		SELECT action_id, action_type, result, executed_at
		FROM executions
		WHERE action_id = ?
	`

	exec := &Execution{}
	err := s.db.QueryRowContext(ctx, query, actionID).Scan(
		&exec.ActionID,
		&exec.ActionType,
		&exec.Result,
		&exec.ExecutedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution not found: %s", actionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return exec, nil
}

// WasExecuted reports whether the action already has an execution row.
func (s *SQLiteStore) WasExecuted(ctx context.Context, actionID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM executions WHERE action_id = ?)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, actionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check execution: %w", err)
	}

	return exists, nil
}

// ListExecutions lists executions with pagination, newest first
func (s *SQLiteStore) ListExecutions(ctx context.Context, limit, offset int) ([]*Execution, error) {
	query := `
		SELECT action_id, action_type, result, executed_at
		FROM executions
		ORDER BY executed_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	execs := []*Execution{}
	for rows.Next() {
		exec := &Execution{}
		err := rows.Scan(
			&exec.ActionID,
			&exec.ActionType,
			&exec.Result,
			&exec.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return execs, nil
}

// Quarantine inserts or refreshes a quarantine entry. Quarantining an
// already-quarantined action updates the reason rather than failing.
func (s *SQLiteStore) Quarantine(ctx context.Context, entry *QuarantineEntry) error {
	query := `
		INSERT INTO quarantine (action_id, reason, quarantined_at)
		VALUES (?, ?, ?)
		ON CONFLICT(action_id) DO UPDATE SET
			reason = excluded.reason,
			quarantined_at = excluded.quarantined_at
	`

	at := entry.QuarantinedAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query, entry.ActionID, entry.Reason, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to quarantine action: %w", err)
	}

	return nil
}

// IsQuarantined reports whether the action is quarantined.
func (s *SQLiteStore) IsQuarantined(ctx context.Context, actionID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM quarantine WHERE action_id = ?)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, actionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check quarantine: %w", err)
	}

	return exists, nil
}

// ListQuarantined lists quarantine entries with pagination, newest first
func (s *SQLiteStore) ListQuarantined(ctx context.Context, limit, offset int) ([]*QuarantineEntry, error) {
	query := `
		SELECT action_id, reason, quarantined_at
		FROM quarantine
		ORDER BY quarantined_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list quarantine: %w", err)
	}
	defer rows.Close()

	entries := []*QuarantineEntry{}
	for rows.Next() {
		entry := &QuarantineEntry{}
		err := rows.Scan(
			&entry.ActionID,
			&entry.Reason,
			&entry.QuarantinedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quarantine entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quarantine entries: %w", err)
	}

	return entries, nil
}

// ReleaseQuarantine removes a quarantine entry so the action can be
// dispatched again after operator intervention.
func (s *SQLiteStore) ReleaseQuarantine(ctx context.Context, actionID string) error {
	query := `DELETE FROM quarantine WHERE action_id = ?`

	result, err := s.db.ExecContext(ctx, query, actionID)
	if err != nil {
		return fmt.Errorf("failed to release quarantine: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("quarantine entry not found: %s", actionID)
	}

	return nil
}

// Defer parks an approved action while its retries drain. Deferring an
// already-deferred action refreshes the entry.
func (s *SQLiteStore) Defer(ctx context.Context, d *Deferral) error {
	query := `
		INSERT INTO deferred (action_id, reason, deferred_at)
		VALUES (?, ?, ?)
		ON CONFLICT(action_id) DO UPDATE SET
			reason = excluded.reason,
			deferred_at = excluded.deferred_at
	`

	at := d.DeferredAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query, d.ActionID, d.Reason, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to defer action: %w", err)
	}

	return nil
}

// IsDeferred reports whether the action is parked.
func (s *SQLiteStore) IsDeferred(ctx context.Context, actionID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM deferred WHERE action_id = ?)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, actionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check deferral: %w", err)
	}

	return exists, nil
}

// Undefer removes the deferral. Removing a non-deferred action is a no-op.
func (s *SQLiteStore) Undefer(ctx context.Context, actionID string) error {
	query := `DELETE FROM deferred WHERE action_id = ?`

	if _, err := s.db.ExecContext(ctx, query, actionID); err != nil {
		return fmt.Errorf("failed to undefer action: %w", err)
	}

	return nil
}

// ListDeferred lists all parked actions, oldest first
func (s *SQLiteStore) ListDeferred(ctx context.Context) ([]*Deferral, error) {
	query := `
		SELECT action_id, reason, deferred_at
		FROM deferred
		ORDER BY deferred_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list deferrals: %w", err)
	}
	defer rows.Close()

	deferrals := []*Deferral{}
	for rows.Next() {
		d := &Deferral{}
		err := rows.Scan(
			&d.ActionID,
			&d.Reason,
			&d.DeferredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deferral: %w", err)
		}
		deferrals = append(deferrals, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deferrals: %w", err)
	}

	return deferrals, nil
}

// RecordCycle appends a cycle stats row
func (s *SQLiteStore) RecordCycle(ctx context.Context, rec *CycleRecord) error {
	query := `
		INSERT INTO cycles (started_at, duration_ms, expired, executed, pending, errors)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.StartedAt.UTC(),
		rec.DurationMS,
		rec.Expired,
		rec.Executed,
		rec.Pending,
		rec.Errors,
	)

	if err != nil {
		return fmt.Errorf("failed to record cycle: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get cycle ID: %w", err)
	}

	rec.ID = id
	return nil
}

// LastCycle returns the most recent cycle record, or nil when no cycle
// has completed yet.
func (s *SQLiteStore) LastCycle(ctx context.Context) (*CycleRecord, error) {
	query := `
		SELECT id, started_at, duration_ms, expired, executed, pending, errors
		FROM cycles
		ORDER BY id DESC
		LIMIT 1
	`

	rec := &CycleRecord{}
	err := s.db.QueryRowContext(ctx, query).Scan(
		&rec.ID,
		&rec.StartedAt,
		&rec.DurationMS,
		&rec.Expired,
		&rec.Executed,
		&rec.Pending,
		&rec.Errors,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last cycle: %w", err)
	}

	return rec, nil
}

// ListCycles lists cycle records with pagination, newest first
func (s *SQLiteStore) ListCycles(ctx context.Context, limit, offset int) ([]*CycleRecord, error) {
	query := `
		SELECT id, started_at, duration_ms, expired, executed, pending, errors
		FROM cycles
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	cycles := []*CycleRecord{}
	for rows.Next() {
		rec := &CycleRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.StartedAt,
			&rec.DurationMS,
			&rec.Expired,
			&rec.Executed,
			&rec.Pending,
			&rec.Errors,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		cycles = append(cycles, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycles: %w", err)
	}

	return cycles, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
