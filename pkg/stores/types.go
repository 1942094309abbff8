package stores

import (
	"context"
	"time"
)

// Execution records a completed dispatch. One row per action id makes
// approvals idempotent: a record that reappears in Approved after
// execution is ignored.
type Execution struct {
	ActionID   string    `json:"action_id"`
	ActionType string    `json:"action_type"`
	Result     string    `json:"result"` // JSON blob
	ExecutedAt time.Time `json:"executed_at"`
}

// QuarantineEntry marks an action whose dispatch failed without a retry
// path. Quarantined actions are never dispatched again.
type QuarantineEntry struct {
	ActionID      string    `json:"action_id"`
	Reason        string    `json:"reason"`
	QuarantinedAt time.Time `json:"quarantined_at"`
}

// Deferral parks an approved action while its dispatch retries drain
// through the durable queue.
type Deferral struct {
	ActionID   string    `json:"action_id"`
	Reason     string    `json:"reason"`
	DeferredAt time.Time `json:"deferred_at"`
}

// CycleRecord captures the outcome of one scan cycle.
type CycleRecord struct {
	ID        int64     `json:"id"`
	StartedAt time.Time `json:"started_at"`
	// DurationMS is the cycle wall time in milliseconds.
	DurationMS int64 `json:"duration_ms"`
	Expired    int   `json:"expired"`
	Executed   int   `json:"executed"`
	Pending    int   `json:"pending"`
	Errors     int   `json:"errors"`
}

// StateStore defines the interface for the lifecycle persistence layer.
type StateStore interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Execution operations
	RecordExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, actionID string) (*Execution, error)
	WasExecuted(ctx context.Context, actionID string) (bool, error)
	ListExecutions(ctx context.Context, limit, offset int) ([]*Execution, error)

	// Quarantine operations
	Quarantine(ctx context.Context, entry *QuarantineEntry) error
	IsQuarantined(ctx context.Context, actionID string) (bool, error)
	ListQuarantined(ctx context.Context, limit, offset int) ([]*QuarantineEntry, error)
	ReleaseQuarantine(ctx context.Context, actionID string) error

	// Deferral operations
	Defer(ctx context.Context, d *Deferral) error
	IsDeferred(ctx context.Context, actionID string) (bool, error)
	Undefer(ctx context.Context, actionID string) error
	ListDeferred(ctx context.Context) ([]*Deferral, error)

	// Cycle operations
	RecordCycle(ctx context.Context, rec *CycleRecord) error
	LastCycle(ctx context.Context) (*CycleRecord, error)
	ListCycles(ctx context.Context, limit, offset int) ([]*CycleRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
