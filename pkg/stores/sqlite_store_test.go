package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a migrated SQLite store backed by a temp file
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "state.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "state.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty database path")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := setupTestStore(t)

	// A second run must be a no-op, not an error
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestRecordAndGetExecution(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	exec := &Execution{
		ActionID:   "payment_1756000000_abc123",
		ActionType: "payment",
		Result:     `{"status":"success"}`,
		ExecutedAt: time.Now().UTC(),
	}

	if err := store.RecordExecution(ctx, exec); err != nil {
		t.Fatalf("RecordExecution() error = %v", err)
	}

	got, err := store.GetExecution(ctx, exec.ActionID)
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if got.ActionType != "payment" || got.Result != exec.Result {
		t.Errorf("GetExecution() = %+v, want %+v", got, exec)
	}
}

func TestWasExecuted(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	done, err := store.WasExecuted(ctx, "email_1756000000_abc123")
	if err != nil {
		t.Fatalf("WasExecuted() error = %v", err)
	}
	if done {
		t.Error("unseen action should not be executed")
	}

	exec := &Execution{
		ActionID:   "email_1756000000_abc123",
		ActionType: "email",
		ExecutedAt: time.Now().UTC(),
	}
	if err := store.RecordExecution(ctx, exec); err != nil {
		t.Fatalf("RecordExecution() error = %v", err)
	}

	done, err = store.WasExecuted(ctx, exec.ActionID)
	if err != nil {
		t.Fatalf("WasExecuted() error = %v", err)
	}
	if !done {
		t.Error("recorded action should report executed")
	}
}

func TestRecordExecutionRejectsDuplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	exec := &Execution{
		ActionID:   "email_1756000000_abc123",
		ActionType: "email",
		ExecutedAt: time.Now().UTC(),
	}
	if err := store.RecordExecution(ctx, exec); err != nil {
		t.Fatalf("RecordExecution() error = %v", err)
	}

	if err := store.RecordExecution(ctx, exec); err == nil {
		t.Error("duplicate execution row should be rejected")
	}
}

func TestListExecutions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		exec := &Execution{
			ActionID:   "general_175600000" + id,
			ActionType: "general",
			ExecutedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.RecordExecution(ctx, exec); err != nil {
			t.Fatalf("RecordExecution() error = %v", err)
		}
	}

	execs, err := store.ListExecutions(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("ListExecutions() returned %d rows, want 2", len(execs))
	}
	// Newest first
	if execs[0].ActionID != "general_175600000c" {
		t.Errorf("first row = %s, want the newest execution", execs[0].ActionID)
	}
}

func TestQuarantineRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	id := "payment_1756000000_abc123"

	quarantined, err := store.IsQuarantined(ctx, id)
	if err != nil {
		t.Fatalf("IsQuarantined() error = %v", err)
	}
	if quarantined {
		t.Error("unseen action should not be quarantined")
	}

	entry := &QuarantineEntry{ActionID: id, Reason: "auth failure during dispatch"}
	if err := store.Quarantine(ctx, entry); err != nil {
		t.Fatalf("Quarantine() error = %v", err)
	}

	quarantined, err = store.IsQuarantined(ctx, id)
	if err != nil {
		t.Fatalf("IsQuarantined() error = %v", err)
	}
	if !quarantined {
		t.Error("action should be quarantined")
	}

	entries, err := store.ListQuarantined(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListQuarantined() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Reason != "auth failure during dispatch" {
		t.Errorf("ListQuarantined() = %+v", entries)
	}
}

func TestQuarantineIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	id := "payment_1756000000_abc123"

	if err := store.Quarantine(ctx, &QuarantineEntry{ActionID: id, Reason: "first"}); err != nil {
		t.Fatalf("Quarantine() error = %v", err)
	}
	if err := store.Quarantine(ctx, &QuarantineEntry{ActionID: id, Reason: "second"}); err != nil {
		t.Fatalf("second Quarantine() error = %v", err)
	}

	entries, err := store.ListQuarantined(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListQuarantined() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Reason != "second" {
		t.Errorf("ListQuarantined() = %+v, want one entry with the refreshed reason", entries)
	}
}

func TestReleaseQuarantine(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	id := "payment_1756000000_abc123"

	if err := store.Quarantine(ctx, &QuarantineEntry{ActionID: id, Reason: "x"}); err != nil {
		t.Fatalf("Quarantine() error = %v", err)
	}
	if err := store.ReleaseQuarantine(ctx, id); err != nil {
		t.Fatalf("ReleaseQuarantine() error = %v", err)
	}

	quarantined, err := store.IsQuarantined(ctx, id)
	if err != nil {
		t.Fatalf("IsQuarantined() error = %v", err)
	}
	if quarantined {
		t.Error("released action should not be quarantined")
	}

	if err := store.ReleaseQuarantine(ctx, id); err == nil {
		t.Error("releasing an absent entry should fail")
	}
}

func TestDeferralRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	id := "email_1756000000_abc123"

	if err := store.Defer(ctx, &Deferral{ActionID: id, Reason: "retries draining"}); err != nil {
		t.Fatalf("Defer() error = %v", err)
	}

	deferred, err := store.IsDeferred(ctx, id)
	if err != nil {
		t.Fatalf("IsDeferred() error = %v", err)
	}
	if !deferred {
		t.Error("action should be deferred")
	}

	deferrals, err := store.ListDeferred(ctx)
	if err != nil {
		t.Fatalf("ListDeferred() error = %v", err)
	}
	if len(deferrals) != 1 || deferrals[0].ActionID != id {
		t.Errorf("ListDeferred() = %+v", deferrals)
	}

	if err := store.Undefer(ctx, id); err != nil {
		t.Fatalf("Undefer() error = %v", err)
	}
	deferred, err = store.IsDeferred(ctx, id)
	if err != nil {
		t.Fatalf("IsDeferred() error = %v", err)
	}
	if deferred {
		t.Error("undeferred action should not be deferred")
	}

	// Undefer of an absent entry is a no-op
	if err := store.Undefer(ctx, id); err != nil {
		t.Errorf("Undefer() on absent entry error = %v", err)
	}
}

func TestCycleRecords(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	last, err := store.LastCycle(ctx)
	if err != nil {
		t.Fatalf("LastCycle() error = %v", err)
	}
	if last != nil {
		t.Errorf("LastCycle() before any cycle = %+v, want nil", last)
	}

	first := &CycleRecord{
		StartedAt:  time.Now().UTC(),
		DurationMS: 120,
		Expired:    1,
		Executed:   2,
		Pending:    3,
	}
	if err := store.RecordCycle(ctx, first); err != nil {
		t.Fatalf("RecordCycle() error = %v", err)
	}
	if first.ID == 0 {
		t.Error("RecordCycle() should backfill the row id")
	}

	second := &CycleRecord{
		StartedAt: time.Now().UTC(),
		Executed:  1,
		Errors:    1,
	}
	if err := store.RecordCycle(ctx, second); err != nil {
		t.Fatalf("RecordCycle() error = %v", err)
	}

	last, err = store.LastCycle(ctx)
	if err != nil {
		t.Fatalf("LastCycle() error = %v", err)
	}
	if last == nil || last.ID != second.ID {
		t.Errorf("LastCycle() = %+v, want the second record", last)
	}
	if last.Errors != 1 {
		t.Errorf("last cycle errors = %d, want 1", last.Errors)
	}

	cycles, err := store.ListCycles(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListCycles() error = %v", err)
	}
	if len(cycles) != 2 || cycles[0].ID != second.ID {
		t.Errorf("ListCycles() = %+v, want 2 rows newest first", cycles)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	exec := &Execution{
		ActionID:   "email_1756000000_abc123",
		ActionType: "email",
		ExecutedAt: time.Now().UTC(),
	}
	if err := store.RecordExecution(ctx, exec); err != nil {
		t.Fatalf("RecordExecution() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to recreate store: %v", err)
	}
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	done, err := reopened.WasExecuted(ctx, exec.ActionID)
	if err != nil {
		t.Fatalf("WasExecuted() after reopen error = %v", err)
	}
	if !done {
		t.Error("execution row should survive a reopen")
	}
}
