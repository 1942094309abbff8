package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sentinelops/sentinel/pkg/action"
	"github.com/sentinelops/sentinel/pkg/executor"
	"github.com/sentinelops/sentinel/pkg/policy"
	"github.com/sentinelops/sentinel/pkg/queue"
	"github.com/sentinelops/sentinel/pkg/resilience"
	"github.com/sentinelops/sentinel/pkg/stores"
	"github.com/sentinelops/sentinel/pkg/telemetry"
	"github.com/sentinelops/sentinel/pkg/vault"
)

// failingGateway simulates a payment backend that always fails.
type failingGateway struct{ err error }

func (g failingGateway) ProcessPayment(ctx context.Context, p executor.Payment) (string, error) {
	return "", g.err
}

func failingExecutor(err error) *executor.Executor {
	return executor.New(
		executor.SimulatedMail{},
		failingGateway{err: err},
		executor.SimulatedSocial{},
		executor.SimulatedMessages{},
		nil,
	)
}

// newTestScanner wires a scanner over a temp vault, a temp SQLite store,
// and a temp queue. Retry delays are collapsed so failure paths run fast.
func newTestScanner(t *testing.T, exec *executor.Executor) (*Scanner, *vault.FS) {
	t.Helper()
	dir := t.TempDir()

	repo := vault.NewFS(filepath.Join(dir, "vault"), nil)
	if err := repo.Init(); err != nil {
		t.Fatalf("vault init: %v", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(dir, "state.db")})
	if err != nil {
		t.Fatalf("store create: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("store init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("store migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	q, err := queue.New(filepath.Join(dir, "queue"), nil, nil, nil)
	if err != nil {
		t.Fatalf("queue create: %v", err)
	}

	caller := resilience.NewCaller(resilience.CallerConfig{
		FailureThreshold: 100,
		RecoveryTimeout:  time.Minute,
		Retry: resilience.RetryConfig{
			MaxRetries:  2,
			BackoffBase: time.Millisecond,
			BackoffMax:  time.Millisecond,
		},
	}, nil, nil, nil, nil)

	s := New(Deps{
		Repo:     repo,
		Store:    store,
		Executor: exec,
		Caller:   caller,
		Queue:    q,
	}, Config{
		PollInterval:    10 * time.Millisecond,
		ExpiryWindow:    24 * time.Hour,
		QueueMaxRetries: 2,
	})
	return s, repo
}

func putRecord(t *testing.T, repo *vault.FS, c vault.Container, a *action.Action) string {
	t.Helper()
	name := RecordName(a.ID)
	if err := repo.Write(context.Background(), c, name, a); err != nil {
		t.Fatalf("writing record: %v", err)
	}
	return name
}

func approvedEmail(t *testing.T) *action.Action {
	t.Helper()
	a, err := action.NewEmail("client@example.com", "Quarterly update", "Hello,\n\nAll on track.\n", "", "")
	if err != nil {
		t.Fatal(err)
	}
	a.Status = action.StatusApproved
	return a
}

func approvedPayment(t *testing.T, amount float64) *action.Action {
	t.Helper()
	a, err := action.NewPayment("Vendor Supplies Co.", amount, "USD", "Office supplies", "INV-4821", "", "")
	if err != nil {
		t.Fatal(err)
	}
	a.Status = action.StatusApproved
	return a
}

func TestRunCycleExpiresOverduePending(t *testing.T) {
	s, repo := newTestScanner(t, executor.NewSimulated(nil))
	ctx := context.Background()

	a, err := action.NewEmail("client@example.com", "Ping", "body", "", "")
	if err != nil {
		t.Fatal(err)
	}
	a.Expires = time.Now().UTC().Add(-time.Hour)
	name := putRecord(t, repo, vault.Pending, a)

	stats, err := s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if stats.Expired != 1 {
		t.Errorf("expired = %d, want 1", stats.Expired)
	}
	if repo.Exists(ctx, vault.Pending, name) {
		t.Error("expired record should leave Pending")
	}
	moved, err := repo.Read(ctx, vault.Expired, name)
	if err != nil {
		t.Fatalf("reading expired record: %v", err)
	}
	if moved.Status != action.StatusExpired {
		t.Errorf("status = %s, want expired", moved.Status)
	}

	// A second cycle finds nothing left to expire
	stats, err = s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second RunCycle() error = %v", err)
	}
	if stats.Expired != 0 {
		t.Errorf("second cycle expired = %d, want 0", stats.Expired)
	}
}

func TestRunCycleLeavesFreshPending(t *testing.T) {
	s, repo := newTestScanner(t, executor.NewSimulated(nil))
	ctx := context.Background()

	a, err := action.NewEmail("client@example.com", "Ping", "body", "", "")
	if err != nil {
		t.Fatal(err)
	}
	name := putRecord(t, repo, vault.Pending, a)

	stats, err := s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if stats.Expired != 0 {
		t.Errorf("expired = %d, want 0", stats.Expired)
	}
	if stats.Pending != 1 {
		t.Errorf("pending = %d, want 1", stats.Pending)
	}
	if !repo.Exists(ctx, vault.Pending, name) {
		t.Error("fresh record should stay in Pending")
	}
}

func TestRunCycleSkipsUnreadablePending(t *testing.T) {
	s, repo := newTestScanner(t, executor.NewSimulated(nil))
	ctx := context.Background()

	path := filepath.Join(repo.Root(), string(vault.Pending), "broken.md")
	if err := os.WriteFile(path, []byte("no header here\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stats, err := s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if stats.Errors == 0 {
		t.Error("unreadable record should count as an error")
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("unreadable record must never be moved")
	}
}

func TestRunCycleIgnoresForeignStatusInPending(t *testing.T) {
	s, repo := newTestScanner(t, executor.NewSimulated(nil))
	ctx := context.Background()

	a, err := action.NewEmail("client@example.com", "Ping", "body", "", "")
	if err != nil {
		t.Fatal(err)
	}
	a.Status = action.StatusRejected
	a.Expires = time.Now().UTC().Add(-time.Hour)
	name := putRecord(t, repo, vault.Pending, a)

	stats, err := s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if stats.Expired != 0 {
		t.Errorf("expired = %d, want 0", stats.Expired)
	}
	if !repo.Exists(ctx, vault.Pending, name) {
		t.Error("record with a terminal status must stay where it is")
	}
}

func TestRunCycleExecutesApproved(t *testing.T) {
	s, repo := newTestScanner(t, executor.NewSimulated(nil))
	ctx := context.Background()

	a := approvedEmail(t)
	name := putRecord(t, repo, vault.Approved, a)

	stats, err := s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if stats.Executed != 1 {
		t.Fatalf("executed = %d, want 1", stats.Executed)
	}

	done, err := repo.Read(ctx, vault.Done, name)
	if err != nil {
		t.Fatalf("reading archived record: %v", err)
	}
	if done.Status != action.StatusExecuted {
		t.Errorf("status = %s, want executed", done.Status)
	}
	if done.ExecutionResult == nil || done.ExecutionResult.Message != "Email to client@example.com sent successfully (simulated)" {
		t.Errorf("execution result = %+v", done.ExecutionResult)
	}

	executed, err := s.store.WasExecuted(ctx, a.ID)
	if err != nil {
		t.Fatalf("WasExecuted() error = %v", err)
	}
	if !executed {
		t.Error("ledger should record the execution")
	}
}

func TestRunCycleDoesNotDoubleDispatch(t *testing.T) {
	s, repo := newTestScanner(t, executor.NewSimulated(nil))
	ctx := context.Background()

	a := approvedEmail(t)
	name := putRecord(t, repo, vault.Approved, a)

	if _, err := s.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	// Someone re-files an approved copy of the already executed action.
	replay := approvedEmail(t)
	replay.ID = a.ID
	putRecord(t, repo, vault.Approved, replay)

	stats, err := s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second RunCycle() error = %v", err)
	}
	if stats.Executed != 0 {
		t.Errorf("executed = %d, want 0 for a replayed record", stats.Executed)
	}
	if !repo.Exists(ctx, vault.Approved, name) {
		t.Error("replayed record should be ignored, not moved")
	}
}

func TestRunCycleDefersTransientFailure(t *testing.T) {
	s, repo := newTestScanner(t, failingExecutor(errors.New("gateway timeout")))
	ctx := context.Background()

	a := approvedPayment(t, 120)
	name := putRecord(t, repo, vault.Approved, a)

	stats, err := s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if stats.Deferred != 1 {
		t.Errorf("deferred = %d, want 1", stats.Deferred)
	}
	if stats.Executed != 0 {
		t.Errorf("executed = %d, want 0", stats.Executed)
	}
	if !repo.Exists(ctx, vault.Approved, name) {
		t.Error("deferred record must stay in Approved")
	}
	if s.queue.Size() != 1 {
		t.Errorf("queue size = %d, want 1", s.queue.Size())
	}
	deferred, err := s.store.IsDeferred(ctx, a.ID)
	if err != nil {
		t.Fatalf("IsDeferred() error = %v", err)
	}
	if !deferred {
		t.Error("action should carry a deferral mark")
	}

	// The next cycle skips the deferred record and queues nothing new
	stats, err = s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second RunCycle() error = %v", err)
	}
	if stats.Deferred != 0 || stats.Executed != 0 {
		t.Errorf("second cycle stats = %+v, want the record skipped", stats)
	}
	if s.queue.Size() != 1 {
		t.Errorf("queue size = %d, want still 1", s.queue.Size())
	}
}

func TestRunCycleQuarantinesAuthFailure(t *testing.T) {
	s, repo := newTestScanner(t, failingExecutor(errors.New("invalid credentials")))
	ctx := context.Background()

	a := approvedPayment(t, 120)
	name := putRecord(t, repo, vault.Approved, a)

	stats, err := s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if stats.Quarantined != 1 {
		t.Errorf("quarantined = %d, want 1", stats.Quarantined)
	}
	if s.queue.Size() != 0 {
		t.Errorf("queue size = %d, want 0 for a non-retryable failure", s.queue.Size())
	}

	quarantined, err := s.store.IsQuarantined(ctx, a.ID)
	if err != nil {
		t.Fatalf("IsQuarantined() error = %v", err)
	}
	if !quarantined {
		t.Error("action should be quarantined")
	}

	stamped, err := repo.Read(ctx, vault.Approved, name)
	if err != nil {
		t.Fatalf("reading stamped record: %v", err)
	}
	found := false
	for _, f := range stamped.Flags {
		if strings.HasPrefix(f, "FLAGGED: execution failed (auth):") && strings.Contains(f, "invalid credentials") {
			found = true
		}
	}
	if !found {
		t.Errorf("flags = %v, want the failure flag", stamped.Flags)
	}
	if stamped.ExecutionResult == nil || stamped.ExecutionResult.Status != "failed" {
		t.Errorf("execution result = %+v, want a failed result", stamped.ExecutionResult)
	}

	// Later cycles skip the quarantined record
	stats, err = s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second RunCycle() error = %v", err)
	}
	if stats.Quarantined != 0 && stats.Errors != 0 {
		t.Errorf("second cycle stats = %+v, want the record skipped", stats)
	}
}

func TestRunCycleMergesReviewBeforeExecution(t *testing.T) {
	s, repo := newTestScanner(t, executor.NewSimulated(nil))
	engine, err := policy.NewEngine(nil)
	if err != nil {
		t.Fatalf("policy engine: %v", err)
	}
	s.reviews = engine
	ctx := context.Background()

	a := approvedPayment(t, 750)
	a.Flags = nil
	name := putRecord(t, repo, vault.Approved, a)

	stats, err := s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if stats.Executed != 1 {
		t.Fatalf("executed = %d, want 1", stats.Executed)
	}

	done, err := repo.Read(ctx, vault.Done, name)
	if err != nil {
		t.Fatalf("reading archived record: %v", err)
	}
	found := false
	for _, f := range done.Flags {
		if f == action.PaymentFlagText {
			found = true
		}
	}
	if !found {
		t.Errorf("flags = %v, want the handbook payment flag", done.Flags)
	}
	if done.Reasoning == "" {
		t.Error("review should fill in the reasoning")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _ := newTestScanner(t, executor.NewSimulated(nil))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx, nil) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancellation")
	}
}

func TestRunFinishesCycleAfterCancel(t *testing.T) {
	s, repo := newTestScanner(t, executor.NewSimulated(nil))

	a, err := action.NewEmail("client@example.com", "Ping", "body", "", "")
	if err != nil {
		t.Fatal(err)
	}
	a.Expires = time.Now().UTC().Add(-time.Hour)
	name := putRecord(t, repo, vault.Pending, a)

	// Cancellation only takes effect at the wait between cycles, so the
	// overdue record is still expired by the first scan.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if repo.Exists(context.Background(), vault.Pending, name) {
		t.Error("cycle work must complete before Run honors the cancellation")
	}
	if !repo.Exists(context.Background(), vault.Expired, name) {
		t.Error("overdue record should have been moved to Expired")
	}
}

func TestRunCycleStampsTraceIDOnAudit(t *testing.T) {
	s, repo := newTestScanner(t, executor.NewSimulated(nil))

	auditDir := t.TempDir()
	audit, err := telemetry.NewAudit(telemetry.AuditConfig{Dir: auditDir}, nil)
	if err != nil {
		t.Fatalf("NewAudit() error = %v", err)
	}
	tracer, err := telemetry.NewTracer(telemetry.TracingConfig{
		Enabled:      true,
		Exporter:     "none",
		SamplingRate: 1,
	}, "sentinel-test", "dev", "test")
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	defer tracer.Shutdown(context.Background())
	s.audit = audit
	s.tracer = tracer

	putRecord(t, repo, vault.Approved, approvedEmail(t))
	if _, err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	entries, err := os.ReadDir(auditDir)
	if err != nil || len(entries) == 0 {
		t.Fatalf("no audit file written: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(auditDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var entry struct {
			Event   string `json:"event"`
			TraceID string `json:"trace_id"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("bad audit line %q: %v", line, err)
		}
		if entry.Event == "cycle_completed" {
			found = true
			if entry.TraceID == "" {
				t.Error("cycle_completed entry has no trace id")
			}
		}
	}
	if !found {
		t.Error("no cycle_completed entry in the audit trail")
	}
}
