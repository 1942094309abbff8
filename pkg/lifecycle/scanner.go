// Package lifecycle drives the approval state machine over the vault: it
// expires overdue pending records, dispatches approved ones through the
// resilience layer, and reconciles the durable retry queue. Every cycle
// is idempotent; the execution ledger in the state store is the gate that
// prevents double dispatch.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sentinelops/sentinel/pkg/action"
	"github.com/sentinelops/sentinel/pkg/errclass"
	"github.com/sentinelops/sentinel/pkg/executor"
	"github.com/sentinelops/sentinel/pkg/policy"
	"github.com/sentinelops/sentinel/pkg/queue"
	"github.com/sentinelops/sentinel/pkg/resilience"
	"github.com/sentinelops/sentinel/pkg/stores"
	"github.com/sentinelops/sentinel/pkg/telemetry"
	"github.com/sentinelops/sentinel/pkg/vault"
)

// TaskTypeDispatchRetry marks queue tasks created for approved actions
// whose dispatch failed transiently.
const TaskTypeDispatchRetry = "dispatch_retry"

// RecordName maps an action id to its vault file name.
func RecordName(id string) string {
	return id + ".md"
}

// Config tunes the scanner.
type Config struct {
	// PollInterval is the time between scan cycles in Run.
	PollInterval time.Duration

	// ExpiryWindow is the fallback approval deadline for pending records
	// without an explicit expiry.
	ExpiryWindow time.Duration

	// QueueMaxRetries caps redispatch attempts before dead-lettering.
	QueueMaxRetries int
}

// DefaultConfig returns the standard scanner policy.
func DefaultConfig() Config {
	return Config{
		PollInterval:    30 * time.Second,
		ExpiryWindow:    24 * time.Hour,
		QueueMaxRetries: 3,
	}
}

// Deps collects the scanner's collaborators. Policy, Queue, Audit,
// Metrics, Events, and Logger may be nil; Caller defaults when nil.
type Deps struct {
	Repo     vault.Repository
	Store    stores.StateStore
	Executor *executor.Executor
	Policy   *policy.Engine
	Caller   *resilience.Caller
	Queue    *queue.Queue
	Audit    *telemetry.Audit
	Tracer   *telemetry.Tracer
	Metrics  *telemetry.Metrics
	Events   *telemetry.EventPublisher
	Logger   *telemetry.Logger
}

// CycleStats summarizes one scan cycle.
type CycleStats struct {
	Cycle       uint64        `json:"cycle"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Expired     int           `json:"expired"`
	Executed    int           `json:"executed"`
	Deferred    int           `json:"deferred"`
	Quarantined int           `json:"quarantined"`
	Pending     int           `json:"pending"`
	Errors      int           `json:"errors"`
}

// Scanner runs the approval lifecycle over one vault.
type Scanner struct {
	repo    vault.Repository
	store   stores.StateStore
	exec    *executor.Executor
	reviews *policy.Engine
	caller  *resilience.Caller
	queue   *queue.Queue
	audit   *telemetry.Audit
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	log     *telemetry.Logger
	cfg     Config

	now   func() time.Time
	cycle uint64
}

// New creates a scanner. Panics when Repo, Store, or Executor is missing;
// everything else degrades gracefully.
func New(deps Deps, cfg Config) *Scanner {
	if deps.Repo == nil || deps.Store == nil || deps.Executor == nil {
		panic("lifecycle: repo, store, and executor are required")
	}
	log := deps.Logger
	if log == nil {
		log = telemetry.NewNopLogger()
	}
	caller := deps.Caller
	if caller == nil {
		caller = resilience.NewCaller(resilience.DefaultCallerConfig(), deps.Audit, deps.Tracer, deps.Metrics, deps.Events)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = DefaultConfig().ExpiryWindow
	}
	if cfg.QueueMaxRetries <= 0 {
		cfg.QueueMaxRetries = DefaultConfig().QueueMaxRetries
	}
	return &Scanner{
		repo:    deps.Repo,
		store:   deps.Store,
		exec:    deps.Executor,
		reviews: deps.Policy,
		caller:  caller,
		queue:   deps.Queue,
		audit:   deps.Audit,
		tracer:  deps.Tracer,
		metrics: deps.Metrics,
		events:  deps.Events,
		log:     log.NewComponentLogger("lifecycle"),
		cfg:     cfg,
		now:     time.Now,
	}
}

// RunCycle performs one full scan: expire overdue pending records,
// dispatch approved ones, then count what remains. Each cycle runs
// inside its own span; audit entries written during the cycle carry
// its trace id.
func (s *Scanner) RunCycle(ctx context.Context) (CycleStats, error) {
	num := atomic.AddUint64(&s.cycle, 1)
	if s.tracer == nil {
		return s.runCycle(ctx, num)
	}

	ctx, span := s.tracer.StartCycleSpan(ctx, num)
	defer span.End()

	stats, err := s.runCycle(ctx, num)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	return stats, err
}

func (s *Scanner) runCycle(ctx context.Context, num uint64) (CycleStats, error) {
	start := s.now()
	stats := CycleStats{Cycle: num, StartedAt: start.UTC()}

	log := s.log.WithCycle(num)
	log.Debug("scan cycle started")

	if err := s.expirePending(ctx, &stats); err != nil {
		return stats, err
	}
	if err := s.executeApproved(ctx, &stats); err != nil {
		return stats, err
	}

	pending, err := s.repo.List(ctx, vault.Pending)
	if err != nil {
		return stats, err
	}
	stats.Pending = len(pending)

	if s.metrics != nil {
		s.metrics.SetPendingActions(float64(stats.Pending))
		if approved, err := s.repo.List(ctx, vault.Approved); err == nil {
			s.metrics.SetApprovedActions(float64(len(approved)))
		}
		stats.Duration = s.now().Sub(start)
		s.metrics.RecordCycle(stats.Duration)
	}
	stats.Duration = s.now().Sub(start)

	if err := s.store.RecordCycle(ctx, &stores.CycleRecord{
		StartedAt:  stats.StartedAt,
		DurationMS: stats.Duration.Milliseconds(),
		Expired:    stats.Expired,
		Executed:   stats.Executed,
		Pending:    stats.Pending,
		Errors:     stats.Errors,
	}); err != nil {
		log.WithError(err).Error("failed to persist cycle record")
	}

	if s.events != nil {
		_ = s.events.PublishCycleCompleted(num, stats.Expired, stats.Executed, stats.Pending, stats.Duration)
	}
	if s.audit != nil {
		s.audit.Info(ctx, telemetry.CategoryLifecycle, "cycle_completed",
			fmt.Sprintf("cycle %d: %d expired, %d executed, %d pending", num, stats.Expired, stats.Executed, stats.Pending),
			map[string]interface{}{
				"cycle":    num,
				"expired":  stats.Expired,
				"executed": stats.Executed,
				"pending":  stats.Pending,
				"errors":   stats.Errors,
			})
	}
	return stats, nil
}

// expirePending moves overdue pending records to Expired. Records whose
// header cannot be decoded are counted as errors and left in place.
func (s *Scanner) expirePending(ctx context.Context, stats *CycleStats) error {
	names, err := s.repo.List(ctx, vault.Pending)
	if err != nil {
		return err
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}

		a, err := s.repo.Read(ctx, vault.Pending, name)
		if err != nil {
			stats.Errors++
			s.auditError(ctx, "record_unreadable",
				fmt.Sprintf("skipping unreadable pending record %s", name),
				map[string]interface{}{"record": name, "error": err.Error()})
			continue
		}

		if !a.IsExpired(s.now(), s.cfg.ExpiryWindow) {
			continue
		}
		if !action.CanTransition(a.Status, action.StatusExpired) {
			s.auditWarning(ctx, "invalid_transition",
				fmt.Sprintf("pending record %s has status %s, cannot expire", a.ID, a.Status),
				map[string]interface{}{"action_id": a.ID, "status": string(a.Status)})
			continue
		}

		a.Status = action.StatusExpired
		if err := s.repo.Write(ctx, vault.Pending, name, a); err != nil {
			stats.Errors++
			s.auditError(ctx, "expire_write_failed",
				fmt.Sprintf("failed to stamp expiry on %s", a.ID),
				map[string]interface{}{"action_id": a.ID, "error": err.Error()})
			continue
		}
		if err := s.repo.Move(ctx, name, vault.Pending, vault.Expired); err != nil {
			stats.Errors++
			s.auditError(ctx, "expire_move_failed",
				fmt.Sprintf("failed to move %s to Expired", a.ID),
				map[string]interface{}{"action_id": a.ID, "error": err.Error()})
			continue
		}

		stats.Expired++
		if s.metrics != nil {
			s.metrics.RecordActionExpired()
			s.metrics.RecordTransition(string(vault.Pending), string(vault.Expired))
		}
		if s.events != nil {
			_ = s.events.PublishActionExpired(a.ID, s.deadline(a))
		}
		if s.audit != nil {
			s.audit.Info(ctx, telemetry.CategoryLifecycle, "action_expired",
				fmt.Sprintf("action %s expired without approval", a.ID),
				map[string]interface{}{"action_id": a.ID, "action_type": string(a.Type)})
		}
	}
	return nil
}

// executeApproved dispatches every actionable record in Approved.
func (s *Scanner) executeApproved(ctx context.Context, stats *CycleStats) error {
	names, err := s.repo.List(ctx, vault.Approved)
	if err != nil {
		return err
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}

		a, err := s.repo.Read(ctx, vault.Approved, name)
		if err != nil {
			stats.Errors++
			s.auditError(ctx, "record_unreadable",
				fmt.Sprintf("skipping unreadable approved record %s", name),
				map[string]interface{}{"record": name, "error": err.Error()})
			continue
		}

		if a.Status != action.StatusApproved {
			s.auditWarning(ctx, "invalid_transition",
				fmt.Sprintf("record %s in Approved has status %s, ignoring", a.ID, a.Status),
				map[string]interface{}{"action_id": a.ID, "status": string(a.Status)})
			continue
		}

		done, err := s.store.WasExecuted(ctx, a.ID)
		if err != nil {
			stats.Errors++
			s.auditError(ctx, "ledger_unavailable",
				fmt.Sprintf("cannot check execution ledger for %s", a.ID),
				map[string]interface{}{"action_id": a.ID, "error": err.Error()})
			continue
		}
		if done {
			s.auditWarning(ctx, "duplicate_approval",
				fmt.Sprintf("action %s was already executed, record ignored", a.ID),
				map[string]interface{}{"action_id": a.ID})
			continue
		}

		if skip, err := s.store.IsQuarantined(ctx, a.ID); err == nil && skip {
			s.log.WithActionID(a.ID).Debug("skipping quarantined action")
			continue
		}
		if skip, err := s.store.IsDeferred(ctx, a.ID); err == nil && skip {
			s.log.WithActionID(a.ID).Debug("skipping deferred action, queue owns it")
			continue
		}

		s.applyReview(ctx, a)
		s.dispatch(ctx, name, a, stats)
	}
	return nil
}

// applyReview merges the handbook review into the record. A review
// failure never blocks dispatch.
func (s *Scanner) applyReview(ctx context.Context, a *action.Action) {
	if s.reviews == nil {
		return
	}
	rev, err := s.reviews.Review(ctx, a)
	if err != nil || rev == nil {
		return
	}
	for _, flag := range rev.Flags {
		a.AddFlag(flag)
		if s.events != nil {
			_ = s.events.PublishPolicyFlag(a.ID, "handbook", flag)
		}
	}
	if rev.Reasoning != "" {
		a.Reasoning = rev.Reasoning
	}
}

// dispatch runs one approved action through the resilience layer and
// applies the outcome: archive on success, defer on transient failure,
// quarantine on anything else.
func (s *Scanner) dispatch(ctx context.Context, name string, a *action.Action, stats *CycleStats) {
	start := s.now()
	outcome := s.caller.Execute(ctx, resilience.ExecRequest{
		Name:    "dispatch_" + string(a.Type),
		Circuit: string(a.Type),
		Fn: func(ctx context.Context) (interface{}, error) {
			return s.exec.Execute(ctx, a)
		},
	})
	if s.metrics != nil {
		s.metrics.RecordDispatch(string(a.Type), s.now().Sub(start))
	}

	if outcome.OK {
		result, ok := outcome.Result.(*action.ExecutionResult)
		if !ok {
			result = &action.ExecutionResult{Status: "success", Type: a.Type}
		}
		s.complete(ctx, vault.Approved, name, a, result, stats)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordDispatchError(string(a.Type))
	}
	stats.Errors++

	category := errclass.Classify(outcome.Err)
	if category == errclass.CategoryTransient && s.queue != nil {
		s.deferDispatch(ctx, name, a, outcome.Err, stats)
		return
	}
	s.quarantine(ctx, vault.Approved, name, a, outcome.Err, category, stats)
}

// complete archives a successfully executed action. The ledger row is
// written first so a crash between steps can never cause a second
// dispatch.
func (s *Scanner) complete(ctx context.Context, c vault.Container, name string, a *action.Action, result *action.ExecutionResult, stats *CycleStats) {
	at := s.now().UTC()
	a.MarkExecuted(result, at)

	resultJSON, err := json.Marshal(result)
	if err != nil {
		resultJSON = []byte("{}")
	}
	if err := s.store.RecordExecution(ctx, &stores.Execution{
		ActionID:   a.ID,
		ActionType: string(a.Type),
		Result:     string(resultJSON),
		ExecutedAt: at,
	}); err != nil {
		s.auditError(ctx, "ledger_write_failed",
			fmt.Sprintf("executed %s but could not record it", a.ID),
			map[string]interface{}{"action_id": a.ID, "error": err.Error()})
	}
	_ = s.store.Undefer(ctx, a.ID)

	if err := s.repo.Write(ctx, c, name, a); err != nil {
		stats.Errors++
		s.auditError(ctx, "archive_write_failed",
			fmt.Sprintf("executed %s but could not rewrite its header", a.ID),
			map[string]interface{}{"action_id": a.ID, "error": err.Error()})
		return
	}
	if err := s.repo.Move(ctx, name, c, vault.Done); err != nil {
		stats.Errors++
		s.auditError(ctx, "archive_move_failed",
			fmt.Sprintf("executed %s but could not archive it", a.ID),
			map[string]interface{}{"action_id": a.ID, "error": err.Error()})
		return
	}

	stats.Executed++
	if s.metrics != nil {
		s.metrics.RecordActionExecuted(string(a.Type), "success")
		s.metrics.RecordTransition(string(c), string(vault.Done))
	}
	if s.events != nil {
		_ = s.events.PublishActionExecuted(a.ID, string(a.Type), s.now().Sub(at))
	}
	if s.audit != nil {
		s.audit.AuditTrail(ctx, "action_executed",
			fmt.Sprintf("action %s executed and archived", a.ID),
			map[string]interface{}{
				"action_id":   a.ID,
				"action_type": string(a.Type),
				"result":      result.Message,
			})
	}
}

// deferDispatch hands a transiently failed action to the durable queue.
// The record stays in Approved; the deferral mark keeps the scanner from
// re-dispatching it while the queue drains.
func (s *Scanner) deferDispatch(ctx context.Context, name string, a *action.Action, cause error, stats *CycleStats) {
	payload, err := json.Marshal(retryPayload{
		ActionID: a.ID,
		Record:   name,
		Type:     string(a.Type),
	})
	if err != nil {
		s.quarantine(ctx, vault.Approved, name, a, cause, errclass.CategoryTransient, stats)
		return
	}

	err = s.queue.Enqueue(ctx, queue.Task{
		ID:         a.ID,
		Type:       TaskTypeDispatchRetry,
		Payload:    payload,
		Reason:     cause.Error(),
		MaxRetries: s.cfg.QueueMaxRetries,
	})
	if err != nil && !errors.Is(err, queue.ErrDuplicateTask) {
		s.auditError(ctx, "enqueue_failed",
			fmt.Sprintf("could not queue retry for %s", a.ID),
			map[string]interface{}{"action_id": a.ID, "error": err.Error()})
		return
	}

	if err := s.store.Defer(ctx, &stores.Deferral{ActionID: a.ID, Reason: cause.Error()}); err != nil {
		s.auditError(ctx, "defer_mark_failed",
			fmt.Sprintf("could not mark %s deferred", a.ID),
			map[string]interface{}{"action_id": a.ID, "error": err.Error()})
	}

	stats.Deferred++
	s.auditWarning(ctx, "dispatch_deferred",
		fmt.Sprintf("dispatch of %s failed transiently, queued for retry", a.ID),
		map[string]interface{}{"action_id": a.ID, "error": cause.Error()})
}

// quarantine marks an action as needing manual remediation. The record
// keeps its container but carries the failure in its header, and the
// quarantine mark makes every later cycle skip it.
func (s *Scanner) quarantine(ctx context.Context, c vault.Container, name string, a *action.Action, cause error, category errclass.Category, stats *CycleStats) {
	a.AddFlag(fmt.Sprintf("FLAGGED: execution failed (%s): %v", category, cause))
	a.ExecutionResult = &action.ExecutionResult{
		Status:  "failed",
		Type:    a.Type,
		Message: cause.Error(),
	}
	if err := s.repo.Write(ctx, c, name, a); err != nil {
		s.auditError(ctx, "quarantine_write_failed",
			fmt.Sprintf("could not stamp failure on %s", a.ID),
			map[string]interface{}{"action_id": a.ID, "error": err.Error()})
	}

	if err := s.store.Quarantine(ctx, &stores.QuarantineEntry{ActionID: a.ID, Reason: cause.Error()}); err != nil {
		s.auditError(ctx, "quarantine_mark_failed",
			fmt.Sprintf("could not mark %s quarantined", a.ID),
			map[string]interface{}{"action_id": a.ID, "error": err.Error()})
		return
	}
	_ = s.store.Undefer(ctx, a.ID)

	stats.Quarantined++
	if s.metrics != nil {
		s.metrics.RecordActionExecuted(string(a.Type), "failed")
	}
	if s.events != nil {
		_ = s.events.PublishActionQuarantined(a.ID, cause.Error())
	}
	if s.audit != nil {
		s.audit.Error(ctx, telemetry.CategoryLifecycle, "action_quarantined",
			fmt.Sprintf("action %s quarantined: %s", a.ID, cause.Error()),
			map[string]interface{}{
				"action_id": a.ID,
				"category":  string(category),
				"error":     cause.Error(),
			})
	}
}

// deadline returns the effective expiry instant of a record.
func (s *Scanner) deadline(a *action.Action) time.Time {
	if !a.Expires.IsZero() {
		return a.Expires
	}
	return a.Created.Add(s.cfg.ExpiryWindow)
}

func (s *Scanner) auditWarning(ctx context.Context, event, message string, data map[string]interface{}) {
	if s.audit != nil {
		s.audit.Warning(ctx, telemetry.CategoryLifecycle, event, message, data)
	}
	s.log.WithField("event", event).Warn(message)
}

func (s *Scanner) auditError(ctx context.Context, event, message string, data map[string]interface{}) {
	if s.audit != nil {
		s.audit.Error(ctx, telemetry.CategoryLifecycle, event, message, data)
	}
	s.log.WithField("event", event).Error(message)
}
