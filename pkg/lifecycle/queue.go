package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sentinelops/sentinel/pkg/action"
	"github.com/sentinelops/sentinel/pkg/errclass"
	"github.com/sentinelops/sentinel/pkg/queue"
	"github.com/sentinelops/sentinel/pkg/resilience"
	"github.com/sentinelops/sentinel/pkg/stores"
	"github.com/sentinelops/sentinel/pkg/vault"
)

// retryPayload is the body of a dispatch_retry task.
type retryPayload struct {
	ActionID string `json:"action_id"`
	Record   string `json:"record"`
	Type     string `json:"action_type"`
}

// ProcessQueue drains the durable retry queue: one redispatch attempt per
// task, then a reconcile pass that quarantines whatever dead-lettered.
func (s *Scanner) ProcessQueue(ctx context.Context) (queue.Results, error) {
	if s.queue == nil {
		return queue.Results{}, nil
	}

	results, err := s.queue.ProcessAll(ctx, s.processRetryTask)
	if err != nil {
		return results, err
	}
	if err := s.reconcileDeadLetters(ctx); err != nil {
		return results, err
	}
	return results, nil
}

// processRetryTask redispatches one deferred action. A nil return deletes
// the task; errors count against the task's retry budget.
func (s *Scanner) processRetryTask(ctx context.Context, task *queue.Task) error {
	if task.Type != TaskTypeDispatchRetry {
		return fmt.Errorf("unknown task type %q", task.Type)
	}

	var p retryPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decoding task payload: %w", err)
	}

	a, err := s.repo.Read(ctx, vault.Approved, p.Record)
	if errors.Is(err, vault.ErrNotFound) {
		// Record was re-filed or removed while deferred; drop the task.
		_ = s.store.Undefer(ctx, p.ActionID)
		return nil
	}
	if err != nil {
		return err
	}

	if done, err := s.store.WasExecuted(ctx, a.ID); err == nil && done {
		_ = s.store.Undefer(ctx, a.ID)
		return nil
	}
	if q, err := s.store.IsQuarantined(ctx, a.ID); err == nil && q {
		_ = s.store.Undefer(ctx, a.ID)
		return nil
	}

	// One attempt per pass; the queue's retry budget is the outer loop.
	single := resilience.RetryConfig{
		MaxRetries:  1,
		BackoffBase: time.Second,
		BackoffMax:  time.Second,
	}
	outcome := s.caller.Execute(ctx, resilience.ExecRequest{
		Name:    "redispatch_" + string(a.Type),
		Circuit: string(a.Type),
		Retry:   &single,
		Fn: func(ctx context.Context) (interface{}, error) {
			return s.exec.Execute(ctx, a)
		},
	})
	if !outcome.OK {
		return outcome.Err
	}

	result, ok := outcome.Result.(*action.ExecutionResult)
	if !ok {
		result = &action.ExecutionResult{Status: "success", Type: a.Type}
	}
	var stats CycleStats
	s.complete(ctx, vault.Approved, p.Record, a, result, &stats)
	if stats.Executed == 0 {
		return fmt.Errorf("redispatch of %s executed but failed to archive", a.ID)
	}
	return nil
}

// reconcileDeadLetters quarantines every action whose retry task exhausted
// its budget. Already-quarantined actions are skipped, so the pass is
// idempotent.
func (s *Scanner) reconcileDeadLetters(ctx context.Context) error {
	dead, err := s.queue.ListDead()
	if err != nil {
		return err
	}

	for _, task := range dead {
		if task.Type != TaskTypeDispatchRetry {
			continue
		}
		var p retryPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			continue
		}
		if q, err := s.store.IsQuarantined(ctx, p.ActionID); err != nil || q {
			continue
		}

		cause := errors.New(task.DeadLetterReason)
		a, err := s.repo.Read(ctx, vault.Approved, p.Record)
		if err != nil {
			// Record gone; keep the ledger consistent anyway.
			_ = s.store.Quarantine(ctx, &stores.QuarantineEntry{ActionID: p.ActionID, Reason: task.DeadLetterReason})
			_ = s.store.Undefer(ctx, p.ActionID)
			continue
		}

		var stats CycleStats
		s.quarantine(ctx, vault.Approved, p.Record, a, cause, errclass.CategoryTransient, &stats)
	}
	return nil
}
