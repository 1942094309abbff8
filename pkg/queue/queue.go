// Package queue implements the durable file-backed task queue with
// dead-lettering. One JSON file per task; the dead-letter directory holds
// work that exhausted its retries and awaits manual remediation.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sentinelops/sentinel/pkg/telemetry"
)

// Status is the task lifecycle state.
type Status string

const (
	// StatusQueued marks an active task awaiting processing.
	StatusQueued Status = "queued"

	// StatusDeadLetter marks a task that exhausted its retries.
	StatusDeadLetter Status = "dead_letter"
)

// Task is one unit of deferred work.
type Task struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	Status     Status          `json:"status"`

	// Set only on dead-lettered tasks.
	DeadLetterReason string     `json:"dead_letter_reason,omitempty"`
	DeadLetterAt     *time.Time `json:"dead_letter_at,omitempty"`
}

// ErrDuplicateTask is returned when enqueueing an id that already has a
// persisted record, active or dead-lettered.
var ErrDuplicateTask = errors.New("task id already queued")

// Processor handles one task. A nil return deletes the task; an error
// either reschedules it or dead-letters it once retries are exhausted.
type Processor func(ctx context.Context, task *Task) error

// Results summarizes one ProcessAll pass.
type Results struct {
	Processed    int `json:"processed"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
}

// DefaultMaxRetries applies when a task is enqueued without a limit.
const DefaultMaxRetries = 3

// Queue is a single-writer durable queue over a directory of JSON files.
type Queue struct {
	dir     string
	deadDir string
	audit   *telemetry.Audit
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	now     func() time.Time
}

// New opens (creating if needed) a queue rooted at dir, with dead-letter
// storage in dir/dead_letter. audit, metrics, and events may be nil.
func New(dir string, audit *telemetry.Audit, metrics *telemetry.Metrics, events *telemetry.EventPublisher) (*Queue, error) {
	deadDir := filepath.Join(dir, "dead_letter")
	for _, d := range []string{dir, deadDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating queue dir %s: %w", d, err)
		}
	}
	return &Queue{
		dir:     dir,
		deadDir: deadDir,
		audit:   audit,
		metrics: metrics,
		events:  events,
		now:     time.Now,
	}, nil
}

// Enqueue durably persists a new task. Existing records with the same id
// are never overwritten.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	if task.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if q.hasTask(q.dir, task.ID) || q.hasTask(q.deadDir, task.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}

	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = q.now().UTC()
	}
	if task.MaxRetries <= 0 {
		task.MaxRetries = DefaultMaxRetries
	}
	task.Status = StatusQueued

	path := filepath.Join(q.dir, taskFilename(task.ID, task.EnqueuedAt))
	if err := writeTask(path, &task); err != nil {
		return err
	}

	if q.audit != nil {
		q.audit.Queued(ctx, task.ID, task.Type, task.Reason)
	}
	q.updateGauges()
	return nil
}

// ProcessAll runs the processor over every active task in stable name
// order. Each task gets its retry_count incremented before the attempt;
// success deletes the record, failure either persists the count or
// dead-letters.
func (q *Queue) ProcessAll(ctx context.Context, fn Processor) (Results, error) {
	var results Results

	paths, err := q.taskFiles(q.dir)
	if err != nil {
		return results, err
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		task, err := readTask(path)
		if err != nil {
			if q.audit != nil {
				q.audit.Error(ctx, telemetry.CategoryQueue, "task_unreadable",
					fmt.Sprintf("skipping unreadable task file %s", filepath.Base(path)),
					map[string]interface{}{"file": filepath.Base(path), "error": err.Error()})
			}
			continue
		}

		task.RetryCount++
		if procErr := fn(ctx, task); procErr == nil {
			if err := os.Remove(path); err != nil {
				return results, fmt.Errorf("removing completed task %s: %w", task.ID, err)
			}
			results.Processed++
			if q.audit != nil {
				q.audit.Dequeued(ctx, task.ID, "completed")
			}
			continue
		} else if task.RetryCount >= task.MaxRetries {
			if err := q.deadLetter(ctx, path, task, procErr); err != nil {
				return results, err
			}
			results.DeadLettered++
		} else {
			if err := writeTask(path, task); err != nil {
				return results, fmt.Errorf("persisting retry count for %s: %w", task.ID, err)
			}
			results.Failed++
			if q.audit != nil {
				q.audit.Warning(ctx, telemetry.CategoryQueue, "task_retry_scheduled",
					fmt.Sprintf("task %s failed (attempt %d/%d), kept for next pass",
						task.ID, task.RetryCount, task.MaxRetries),
					map[string]interface{}{
						"task_id": task.ID,
						"attempt": task.RetryCount,
						"max":     task.MaxRetries,
						"error":   procErr.Error(),
					})
			}
		}
	}

	q.updateGauges()
	return results, nil
}

// deadLetter atomically relocates a task to dead-letter storage.
func (q *Queue) deadLetter(ctx context.Context, path string, task *Task, cause error) error {
	at := q.now().UTC()
	task.Status = StatusDeadLetter
	task.DeadLetterReason = cause.Error()
	task.DeadLetterAt = &at

	deadPath := filepath.Join(q.deadDir, filepath.Base(path))
	if err := writeTask(deadPath, task); err != nil {
		return fmt.Errorf("writing dead-letter record for %s: %w", task.ID, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing dead-lettered task %s: %w", task.ID, err)
	}

	if q.audit != nil {
		q.audit.Error(ctx, telemetry.CategoryQueue, "task_dead_lettered",
			fmt.Sprintf("task %s dead-lettered after %d attempts", task.ID, task.RetryCount),
			map[string]interface{}{
				"task_id": task.ID,
				"reason":  task.DeadLetterReason,
				"retries": task.RetryCount,
			})
	}
	if q.events != nil {
		_ = q.events.PublishTaskDeadLettered(task.ID, task.DeadLetterReason, task.RetryCount)
	}
	return nil
}

// Size returns the number of active tasks.
func (q *Queue) Size() int {
	paths, err := q.taskFiles(q.dir)
	if err != nil {
		return 0
	}
	return len(paths)
}

// DeadLetterSize returns the number of dead-lettered tasks.
func (q *Queue) DeadLetterSize() int {
	paths, err := q.taskFiles(q.deadDir)
	if err != nil {
		return 0
	}
	return len(paths)
}

// List returns all active tasks.
func (q *Queue) List() ([]*Task, error) {
	return q.listDir(q.dir)
}

// ListDead returns all dead-lettered tasks.
func (q *Queue) ListDead() ([]*Task, error) {
	return q.listDir(q.deadDir)
}

func (q *Queue) listDir(dir string) ([]*Task, error) {
	paths, err := q.taskFiles(dir)
	if err != nil {
		return nil, err
	}
	tasks := make([]*Task, 0, len(paths))
	for _, path := range paths {
		task, err := readTask(path)
		if err != nil {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// taskFiles lists q_*.json files in stable name order.
func (q *Queue) taskFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading queue dir %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "q_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

func (q *Queue) hasTask(dir, id string) bool {
	matches, err := filepath.Glob(filepath.Join(dir, "q_"+id+"_*.json"))
	return err == nil && len(matches) > 0
}

func (q *Queue) updateGauges() {
	if q.metrics == nil {
		return
	}
	q.metrics.SetQueuedTasks(float64(q.Size()))
	q.metrics.SetDeadLetterTasks(float64(q.DeadLetterSize()))
}

func taskFilename(id string, at time.Time) string {
	return fmt.Sprintf("q_%s_%d.json", id, at.Unix())
}

func readTask(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decoding task %s: %w", filepath.Base(path), err)
	}
	return &task, nil
}

// writeTask persists via temp file + rename so a crash never leaves a
// half-written record.
func writeTask(path string, task *Task) error {
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding task %s: %w", task.ID, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing task %s: %w", task.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing task %s: %w", task.ID, err)
	}
	return nil
}
