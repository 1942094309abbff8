package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Audit levels, ordered by severity.
const (
	AuditDebug    = "DEBUG"
	AuditInfo     = "INFO"
	AuditWarning  = "WARNING"
	AuditError    = "ERROR"
	AuditCritical = "CRITICAL"
)

// Well-known audit categories. Free-form strings are accepted too.
const (
	CategorySystemHealth = "system_health"
	CategoryRetry        = "retry"
	CategoryCircuit      = "circuit"
	CategoryQueue        = "queue"
	CategoryLifecycle    = "lifecycle"
	CategoryExecution    = "execution"
	CategoryAuditTrail   = "audit_trail"
)

// AuditEntry is one line of the append-only audit trail.
type AuditEntry struct {
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Category  string                 `json:"category"`
	Component string                 `json:"component"`
	Event     string                 `json:"event"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
	SessionID string                 `json:"session_id"`
}

// Audit writes structured events to daily JSONL files and mirrors them to
// the logger. All writers in a process share one Audit (and its mutex) so
// lines never interleave; Component returns cheap child views.
type Audit struct {
	dir       string
	component string
	sessionID string
	logger    *Logger

	mu          *sync.Mutex
	currentDate *string
	file        **os.File
}

// NewAudit creates the root audit sink. dir may be empty, in which case
// entries only reach the logger (useful in tests).
func NewAudit(cfg AuditConfig, logger *Logger) (*Audit, error) {
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating audit dir: %w", err)
		}
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	var date string
	var file *os.File
	return &Audit{
		dir:         cfg.Dir,
		component:   "core",
		sessionID:   sessionID,
		logger:      logger,
		mu:          &sync.Mutex{},
		currentDate: &date,
		file:        &file,
	}, nil
}

// Component returns a view of the sink that stamps entries with the given
// component name. The underlying file handle is shared.
func (a *Audit) Component(name string) *Audit {
	child := *a
	child.component = name
	if a.logger != nil {
		child.logger = a.logger.NewComponentLogger(name)
	}
	return &child
}

// SessionID returns the identifier stamped on every entry from this process.
func (a *Audit) SessionID() string {
	return a.sessionID
}

// Log writes one audit entry. The trace id is taken from the active span
// in ctx when one exists.
func (a *Audit) Log(ctx context.Context, level, category, event, message string, data map[string]interface{}) {
	entry := AuditEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Category:  category,
		Component: a.component,
		Event:     event,
		Message:   message,
		Data:      data,
		SessionID: a.sessionID,
	}
	if span := trace.SpanFromContext(ctx); span.SpanContext().HasTraceID() {
		entry.TraceID = span.SpanContext().TraceID().String()
	}

	a.mirror(entry)

	if a.dir == "" {
		return
	}

	line, err := json.Marshal(entry)
	if err != nil {
		if a.logger != nil {
			a.logger.WithError(err).Error("failed to marshal audit entry")
		}
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.rotateLocked(entry.Timestamp); err != nil {
		if a.logger != nil {
			a.logger.WithError(err).Error("failed to open audit file")
		}
		return
	}
	if _, err := (*a.file).Write(append(line, '\n')); err != nil {
		if a.logger != nil {
			a.logger.WithError(err).Error("failed to write audit entry")
		}
	}
}

// rotateLocked opens the file for the entry's day, closing yesterday's.
func (a *Audit) rotateLocked(ts time.Time) error {
	date := ts.Format("2006-01-02")
	if *a.file != nil && *a.currentDate == date {
		return nil
	}
	if *a.file != nil {
		_ = (*a.file).Close()
	}
	path := filepath.Join(a.dir, "audit_"+date+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	*a.file = f
	*a.currentDate = date
	return nil
}

func (a *Audit) mirror(entry AuditEntry) {
	if a.logger == nil {
		return
	}
	l := a.logger.WithFields(map[string]interface{}{
		"category": entry.Category,
		"event":    entry.Event,
	})
	if len(entry.Data) > 0 {
		l = l.WithField("data", entry.Data)
	}
	switch entry.Level {
	case AuditDebug:
		l.Debug(entry.Message)
	case AuditWarning:
		l.Warn(entry.Message)
	case AuditError, AuditCritical:
		l.Error(entry.Message)
	default:
		l.Info(entry.Message)
	}
}

// Close flushes and closes the current audit file.
func (a *Audit) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if *a.file != nil {
		err := (*a.file).Close()
		*a.file = nil
		return err
	}
	return nil
}

// Debug logs a debug-level audit entry.
func (a *Audit) Debug(ctx context.Context, category, event, message string, data map[string]interface{}) {
	a.Log(ctx, AuditDebug, category, event, message, data)
}

// Info logs an info-level audit entry.
func (a *Audit) Info(ctx context.Context, category, event, message string, data map[string]interface{}) {
	a.Log(ctx, AuditInfo, category, event, message, data)
}

// Warning logs a warning-level audit entry.
func (a *Audit) Warning(ctx context.Context, category, event, message string, data map[string]interface{}) {
	a.Log(ctx, AuditWarning, category, event, message, data)
}

// Error logs an error-level audit entry.
func (a *Audit) Error(ctx context.Context, category, event, message string, data map[string]interface{}) {
	a.Log(ctx, AuditError, category, event, message, data)
}

// Critical logs a critical-level audit entry.
func (a *Audit) Critical(ctx context.Context, category, event, message string, data map[string]interface{}) {
	a.Log(ctx, AuditCritical, category, event, message, data)
}

// AuditTrail records a decision that must survive for compliance review.
func (a *Audit) AuditTrail(ctx context.Context, event, message string, data map[string]interface{}) {
	a.Log(ctx, AuditInfo, CategoryAuditTrail, event, message, data)
}

// RetryAttempt records a failed attempt that will be retried.
func (a *Audit) RetryAttempt(ctx context.Context, op string, attempt, max int, delay time.Duration, err error) {
	a.Log(ctx, AuditWarning, CategoryRetry, "retry_attempt",
		fmt.Sprintf("%s failed (attempt %d/%d), retrying in %.2fs", op, attempt, max, delay.Seconds()),
		map[string]interface{}{
			"operation": op,
			"attempt":   attempt,
			"max":       max,
			"delay_s":   delay.Seconds(),
			"error":     err.Error(),
		})
}

// RetrySuccess records a success after one or more failed attempts.
func (a *Audit) RetrySuccess(ctx context.Context, op string, attempt int) {
	a.Log(ctx, AuditInfo, CategoryRetry, "retry_success",
		fmt.Sprintf("%s succeeded on attempt %d", op, attempt),
		map[string]interface{}{"operation": op, "attempt": attempt})
}

// RetryExhausted records that all attempts for an operation failed.
func (a *Audit) RetryExhausted(ctx context.Context, op string, attempts int, err error) {
	a.Log(ctx, AuditError, CategoryRetry, "retry_exhausted",
		fmt.Sprintf("%s failed after %d attempts", op, attempts),
		map[string]interface{}{"operation": op, "attempts": attempts, "error": err.Error()})
}

// Queued records a task entering the durable queue.
func (a *Audit) Queued(ctx context.Context, taskID, taskType, reason string) {
	a.Log(ctx, AuditInfo, CategoryQueue, "task_queued",
		fmt.Sprintf("queued %s task %s", taskType, taskID),
		map[string]interface{}{"task_id": taskID, "task_type": taskType, "reason": reason})
}

// Dequeued records a task leaving the durable queue.
func (a *Audit) Dequeued(ctx context.Context, taskID, disposition string) {
	a.Log(ctx, AuditInfo, CategoryQueue, "task_dequeued",
		fmt.Sprintf("task %s %s", taskID, disposition),
		map[string]interface{}{"task_id": taskID, "disposition": disposition})
}
