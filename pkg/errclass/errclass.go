// Package errclass classifies failures into the four categories the
// resilience layer acts on. Classification is a pure function over the
// error value; both the retry executor and the circuit breaker consult it
// independently on the same error.
package errclass

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"syscall"
)

// Category represents the classification of an error for retry and
// propagation logic.
type Category string

const (
	// CategoryTransient indicates a temporary failure that may succeed on
	// retry. Examples: network timeouts, rate limits, 5xx responses.
	CategoryTransient Category = "transient"

	// CategoryAuth indicates an authentication or authorization failure.
	// Never retried; surfaced to the caller and the audit sink.
	CategoryAuth Category = "auth"

	// CategoryLogic indicates a caller or data bug (validation failure,
	// bad request, missing record). Never retried.
	CategoryLogic Category = "logic"

	// CategorySystem indicates a local resource failure (disk full, out of
	// memory). Never retried; audited at the highest severity.
	CategorySystem Category = "system"
)

// CategorizedError carries an explicit category through an error chain.
type CategorizedError struct {
	// Category is the error classification for retry logic.
	Category Category

	// Op is the operation being performed when the error occurred.
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Category, e.Op, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s", e.Category, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Is matches on category so errors.Is(err, errclass.Transient("", nil))
// style checks work.
func (e *CategorizedError) Is(target error) bool {
	t, ok := target.(*CategorizedError)
	if !ok {
		return false
	}
	return e.Category == t.Category
}

func (e *CategorizedError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Transient wraps err as a transient failure.
func Transient(op string, err error) *CategorizedError {
	return &CategorizedError{Category: CategoryTransient, Op: op, Err: err}
}

// Auth wraps err as an authentication/authorization failure.
func Auth(op string, err error) *CategorizedError {
	return &CategorizedError{Category: CategoryAuth, Op: op, Err: err}
}

// Logic wraps err as a business-logic failure.
func Logic(op string, err error) *CategorizedError {
	return &CategorizedError{Category: CategoryLogic, Op: op, Err: err}
}

// System wraps err as a local system failure.
func System(op string, err error) *CategorizedError {
	return &CategorizedError{Category: CategorySystem, Op: op, Err: err}
}

// kindEntry maps a sentinel error to a category. Order matters: the most
// specific kinds come first (permission before the generic filesystem
// sentinels, deadline before the generic net checks).
type kindEntry struct {
	match    func(error) bool
	category Category
}

var kindTable = []kindEntry{
	// Auth
	{func(err error) bool { return errors.Is(err, os.ErrPermission) || errors.Is(err, fs.ErrPermission) }, CategoryAuth},
	{func(err error) bool { return errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) }, CategoryAuth},

	// System
	{func(err error) bool { return errors.Is(err, syscall.ENOMEM) || errors.Is(err, syscall.ENOSPC) }, CategorySystem},

	// Transient
	{func(err error) bool { return errors.Is(err, os.ErrDeadlineExceeded) }, CategoryTransient},
	{func(err error) bool { return errors.Is(err, context.DeadlineExceeded) }, CategoryTransient},
	{func(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) }, CategoryTransient},
	{func(err error) bool { return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ETIMEDOUT) }, CategoryTransient},
	{isNetError, CategoryTransient},

	// Logic
	{func(err error) bool { return errors.Is(err, os.ErrNotExist) || errors.Is(err, fs.ErrNotExist) }, CategoryLogic},
	{func(err error) bool { return errors.Is(err, os.ErrExist) }, CategoryLogic},
}

func isNetError(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr)
}

// messagePatterns maps lowercase substrings of an error message to a
// category. Checked in declaration order; first hit wins.
var messagePatterns = []struct {
	category Category
	patterns []string
}{
	{CategoryTransient, []string{
		"timeout", "timed out", "connection refused", "connection reset",
		"rate limit", "429", "503", "502", "504", "temporary",
		"service unavailable", "try again", "econnrefused", "etimedout",
	}},
	{CategoryAuth, []string{
		"401", "403", "unauthorized", "forbidden", "token expired",
		"invalid credentials", "authentication failed", "access denied",
		"permission denied", "invalid_grant",
	}},
	{CategoryLogic, []string{
		"validation", "invalid", "missing required", "bad request", "400",
		"not found", "404", "already exists", "duplicate", "constraint",
	}},
	{CategorySystem, []string{
		"disk full", "no space", "out of memory", "segfault",
		"killed", "oom", "enomem", "enospc",
	}},
}

// Classify maps an error into a category.
//
// Priority:
//  1. an explicit *CategorizedError anywhere in the chain
//  2. kind table match against well-known sentinels (most specific first)
//  3. case-insensitive substring match of the message
//  4. default Logic
func Classify(err error) Category {
	if err == nil {
		return CategoryLogic
	}

	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}

	for _, entry := range kindTable {
		if entry.match(err) {
			return entry.category
		}
	}

	msg := strings.ToLower(err.Error())
	for _, group := range messagePatterns {
		for _, pattern := range group.patterns {
			if strings.Contains(msg, pattern) {
				return group.category
			}
		}
	}

	return CategoryLogic
}

// IsRetryable reports whether the error should be retried. Only transient
// errors are retryable.
func IsRetryable(err error) bool {
	return Classify(err) == CategoryTransient
}
