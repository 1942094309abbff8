package action

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Action is one human-in-the-loop approval record. The header fields are
// serialized as YAML frontmatter; Body is the free-form text after it.
type Action struct {
	ID       string    `yaml:"id" validate:"required"`
	Type     Type      `yaml:"action" validate:"required,oneof=email payment social_post message general"`
	Status   Status    `yaml:"status" validate:"required,oneof=pending approved rejected executed expired"`
	Created  time.Time `yaml:"created"`
	Expires  time.Time `yaml:"expires,omitempty"`
	Priority Priority  `yaml:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent"`

	// Type-specific payload. The lifecycle never touches these.
	To         string  `yaml:"to,omitempty"`
	Subject    string  `yaml:"subject,omitempty"`
	Amount     float64 `yaml:"amount,omitempty" validate:"min=0"`
	Currency   string  `yaml:"currency,omitempty"`
	InvoiceRef string  `yaml:"invoice_ref,omitempty"`
	Title      string  `yaml:"title,omitempty"`

	// Advisory fields, appended to but never required.
	Flags     []string `yaml:"flags"`
	Reasoning string   `yaml:"reasoning,omitempty"`

	// Execution outcome, set exactly once.
	ExecutedAt      *time.Time       `yaml:"executed_at,omitempty"`
	ExecutionResult *ExecutionResult `yaml:"execution_result,omitempty"`

	// Body is the free-form text after the frontmatter. Preserved
	// byte-for-byte across header rewrites.
	Body string `yaml:"-"`
}

// ExecutionResult echoes what a handler did.
type ExecutionResult struct {
	Status   string  `yaml:"status" json:"status"`
	Type     Type    `yaml:"action" json:"action"`
	To       string  `yaml:"to,omitempty" json:"to,omitempty"`
	Subject  string  `yaml:"subject,omitempty" json:"subject,omitempty"`
	Amount   float64 `yaml:"amount,omitempty" json:"amount,omitempty"`
	Currency string  `yaml:"currency,omitempty" json:"currency,omitempty"`
	Title    string  `yaml:"title,omitempty" json:"title,omitempty"`
	Preview  string  `yaml:"preview,omitempty" json:"preview,omitempty"`
	Message  string  `yaml:"message" json:"message"`
}

var validate = validator.New()

// Validate checks the structural invariants of the record.
func (a *Action) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("invalid action %s: %w", a.ID, err)
	}
	return nil
}

// IsExpired reports whether the action has passed its deadline. When the
// record carries no explicit expiry, created + window is the fallback
// deadline; a record with neither timestamp never expires.
func (a *Action) IsExpired(now time.Time, window time.Duration) bool {
	if !a.Expires.IsZero() {
		return now.After(a.Expires)
	}
	if !a.Created.IsZero() {
		return now.After(a.Created.Add(window))
	}
	return false
}

// MarkExecuted stamps the result and timestamp and transitions the status.
func (a *Action) MarkExecuted(result *ExecutionResult, at time.Time) {
	a.Status = StatusExecuted
	a.ExecutedAt = &at
	a.ExecutionResult = result
}

// AddFlag appends an advisory flag, skipping exact duplicates.
func (a *Action) AddFlag(flag string) {
	for _, f := range a.Flags {
		if f == flag {
			return
		}
	}
	a.Flags = append(a.Flags, flag)
}
