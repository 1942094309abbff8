package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for advisory notes that never gate approval.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings the approver should weigh.
	SeverityWarning Severity = "warning"

	// SeverityCritical is for findings that demand escalation before approval.
	SeverityCritical Severity = "critical"
)

// Warns reports whether the severity should push the review into the
// "review carefully" recommendation.
func (s Severity) Warns() bool {
	return s == SeverityWarning || s == SeverityCritical
}

// Policy represents a handbook rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single handbook finding for an action.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// Message is the flag text shown to the approver.
	Message string `json:"message"`

	// Severity is the finding severity level.
	Severity Severity `json:"severity"`
}

// Review is the handbook assessment attached to an action before it is
// surfaced for approval.
type Review struct {
	// Flags are the flag lines to merge into the action record.
	Flags []string `json:"flags"`

	// Reasoning is the rendered assessment text for the approver.
	Reasoning string `json:"reasoning"`

	// Warn indicates at least one warning-or-worse finding.
	Warn bool `json:"warn"`

	// Violations lists the raw findings behind the flags.
	Violations []Violation `json:"violations,omitempty"`

	// EvaluatedAt is when the review was produced.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// ReviewInput is the input document for policy evaluation.
type ReviewInput struct {
	// Action is the action record under review.
	Action *ActionInput `json:"action"`

	// Context provides additional evaluation context.
	Context *ReviewContext `json:"context"`
}

// ActionInput is the policy-visible projection of an action record.
type ActionInput struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Status   string   `json:"status"`
	Priority string   `json:"priority"`
	To       string   `json:"to"`
	Subject  string   `json:"subject,omitempty"`
	Amount   float64  `json:"amount"`
	Currency string   `json:"currency,omitempty"`
	Body     string   `json:"body"`
	Flags    []string `json:"flags"`
}

// ReviewContext provides context information for policy evaluation.
type ReviewContext struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the lifecycle step requesting the review.
	Operation string `json:"operation,omitempty"`
}

// parseSeverity maps a severity string from a policy result, falling back
// to the policy default for unknown values.
func parseSeverity(s string, fallback Severity) Severity {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return Severity(s)
	default:
		return fallback
	}
}
