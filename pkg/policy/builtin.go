package policy

import (
	"time"
)

// BuiltinPolicies returns the handbook rules that ship with the engine.
func BuiltinPolicies() []Policy {
	return []Policy{
		paymentThresholdPolicy(),
		messageTonePolicy(),
		priorityReviewPolicy(),
		carriedFlagsPolicy(),
	}
}

// paymentThresholdPolicy flags payments above the handbook amount limits.
func paymentThresholdPolicy() Policy {
	return Policy{
		Name:        "payment-threshold",
		Description: "Flags payments over $500 and escalates payments over $5,000",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"payments", "handbook"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package sentinel.handbook.payments

import rego.v1

# Amounts over this require explicit human review (Handbook Rule #2)
threshold := 500

# Amounts over this require escalation before approval
critical_threshold := 5000

deny contains violation if {
	input.action.type == "payment"
	input.action.amount > threshold
	input.action.amount <= critical_threshold
	violation := {
		"message": "FLAGGED: Amount exceeds $500 threshold (Handbook Rule #2)",
		"severity": "warning",
	}
}

deny contains violation if {
	input.action.type == "payment"
	input.action.amount > critical_threshold
	violation := {
		"message": "FLAGGED: Amount exceeds $5,000 escalation threshold (Handbook Rule #2)",
		"severity": "critical",
	}
}`,
	}
}

// messageTonePolicy enforces the politeness rule on outbound text.
func messageTonePolicy() Policy {
	return Policy{
		Name:        "message-tone",
		Description: "Reminds about tone on messages and flags impolite language",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"tone", "handbook"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package sentinel.handbook.tone

import rego.v1

impolite_words := ["stupid", "idiot", "useless", "terrible", "worst"]

outbound_types := ["message", "email", "social_post"]

deny contains violation if {
	some t in outbound_types
	input.action.type == t
	some word in impolite_words
	contains(lower(input.action.body), word)
	violation := {
		"message": sprintf("FLAGGED: Impolite language detected: '%s' (Handbook Rule #1)", [word]),
		"severity": "warning",
	}
}

deny contains violation if {
	input.action.type == "message"
	violation := {
		"message": "REMINDER: Maintain polite tone (Handbook Rule #1)",
		"severity": "info",
	}
}`,
	}
}

// priorityReviewPolicy nudges the approver on urgent items.
func priorityReviewPolicy() Policy {
	return Policy{
		Name:        "priority-review",
		Description: "Notes urgent-priority actions so they are reviewed promptly",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"priority", "handbook"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package sentinel.handbook.priority

import rego.v1

deny contains violation if {
	input.action.priority == "urgent"
	violation := {
		"message": "NOTE: Urgent priority, review promptly",
		"severity": "info",
	}
}`,
	}
}

// carriedFlagsPolicy re-surfaces flags already present on the record so a
// re-review never loses a finding made at proposal time.
func carriedFlagsPolicy() Policy {
	return Policy{
		Name:        "carried-flags",
		Description: "Propagates pre-existing FLAGGED entries into the review",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"flags", "handbook"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package sentinel.handbook.carried

import rego.v1

deny contains violation if {
	some flag in input.action.flags
	startswith(flag, "FLAGGED")
	violation := {
		"message": flag,
		"severity": "warning",
	}
}`,
	}
}
