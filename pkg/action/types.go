// Package action defines the human-in-the-loop action record: its closed
// type and status enums, the frontmatter codec, and the builders producers
// use to propose new actions.
package action

// Type is the closed set of action kinds. Every dispatch site switches
// exhaustively on it.
type Type string

const (
	TypeEmail      Type = "email"
	TypePayment    Type = "payment"
	TypeSocialPost Type = "social_post"
	TypeMessage    Type = "message"
	TypeGeneral    Type = "general"
)

// ParseType maps a raw type string to a Type. Unknown values fall back to
// general, which always has a handler.
func ParseType(s string) Type {
	switch Type(s) {
	case TypeEmail, TypePayment, TypeSocialPost, TypeMessage, TypeGeneral:
		return Type(s)
	default:
		return TypeGeneral
	}
}

// Valid reports whether t is one of the closed set.
func (t Type) Valid() bool {
	switch t {
	case TypeEmail, TypePayment, TypeSocialPost, TypeMessage, TypeGeneral:
		return true
	}
	return false
}

// Status is the approval lifecycle state of an action.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
	StatusExpired  Status = "expired"
)

// IsTerminal reports whether no further transition is legal.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusExecuted, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the lifecycle
// graph: pending -> approved|rejected|expired, approved -> executed.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected || to == StatusExpired
	case StatusApproved:
		return to == StatusExecuted
	default:
		return false
	}
}

// Priority orders operator attention; it never affects execution order.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
