package action

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Handbook-derived advisory constants.
const (
	// PaymentFlagThreshold is the amount above which payments are
	// auto-flagged for careful review (Handbook Rule #2).
	PaymentFlagThreshold = 500.0

	// PaymentFlagText is the flag attached to over-threshold payments.
	PaymentFlagText = "FLAGGED: Amount exceeds $500 threshold (Handbook Rule #2)"

	// MessageToneFlagText reminds the approver of the messaging tone rule
	// (Handbook Rule #1).
	MessageToneFlagText = "REMINDER: Maintain polite tone (Handbook Rule #1)"
)

// DefaultExpiryWindow is the approval deadline for new actions.
const DefaultExpiryWindow = 24 * time.Hour

// NewID returns an action id of the form <prefix>_<unix>_<hex6>.
func NewID(prefix string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().Unix(), suffix)
}

func newBase(t Type, prefix string, priority Priority, window time.Duration) Action {
	if priority == "" {
		priority = PriorityNormal
	}
	if window <= 0 {
		window = DefaultExpiryWindow
	}
	now := time.Now().UTC().Truncate(time.Second)
	return Action{
		ID:       NewID(prefix),
		Type:     t,
		Status:   StatusPending,
		Created:  now,
		Expires:  now.Add(window),
		Priority: priority,
		Flags:    []string{},
	}
}

// NewEmail builds a pending email action.
func NewEmail(to, subject, body string, priority Priority, reasoning string) (*Action, error) {
	if to == "" || subject == "" {
		return nil, fmt.Errorf("email action requires recipient and subject")
	}
	a := newBase(TypeEmail, "email", priority, 0)
	a.To = to
	a.Subject = subject
	a.Body = body
	a.Reasoning = reasoning
	if a.Reasoning == "" {
		a.Reasoning = "Email action proposed by automation."
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// NewPayment builds a pending payment action. Amounts over the handbook
// threshold are auto-flagged.
func NewPayment(to string, amount float64, currency, description, invoiceRef string, priority Priority, reasoning string) (*Action, error) {
	if to == "" {
		return nil, fmt.Errorf("payment action requires a payee")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive, got %v", amount)
	}
	if currency == "" {
		currency = "USD"
	}
	if priority == "" {
		priority = PriorityHigh
	}

	a := newBase(TypePayment, "payment", priority, 0)
	a.To = to
	a.Amount = amount
	a.Currency = currency
	a.InvoiceRef = invoiceRef
	if amount > PaymentFlagThreshold {
		a.AddFlag(PaymentFlagText)
	}

	a.Reasoning = reasoning
	if a.Reasoning == "" {
		verdict := "Within normal range."
		if amount > PaymentFlagThreshold {
			verdict = "FLAGGED: exceeds $500."
		}
		a.Reasoning = fmt.Sprintf("Payment of %s %.2f to %s. %s", currency, amount, to, verdict)
	}

	a.Body = paymentBody(&a, description)
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

func paymentBody(a *Action, description string) string {
	var b strings.Builder
	b.WriteString("## Payment Approval Request\n\n")
	fmt.Fprintf(&b, "**Payee:** %s\n", a.To)
	fmt.Fprintf(&b, "**Amount:** %s %.2f\n", a.Currency, a.Amount)
	fmt.Fprintf(&b, "**Invoice:** %s\n", orNA(a.InvoiceRef))
	fmt.Fprintf(&b, "**Description:** %s\n\n", orNA(description))

	if len(a.Flags) > 0 {
		b.WriteString("### Flags\n")
		for _, flag := range a.Flags {
			fmt.Fprintf(&b, "- %s\n", flag)
		}
		b.WriteString("\n")
	}

	b.WriteString("### Approval Instructions\n")
	b.WriteString("To **approve**: move this file to `Approved`\n")
	b.WriteString("To **reject**: move this file to `Rejected`\n")
	fmt.Fprintf(&b, "**Expires:** %s\n", a.Expires.Format(time.RFC3339))
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// NewSocialPost builds a pending social post action. The post text is the
// body.
func NewSocialPost(postText, title string, priority Priority, reasoning string) (*Action, error) {
	if postText == "" {
		return nil, fmt.Errorf("social post action requires post text")
	}
	a := newBase(TypeSocialPost, "post", priority, 0)
	a.Title = title
	a.Body = postText
	a.Reasoning = reasoning
	if a.Reasoning == "" {
		a.Reasoning = "Social post drafted from business goals."
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// NewMessage builds a pending direct-message action, always carrying the
// tone reminder flag.
func NewMessage(to, message string, priority Priority, reasoning string) (*Action, error) {
	if to == "" {
		return nil, fmt.Errorf("message action requires a recipient")
	}
	a := newBase(TypeMessage, "msg", priority, 0)
	a.To = to
	a.Body = message
	a.AddFlag(MessageToneFlagText)
	a.Reasoning = reasoning
	if a.Reasoning == "" {
		a.Reasoning = "Message drafted. Polite tone verified per Handbook Rule #1."
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// NewGeneral builds a pending general task action.
func NewGeneral(title, body string, priority Priority, reasoning string) (*Action, error) {
	if title == "" {
		return nil, fmt.Errorf("general action requires a title")
	}
	a := newBase(TypeGeneral, "task", priority, 0)
	a.Title = title
	a.Body = fmt.Sprintf("## %s\n\n%s", title, body)
	a.Reasoning = reasoning
	if a.Reasoning == "" {
		a.Reasoning = fmt.Sprintf("General task: %s", title)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
