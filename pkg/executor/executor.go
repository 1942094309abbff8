// Package executor dispatches approved actions to their channel backends.
// Each backend is an interface so production transports can replace the
// simulated implementations without touching the lifecycle.
package executor

import (
	"context"
	"fmt"

	"github.com/sentinelops/sentinel/pkg/action"
	"github.com/sentinelops/sentinel/pkg/telemetry"
)

// PreviewLength is how much of a social post body is echoed back in the
// execution result.
const PreviewLength = 100

// Mail is the payload handed to a MailSender.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// MailSender delivers outbound email. The returned confirmation is stored
// in the execution result.
type MailSender interface {
	SendMail(ctx context.Context, m Mail) (string, error)
}

// Payment is the payload handed to a PaymentGateway.
type Payment struct {
	Payee      string
	Amount     float64
	Currency   string
	InvoiceRef string
}

// PaymentGateway processes outbound payments.
type PaymentGateway interface {
	ProcessPayment(ctx context.Context, p Payment) (string, error)
}

// Post is the payload handed to a SocialPoster.
type Post struct {
	Title string
	Body  string
}

// SocialPoster publishes social media posts.
type SocialPoster interface {
	PublishPost(ctx context.Context, p Post) (string, error)
}

// Message is the payload handed to a MessageSender.
type Message struct {
	To   string
	Body string
}

// MessageSender delivers direct messages.
type MessageSender interface {
	SendMessage(ctx context.Context, m Message) (string, error)
}

// Executor routes an approved action to the backend for its type.
type Executor struct {
	mail     MailSender
	payments PaymentGateway
	social   SocialPoster
	messages MessageSender
	log      *telemetry.Logger
}

// New assembles an executor from explicit backends.
func New(mail MailSender, payments PaymentGateway, social SocialPoster, messages MessageSender, log *telemetry.Logger) *Executor {
	if log == nil {
		log = telemetry.NewNopLogger()
	}
	return &Executor{
		mail:     mail,
		payments: payments,
		social:   social,
		messages: messages,
		log:      log.NewComponentLogger("executor"),
	}
}

// NewSimulated returns an executor wired to the simulated backends.
func NewSimulated(log *telemetry.Logger) *Executor {
	return New(SimulatedMail{}, SimulatedPayments{}, SimulatedSocial{}, SimulatedMessages{}, log)
}

// Execute dispatches one approved action and reports what was done. The
// caller owns persisting the result onto the record.
func (e *Executor) Execute(ctx context.Context, a *action.Action) (*action.ExecutionResult, error) {
	log := e.log.WithActionID(a.ID).WithField("type", string(a.Type))

	result, err := e.dispatch(ctx, a)
	if err != nil {
		log.WithError(err).Error("action execution failed")
		return nil, err
	}

	log.Info("action executed")
	return result, nil
}

func (e *Executor) dispatch(ctx context.Context, a *action.Action) (*action.ExecutionResult, error) {
	switch a.Type {
	case action.TypeEmail:
		confirmation, err := e.mail.SendMail(ctx, Mail{To: a.To, Subject: a.Subject, Body: a.Body})
		if err != nil {
			return nil, fmt.Errorf("sending email for %s: %w", a.ID, err)
		}
		return &action.ExecutionResult{
			Status:  "success",
			Type:    action.TypeEmail,
			To:      a.To,
			Subject: a.Subject,
			Message: confirmation,
		}, nil

	case action.TypePayment:
		confirmation, err := e.payments.ProcessPayment(ctx, Payment{
			Payee:      a.To,
			Amount:     a.Amount,
			Currency:   a.Currency,
			InvoiceRef: a.InvoiceRef,
		})
		if err != nil {
			return nil, fmt.Errorf("processing payment for %s: %w", a.ID, err)
		}
		return &action.ExecutionResult{
			Status:   "success",
			Type:     action.TypePayment,
			To:       a.To,
			Amount:   a.Amount,
			Currency: a.Currency,
			Message:  confirmation,
		}, nil

	case action.TypeSocialPost:
		confirmation, err := e.social.PublishPost(ctx, Post{Title: a.Title, Body: a.Body})
		if err != nil {
			return nil, fmt.Errorf("publishing post for %s: %w", a.ID, err)
		}
		return &action.ExecutionResult{
			Status:  "success",
			Type:    action.TypeSocialPost,
			Title:   a.Title,
			Preview: preview(a.Body),
			Message: confirmation,
		}, nil

	case action.TypeMessage:
		confirmation, err := e.messages.SendMessage(ctx, Message{To: a.To, Body: a.Body})
		if err != nil {
			return nil, fmt.Errorf("sending message for %s: %w", a.ID, err)
		}
		return &action.ExecutionResult{
			Status:  "success",
			Type:    action.TypeMessage,
			To:      a.To,
			Message: confirmation,
		}, nil

	case action.TypeGeneral:
		title := a.Title
		if title == "" {
			title = a.ID
		}
		return &action.ExecutionResult{
			Status:  "success",
			Type:    action.TypeGeneral,
			Title:   title,
			Message: fmt.Sprintf("Task '%s' completed (simulated)", title),
		}, nil

	default:
		return nil, fmt.Errorf("no backend for action type %q", a.Type)
	}
}

// preview returns the leading slice of a post body for the result echo.
func preview(body string) string {
	if len(body) <= PreviewLength {
		return body
	}
	return body[:PreviewLength]
}

// SimulatedMail logs instead of sending.
type SimulatedMail struct{}

func (SimulatedMail) SendMail(ctx context.Context, m Mail) (string, error) {
	return fmt.Sprintf("Email to %s sent successfully (simulated)", m.To), nil
}

// SimulatedPayments confirms without moving money.
type SimulatedPayments struct{}

func (SimulatedPayments) ProcessPayment(ctx context.Context, p Payment) (string, error) {
	currency := p.Currency
	if currency == "" {
		currency = "USD"
	}
	return fmt.Sprintf("Payment of %s %.2f to %s processed (simulated)", currency, p.Amount, p.Payee), nil
}

// SimulatedSocial confirms without publishing.
type SimulatedSocial struct{}

func (SimulatedSocial) PublishPost(ctx context.Context, p Post) (string, error) {
	return "Post published to social media (simulated)", nil
}

// SimulatedMessages confirms without delivering.
type SimulatedMessages struct{}

func (SimulatedMessages) SendMessage(ctx context.Context, m Message) (string, error) {
	return fmt.Sprintf("Message to %s sent (simulated)", m.To), nil
}
