package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sentinelops/sentinel/pkg/action"
	"github.com/sentinelops/sentinel/pkg/lifecycle"
	"github.com/sentinelops/sentinel/pkg/vault"
)

func newProposeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Propose a new action for approval",
		Long: `Create a pending action record in the vault. The record waits in the
Pending container until an operator approves it by moving the file to
Approved, rejects it, or it expires.`,
	}

	cmd.AddCommand(newProposeEmailCommand())
	cmd.AddCommand(newProposePaymentCommand())
	cmd.AddCommand(newProposePostCommand())
	cmd.AddCommand(newProposeMessageCommand())
	cmd.AddCommand(newProposeGeneralCommand())

	return cmd
}

func newProposeEmailCommand() *cobra.Command {
	var (
		to       string
		subject  string
		body     string
		priority string
	)

	cmd := &cobra.Command{
		Use:   "email",
		Short: "Propose an outbound email",
		Example: `  sentinel propose email --to client@example.com \
    --subject "Quarterly update" --body "All on track."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := action.NewEmail(to, subject, body, action.Priority(priority), "")
			if err != nil {
				return err
			}
			return submitProposal(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "recipient address")
	cmd.Flags().StringVar(&subject, "subject", "", "email subject")
	cmd.Flags().StringVar(&body, "body", "", "email body")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, normal, high, urgent)")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func newProposePaymentCommand() *cobra.Command {
	var (
		payee    string
		amount   float64
		currency string
		desc     string
		invoice  string
		priority string
	)

	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Propose a payment",
		Long: `Propose a payment for approval. Amounts over the handbook threshold are
auto-flagged for careful review.`,
		Example: `  sentinel propose payment --payee "Vendor Supplies Co." \
    --amount 750 --invoice INV-4821 --description "Office supplies"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := action.NewPayment(payee, amount, currency, desc, invoice, action.Priority(priority), "")
			if err != nil {
				return err
			}
			return submitProposal(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVar(&payee, "payee", "", "payment recipient")
	cmd.Flags().Float64Var(&amount, "amount", 0, "payment amount")
	cmd.Flags().StringVar(&currency, "currency", "USD", "payment currency")
	cmd.Flags().StringVar(&desc, "description", "", "what the payment is for")
	cmd.Flags().StringVar(&invoice, "invoice", "", "invoice reference")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, normal, high, urgent)")
	_ = cmd.MarkFlagRequired("payee")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func newProposePostCommand() *cobra.Command {
	var (
		text     string
		title    string
		priority string
	)

	cmd := &cobra.Command{
		Use:     "post",
		Short:   "Propose a social media post",
		Example: `  sentinel propose post --title "Launch day" --text "We are live!"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := action.NewSocialPost(text, title, action.Priority(priority), "")
			if err != nil {
				return err
			}
			return submitProposal(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "post text")
	cmd.Flags().StringVar(&title, "title", "", "post title")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, normal, high, urgent)")
	_ = cmd.MarkFlagRequired("text")

	return cmd
}

func newProposeMessageCommand() *cobra.Command {
	var (
		to       string
		text     string
		priority string
	)

	cmd := &cobra.Command{
		Use:     "message",
		Short:   "Propose a direct message",
		Example: `  sentinel propose message --to ops-team --text "Deploy window opens at 14:00."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := action.NewMessage(to, text, action.Priority(priority), "")
			if err != nil {
				return err
			}
			return submitProposal(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "message recipient")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, normal, high, urgent)")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("text")

	return cmd
}

func newProposeGeneralCommand() *cobra.Command {
	var (
		title    string
		body     string
		priority string
	)

	cmd := &cobra.Command{
		Use:     "general",
		Aliases: []string{"task"},
		Short:   "Propose a general task",
		Example: `  sentinel propose general --title "Rotate API keys" --body "Quarterly rotation."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := action.NewGeneral(title, body, action.Priority(priority), "")
			if err != nil {
				return err
			}
			return submitProposal(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&body, "body", "", "task description")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, normal, high, urgent)")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

// submitProposal writes a new record to Pending and reports where it went.
func submitProposal(ctx context.Context, a *action.Action) error {
	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	name := lifecycle.RecordName(a.ID)
	if err := app.repo.Write(ctx, vault.Pending, name, a); err != nil {
		return err
	}

	_ = app.tel.Events.PublishActionCreated(a.ID, string(a.Type))
	app.tel.Audit.Component("propose").AuditTrail(ctx, "action_proposed",
		fmt.Sprintf("action %s proposed", a.ID),
		map[string]interface{}{
			"action_id":   a.ID,
			"action_type": string(a.Type),
			"priority":    string(a.Priority),
		})

	path := filepath.Join(app.cfg.Vault.Dir, string(vault.Pending), name)
	log.Info().Str("action_id", a.ID).Str("file", path).Msg("Action proposed")

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"id":     a.ID,
			"type":   string(a.Type),
			"status": string(a.Status),
			"file":   path,
			"flags":  a.Flags,
		})
	}

	fmt.Printf("✓ Proposed %s action: %s\n", a.Type, a.ID)
	for _, f := range a.Flags {
		fmt.Printf("  ⚠ %s\n", f)
	}
	fmt.Printf("\nAwaiting approval in %s\n", path)
	return nil
}
