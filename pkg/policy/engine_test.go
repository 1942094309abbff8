package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sentinelops/sentinel/pkg/action"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return eng
}

func paymentAction(amount float64) *action.Action {
	return &action.Action{
		ID:       "payment_1756000000_abc123",
		Type:     action.TypePayment,
		Status:   action.StatusPending,
		Priority: action.PriorityHigh,
		To:       "Vendor Supplies Co.",
		Amount:   amount,
		Currency: "USD",
	}
}

func TestNewEngineLoadsBuiltinPolicies(t *testing.T) {
	eng := newTestEngine(t)

	expected := []string{
		"payment-threshold",
		"message-tone",
		"priority-review",
		"carried-flags",
	}

	policies := eng.ListPolicies()
	for _, want := range expected {
		found := false
		for _, p := range policies {
			if p.Name == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("built-in policy %s not loaded", want)
		}
	}
}

func TestReviewFlagsLargePayment(t *testing.T) {
	eng := newTestEngine(t)

	review, err := eng.Review(context.Background(), paymentAction(750))
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	found := false
	for _, f := range review.Flags {
		if strings.Contains(f, "$500") {
			found = true
		}
	}
	if !found {
		t.Errorf("flags = %v, want the $500 threshold flag", review.Flags)
	}
	if !review.Warn {
		t.Error("a flagged payment should set warn")
	}
	if !strings.Contains(review.Reasoning, "Review carefully before approving.") {
		t.Errorf("reasoning = %q, want the careful-review recommendation", review.Reasoning)
	}
}

func TestReviewSmallPaymentNotFlagged(t *testing.T) {
	eng := newTestEngine(t)

	review, err := eng.Review(context.Background(), paymentAction(45))
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	for _, f := range review.Flags {
		if strings.Contains(f, "$500") {
			t.Errorf("amount 45 should not carry the threshold flag, got %v", review.Flags)
		}
	}
	if review.Warn {
		t.Error("a clean payment should not warn")
	}
	if !strings.Contains(review.Reasoning, "Safe to approve.") {
		t.Errorf("reasoning = %q, want the safe recommendation", review.Reasoning)
	}
}

func TestReviewEscalatesCriticalAmount(t *testing.T) {
	eng := newTestEngine(t)

	review, err := eng.Review(context.Background(), paymentAction(7500))
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	found := false
	for _, f := range review.Flags {
		if strings.Contains(f, "$5,000") {
			found = true
		}
	}
	if !found {
		t.Errorf("flags = %v, want the $5,000 escalation flag", review.Flags)
	}
	if !review.Warn {
		t.Error("a critical amount should set warn")
	}
	if !strings.Contains(review.Reasoning, "escalate") {
		t.Errorf("reasoning = %q, want the escalation factor", review.Reasoning)
	}
}

func TestReviewFlagsImpoliteMessage(t *testing.T) {
	eng := newTestEngine(t)

	a := &action.Action{
		ID:     "message_1756000000_abc123",
		Type:   action.TypeMessage,
		Status: action.StatusPending,
		To:     "+1555000111",
		Body:   "This vendor is useless, cancel everything.",
	}

	review, err := eng.Review(context.Background(), a)
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	found := false
	for _, f := range review.Flags {
		if strings.Contains(f, "Impolite language") && strings.Contains(f, "'useless'") {
			found = true
		}
	}
	if !found {
		t.Errorf("flags = %v, want the impolite-language flag", review.Flags)
	}
	if !review.Warn {
		t.Error("impolite language should set warn")
	}
}

func TestReviewPoliteMessageGetsReminderOnly(t *testing.T) {
	eng := newTestEngine(t)

	a := &action.Action{
		ID:     "message_1756000000_abc123",
		Type:   action.TypeMessage,
		Status: action.StatusPending,
		To:     "+1555000111",
		Body:   "Thanks, will do!",
	}

	review, err := eng.Review(context.Background(), a)
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	found := false
	for _, f := range review.Flags {
		if strings.Contains(f, "polite tone") {
			found = true
		}
	}
	if !found {
		t.Errorf("flags = %v, want the tone reminder", review.Flags)
	}
	if review.Warn {
		t.Error("the reminder alone should not warn")
	}
}

func TestReviewCarriesExistingFlags(t *testing.T) {
	eng := newTestEngine(t)

	a := &action.Action{
		ID:     "general_1756000000_abc123",
		Type:   action.TypeGeneral,
		Status: action.StatusPending,
		Flags:  []string{"FLAGGED: Flagged at proposal time"},
	}

	review, err := eng.Review(context.Background(), a)
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	found := false
	for _, f := range review.Flags {
		if f == "FLAGGED: Flagged at proposal time" {
			found = true
		}
	}
	if !found {
		t.Errorf("flags = %v, want the pre-existing flag carried through", review.Flags)
	}
	if !review.Warn {
		t.Error("a carried FLAGGED entry should set warn")
	}
}

func TestReviewDeduplicatesFlags(t *testing.T) {
	eng := newTestEngine(t)

	// Builder output already carries the threshold flag; the carried-flags
	// and payment-threshold rules both re-derive it.
	a := paymentAction(750)
	a.Flags = []string{action.PaymentFlagText}

	review, err := eng.Review(context.Background(), a)
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	count := 0
	for _, f := range review.Flags {
		if strings.Contains(f, "$500") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("flags = %v, want one $500 flag after dedupe", review.Flags)
	}
}

func TestReviewNotesUrgentPriority(t *testing.T) {
	eng := newTestEngine(t)

	a := &action.Action{
		ID:       "general_1756000000_abc123",
		Type:     action.TypeGeneral,
		Status:   action.StatusPending,
		Priority: action.PriorityUrgent,
	}

	review, err := eng.Review(context.Background(), a)
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	found := false
	for _, f := range review.Flags {
		if strings.Contains(f, "Urgent priority") {
			found = true
		}
	}
	if !found {
		t.Errorf("flags = %v, want the urgent-priority note", review.Flags)
	}
	if review.Warn {
		t.Error("an informational note should not warn")
	}
}

func TestReviewReasoningLayout(t *testing.T) {
	eng := newTestEngine(t)

	review, err := eng.Review(context.Background(), paymentAction(750))
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	for _, section := range []string{"**Approval Factors:**", "**Warnings:**", "**Recommendation:**"} {
		if !strings.Contains(review.Reasoning, section) {
			t.Errorf("reasoning missing section %q:\n%s", section, review.Reasoning)
		}
	}
	if !strings.Contains(review.Reasoning, "Action type: payment") {
		t.Errorf("reasoning should name the action type:\n%s", review.Reasoning)
	}
	if !strings.Contains(review.Reasoning, "USD 750.00") {
		t.Errorf("reasoning should render the amount:\n%s", review.Reasoning)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	name := "payment-threshold"

	if err := eng.DisablePolicy(name); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}

	review, err := eng.Review(context.Background(), paymentAction(750))
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	for _, f := range review.Flags {
		if strings.Contains(f, "$500") {
			t.Errorf("disabled policy still produced %q", f)
		}
	}

	if err := eng.EnablePolicy(name); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}

	p, err := eng.GetPolicy(name)
	if err != nil {
		t.Fatalf("GetPolicy() error = %v", err)
	}
	if !p.Enabled {
		t.Error("policy should be enabled again")
	}
}

func TestLoadDirectoryOverlayPolicy(t *testing.T) {
	eng := newTestEngine(t)

	dir := t.TempDir()
	overlay := `package sentinel.handbook.weekend

import rego.v1

deny contains violation if {
	input.action.type == "social_post"
	violation := {
		"message": "FLAGGED: Social posts require marketing sign-off",
		"severity": "warning",
	}
}`
	if err := os.WriteFile(filepath.Join(dir, "weekend.rego"), []byte(overlay), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := eng.LoadDirectory(context.Background(), dir); err != nil {
		t.Fatalf("LoadDirectory() error = %v", err)
	}

	a := &action.Action{
		ID:     "social_1756000000_abc123",
		Type:   action.TypeSocialPost,
		Status: action.StatusPending,
		Body:   "Excited to announce our new release!",
	}

	review, err := eng.Review(context.Background(), a)
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	found := false
	for _, f := range review.Flags {
		if strings.Contains(f, "marketing sign-off") {
			found = true
		}
	}
	if !found {
		t.Errorf("flags = %v, want the overlay flag", review.Flags)
	}
}

func TestLoadDirectoryMissingIsNotAnError(t *testing.T) {
	eng := newTestEngine(t)

	if err := eng.LoadDirectory(context.Background(), filepath.Join(t.TempDir(), "Policies")); err != nil {
		t.Errorf("LoadDirectory() on a missing dir should be nil, got %v", err)
	}
}

func TestReloadPolicies(t *testing.T) {
	eng := newTestEngine(t)

	initial := len(eng.ListPolicies())

	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("ReloadPolicies() error = %v", err)
	}

	if got := len(eng.ListPolicies()); got != initial {
		t.Errorf("policies after reload = %d, want %d", got, initial)
	}
}

func TestListPoliciesHaveRequiredFields(t *testing.T) {
	eng := newTestEngine(t)

	for _, p := range eng.ListPolicies() {
		if p.Name == "" {
			t.Error("policy has empty name")
		}
		if p.Rego == "" {
			t.Error("policy has empty Rego code")
		}
		if p.CreatedAt.IsZero() {
			t.Error("policy has zero CreatedAt")
		}
	}
}
