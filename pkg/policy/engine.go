package policy

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"

	"github.com/sentinelops/sentinel/pkg/action"
	"github.com/sentinelops/sentinel/pkg/telemetry"
)

// CriticalAmountThreshold is the payment amount above which a review
// recommends escalation.
const CriticalAmountThreshold = 5000.0

// Engine evaluates handbook policies against action records.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	log      *telemetry.Logger
	builtin  []Policy
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in handbook rules
// already compiled.
func NewEngine(log *telemetry.Logger) (*Engine, error) {
	if log == nil {
		log = telemetry.NewNopLogger()
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		log:      log.NewComponentLogger("policy-engine"),
		builtin:  BuiltinPolicies(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Review evaluates every enabled policy against the action and renders the
// assessment for the approver. A policy that fails to evaluate is skipped
// with a warning; the review itself never blocks the lifecycle.
func (e *Engine) Review(ctx context.Context, a *action.Action) (*Review, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := buildInput(a)

	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)

	var violations []Violation
	for _, name := range names {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		vs, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.log.WithError(err).
				WithActionID(a.ID).
				WithField("policy", cp.policy.Name).
				Warn("policy evaluation failed, skipping")
			continue
		}
		violations = append(violations, vs...)
	}

	review := buildReview(a, violations)

	e.log.WithActionID(a.ID).
		WithField("flags", len(review.Flags)).
		WithField("warn", review.Warn).
		WithField("duration", time.Since(start)).
		Debug("handbook review completed")

	return review, nil
}

// LoadDirectory loads overlay policies from a vault Policies directory.
// A missing directory is not an error; most vaults run on the built-in
// rules alone.
func (e *Engine) LoadDirectory(ctx context.Context, dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		e.log.WithField("dir", dir).Debug("no policy overlay directory")
		return nil
	}
	return e.LoadPolicies(ctx, []string{dir})
}

// LoadPolicies loads policy files from the given paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.log)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.log.WithError(err).
				WithField("policy", policies[i].Name).
				Error("failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.log.WithField("count", len(policies)).Info("policies loaded")
	return nil
}

// buildInput projects an action into the policy input document.
func buildInput(a *action.Action) *ReviewInput {
	return &ReviewInput{
		Action: &ActionInput{
			ID:       a.ID,
			Type:     string(a.Type),
			Status:   string(a.Status),
			Priority: string(a.Priority),
			To:       a.To,
			Subject:  a.Subject,
			Amount:   a.Amount,
			Currency: a.Currency,
			Body:     a.Body,
			Flags:    a.Flags,
		},
		Context: &ReviewContext{
			Timestamp: time.Now(),
			Operation: "review",
		},
	}
}

// buildReview folds violations into flags, the warn bit, and the rendered
// reasoning text.
func buildReview(a *action.Action, violations []Violation) *Review {
	review := &Review{
		Violations:  violations,
		EvaluatedAt: time.Now(),
	}

	seen := make(map[string]bool)
	for _, v := range violations {
		if v.Severity.Warns() {
			review.Warn = true
		}
		if seen[v.Message] {
			continue
		}
		seen[v.Message] = true
		review.Flags = append(review.Flags, v.Message)
	}

	review.Reasoning = renderReasoning(a, review.Flags, review.Warn)
	return review
}

// renderReasoning produces the assessment text stored in the record's
// reasoning field.
func renderReasoning(a *action.Action, flags []string, warn bool) string {
	var b strings.Builder

	b.WriteString("**Approval Factors:**\n")
	fmt.Fprintf(&b, "- Action type: %s\n", a.Type)
	if a.Priority != "" {
		fmt.Fprintf(&b, "- Priority: %s\n", a.Priority)
	}
	if a.Type == action.TypePayment {
		currency := a.Currency
		if currency == "" {
			currency = "USD"
		}
		fmt.Fprintf(&b, "- Amount: %s %.2f\n", currency, a.Amount)
		switch {
		case a.Amount > CriticalAmountThreshold:
			b.WriteString("- Critical amount: exceeds $5,000, escalate before approving\n")
		case a.Amount > action.PaymentFlagThreshold:
			b.WriteString("- Large amount: exceeds the $500 approval threshold\n")
		}
	}
	if a.To != "" {
		fmt.Fprintf(&b, "- Recipient: %s\n", a.To)
	}

	if len(flags) > 0 {
		b.WriteString("\n**Warnings:**\n")
		for _, f := range flags {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	b.WriteString("\n**Recommendation:** ")
	if warn {
		b.WriteString("Review carefully before approving.")
	} else {
		b.WriteString("Safe to approve.")
	}

	return b.String()
}

// evaluatePolicy runs one prepared deny query against the input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *ReviewInput) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}

	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(regoCode string) string {
	for _, line := range strings.Split(regoCode, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "sentinel.handbook"
}

// createViolation converts one deny result into a Violation.
func createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = parseSeverity(sev, policy.Severity)
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and prepares its deny query.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	packageName := extractPackageName(policy.Rego)
	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(fmt.Sprintf("data.%s.deny", packageName)),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	e.log.WithField("policy", policy.Name).Debug("policy compiled")
	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtin {
		if err := e.compileAndStorePolicy(ctx, &e.builtin[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtin[i].Name, err)
		}
	}

	e.log.WithField("count", len(e.builtin)).Info("built-in policies loaded")
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// ReloadPolicies drops everything and reloads the built-in rules. Overlay
// directories must be loaded again by the caller.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	e.log.WithField("policy", name).Info("policy enabled")
	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.log.WithField("policy", name).Info("policy disabled")
	return nil
}
