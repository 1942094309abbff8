// Package policy provides the Open Policy Agent (OPA) handbook review for
// proposed actions.
//
// Every action surfaced for human approval first passes through the
// Engine, which evaluates the built-in handbook rules plus any overlay
// policies found in the vault's Policies directory. The result is a
// Review: the flag lines to merge into the record, a rendered reasoning
// text for the approver, and a warn bit that selects the recommendation.
//
// Built-in rules cover the payment amount thresholds ($500 review, $5,000
// escalation), the politeness reminder and impolite-language check on
// outbound text, urgent-priority notes, and propagation of flags already
// present on the record.
//
// Creating an engine and reviewing an action:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//		return err
//	}
//	if err := eng.LoadDirectory(ctx, filepath.Join(vaultRoot, "Policies")); err != nil {
//		return err
//	}
//	review, _ := eng.Review(ctx, act)
//	for _, flag := range review.Flags {
//		act.AddFlag(flag)
//	}
//	act.Reasoning = review.Reasoning
//
// Overlay policies are ordinary Rego modules whose deny rules yield
// objects with "message" and "severity" keys:
//
//	package sentinel.handbook.weekend
//
//	import rego.v1
//
//	deny contains violation if {
//		input.action.type == "social_post"
//		violation := {
//			"message": "FLAGGED: Social posts require marketing sign-off",
//			"severity": "warning",
//		}
//	}
//
// A policy that fails to evaluate is skipped with a warning. The review
// advises the approver; it never blocks the lifecycle.
package policy
