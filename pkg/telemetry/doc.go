// Package telemetry provides observability instrumentation for sentinel.
//
// The package integrates structured logging (zerolog), an append-only JSONL
// audit trail, distributed tracing (OpenTelemetry), metrics (Prometheus),
// and event publishing into a unified system.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "sentinel"
//	cfg.Audit.Dir = "/var/lib/sentinel/audit"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with context propagation:
//
//	logger := tel.Logger.NewComponentLogger("lifecycle")
//	logger = logger.WithActionID("a1b2c3").WithCycle(42)
//	logger.Info("Processing approved action")
//	logger.WithError(err).Error("Dispatch failed")
//
// # Audit Trail
//
// The audit sink writes one JSON object per line to daily files named
// audit_YYYY-MM-DD.jsonl. Entries carry a level, category, component,
// event name, message, arbitrary data, and the active trace id:
//
//	audit := tel.Audit.Component("retry")
//	audit.RetryAttempt(ctx, "email.send", 1, 3, delay, err)
//	audit.AuditTrail(ctx, "action_approved", "payment approved by operator", data)
//
// # Tracing and Metrics
//
// Spans follow the standard otel API; cycle, action, and handler spans have
// dedicated constructors. Metrics are exposed via HTTP at /metrics when
// enabled (default :9090/metrics).
//
//	ctx, span := tel.Tracer.StartCycleSpan(ctx, cycleNum)
//	defer span.End()
//
//	tel.Metrics.RecordActionExecuted("payment", "succeeded")
//	tel.Metrics.SetCircuitState("email", 2)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	tel.Events.PublishActionTransitioned(actionID, "Pending", "Approved")
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// # Graceful Shutdown
//
// Always shut down telemetry to flush buffered events, pending traces, and
// the open audit file:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("telemetry shutdown error: %v", err)
//	}
package telemetry
