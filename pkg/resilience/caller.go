package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelops/sentinel/pkg/errclass"
	"github.com/sentinelops/sentinel/pkg/telemetry"
)

// ErrCircuitOpen is returned (wrapped as transient) when a call is
// short-circuited by an open breaker.
var ErrCircuitOpen = errors.New("circuit open")

// CallerConfig configures the resilient caller and the breakers it owns.
type CallerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a breaker.
	FailureThreshold int `yaml:"failure_threshold" validate:"min=1"`

	// RecoveryTimeout is how long an open breaker waits before probing.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" validate:"min=0"`

	// Retry is the default retry policy for Execute.
	Retry RetryConfig `yaml:"retry"`
}

// DefaultCallerConfig returns the standard caller policy.
func DefaultCallerConfig() CallerConfig {
	return CallerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
		Retry:            DefaultRetryConfig(),
	}
}

// FallbackFunc produces a substitute result when the primary call has
// permanently failed. It receives the final error.
type FallbackFunc func(err error) (interface{}, error)

// ExecRequest describes one resilient call.
type ExecRequest struct {
	// Name identifies the operation in audit events.
	Name string

	// Circuit selects the breaker guarding this call. Empty skips
	// circuit breaking.
	Circuit string

	// Fn is the guarded operation.
	Fn Fn

	// Fallback, if set, runs on final failure (including open circuit).
	Fallback FallbackFunc

	// Retry overrides the caller's default retry policy when non-nil.
	Retry *RetryConfig
}

// Outcome is the tri-state result of a resilient call. OK means the
// primary operation succeeded. When a fallback ran, OK is false, Result
// holds the fallback's value, and Err holds the original failure.
type Outcome struct {
	OK     bool
	Result interface{}
	Err    error
}

// Caller composes retry and circuit breaking over named dependencies.
// One Caller owns all breakers for a process.
type Caller struct {
	cfg     CallerConfig
	audit   *telemetry.Audit
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewCaller creates a resilient caller. audit, tracer, metrics, and
// events may all be nil.
func NewCaller(cfg CallerConfig, audit *telemetry.Audit, tracer *telemetry.Tracer, metrics *telemetry.Metrics, events *telemetry.EventPublisher) *Caller {
	return &Caller{
		cfg:      cfg,
		audit:    audit,
		tracer:   tracer,
		metrics:  metrics,
		events:   events,
		breakers: make(map[string]*Breaker),
	}
}

// Breaker returns the breaker for name, creating it on first use.
func (c *Caller) Breaker(name string) *Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.breakers[name]
	if !ok {
		b = NewBreaker(name, c.cfg.FailureThreshold, c.cfg.RecoveryTimeout)
		b.OnTransition(c.observeTransition)
		c.breakers[name] = b
	}
	return b
}

// States returns a snapshot of every breaker, keyed by name.
func (c *Caller) States() map[string]BreakerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]BreakerStatus, len(c.breakers))
	for name, b := range c.breakers {
		out[name] = b.Status()
	}
	return out
}

// Execute runs one resilient call: open-circuit short-circuit, retry over
// the operation with the breaker fed on every attempt, fallback on
// permanent failure.
func (c *Caller) Execute(ctx context.Context, req ExecRequest) Outcome {
	if c.tracer == nil {
		return c.execute(ctx, req)
	}

	ctx, span := c.tracer.StartSpan(ctx, req.Name,
		telemetry.AttrCircuitName.String(req.Circuit))
	defer span.End()

	out := c.execute(ctx, req)
	if out.Err != nil {
		telemetry.RecordError(span, out.Err)
	} else {
		telemetry.RecordSuccess(span)
	}
	return out
}

func (c *Caller) execute(ctx context.Context, req ExecRequest) Outcome {
	var breaker *Breaker
	if req.Circuit != "" {
		breaker = c.Breaker(req.Circuit)
		if !breaker.CanExecute() {
			err := errclass.Transient(req.Name, fmt.Errorf("%w: %s", ErrCircuitOpen, req.Circuit))
			if c.audit != nil {
				c.audit.Warning(ctx, telemetry.CategoryCircuit, "circuit_rejected",
					fmt.Sprintf("%s rejected, circuit %s is open", req.Name, req.Circuit),
					map[string]interface{}{
						"operation": req.Name,
						"circuit":   req.Circuit,
					})
			}
			return c.fail(ctx, req, err)
		}
	}

	retryCfg := c.cfg.Retry
	if req.Retry != nil {
		retryCfg = *req.Retry
	}
	observe := retryCfg.OnAttempt
	retryCfg.OnAttempt = func(attemptErr error) {
		if breaker != nil {
			if attemptErr != nil {
				breaker.RecordFailure()
			} else {
				breaker.RecordSuccess()
			}
		}
		if c.metrics != nil && attemptErr != nil {
			c.metrics.RecordRetryAttempt(req.Name)
		}
		if observe != nil {
			observe(attemptErr)
		}
	}

	result, err := Retry(ctx, retryCfg, c.audit, req.Name, req.Fn)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordError(string(errclass.Classify(err)))
		}
		return c.fail(ctx, req, err)
	}
	return Outcome{OK: true, Result: result}
}

// fail runs the fallback when present and builds the failure outcome.
func (c *Caller) fail(ctx context.Context, req ExecRequest, err error) Outcome {
	if req.Fallback == nil {
		return Outcome{Err: err}
	}

	fbResult, fbErr := req.Fallback(err)
	if fbErr != nil {
		if c.audit != nil {
			c.audit.Error(ctx, telemetry.CategoryCircuit, "fallback_failed",
				fmt.Sprintf("fallback for %s failed", req.Name),
				map[string]interface{}{
					"operation": req.Name,
					"error":     fbErr.Error(),
				})
		}
		return Outcome{Err: err}
	}
	return Outcome{Result: fbResult, Err: err}
}

// observeTransition publishes breaker transitions to metrics and events.
func (c *Caller) observeTransition(name string, from, to State) {
	if c.metrics != nil {
		c.metrics.SetCircuitState(name, stateGaugeValue(to))
	}
	if c.events != nil {
		_ = c.events.PublishCircuitStateChange(name, from.String(), to.String())
	}
}

func stateGaugeValue(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}
