package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sentinelops/sentinel/pkg/errclass"
	"github.com/sentinelops/sentinel/pkg/telemetry"
)

func testCallerConfig() CallerConfig {
	return CallerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		Retry:            fastRetryConfig(3),
	}
}

func TestCallerSuccess(t *testing.T) {
	c := NewCaller(testCallerConfig(), nil, nil, nil, nil)

	out := c.Execute(context.Background(), ExecRequest{
		Name:    "email.send",
		Circuit: "email",
		Fn: func(ctx context.Context) (interface{}, error) {
			return "sent", nil
		},
	})

	if !out.OK {
		t.Fatalf("Execute() failed: %v", out.Err)
	}
	if out.Result != "sent" {
		t.Errorf("result = %v, want sent", out.Result)
	}
	if got := c.Breaker("email").Status().SuccessCount; got != 1 {
		t.Errorf("breaker success count = %d, want 1", got)
	}
}

func TestCallerOpensCircuitAfterRepeatedFailures(t *testing.T) {
	cfg := testCallerConfig()
	cfg.Retry.MaxRetries = 1 // one attempt per Execute
	c := NewCaller(cfg, nil, nil, nil, nil)

	fail := func(ctx context.Context) (interface{}, error) {
		return nil, errclass.Transient("payments.charge", errors.New("503"))
	}

	for i := 0; i < 3; i++ {
		out := c.Execute(context.Background(), ExecRequest{
			Name: "payments.charge", Circuit: "payments", Fn: fail,
		})
		if out.OK {
			t.Fatal("Execute() should fail")
		}
	}

	if got := c.Breaker("payments").Status().State; got != "open" {
		t.Fatalf("circuit state = %q, want open", got)
	}

	// Next call is rejected without invoking fn.
	calls := 0
	out := c.Execute(context.Background(), ExecRequest{
		Name:    "payments.charge",
		Circuit: "payments",
		Fn: func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, nil
		},
	})
	if calls != 0 {
		t.Errorf("fn invoked %d times through an open circuit, want 0", calls)
	}
	if !errors.Is(out.Err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen in chain", out.Err)
	}
	if !errclass.IsRetryable(out.Err) {
		t.Error("circuit-open error should classify as transient")
	}
}

func TestCallerFeedsBreakerEveryAttempt(t *testing.T) {
	c := NewCaller(testCallerConfig(), nil, nil, nil, nil)

	attempts := 0
	out := c.Execute(context.Background(), ExecRequest{
		Name:    "payments.charge",
		Circuit: "payments",
		Fn: func(ctx context.Context) (interface{}, error) {
			attempts++
			return nil, errclass.Transient("payments.charge", errors.New("503"))
		},
	})

	if out.OK {
		t.Fatal("Execute() should fail")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	// Threshold 3 is reached inside a single Execute.
	if got := c.Breaker("payments").Status().State; got != "open" {
		t.Errorf("circuit state = %q, want open", got)
	}
}

func TestCallerStartsSpanPerExecute(t *testing.T) {
	tracer, err := telemetry.NewTracer(telemetry.TracingConfig{
		Enabled:      true,
		Exporter:     "none",
		SamplingRate: 1,
	}, "sentinel-test", "dev", "test")
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	defer tracer.Shutdown(context.Background())

	c := NewCaller(testCallerConfig(), nil, tracer, nil, nil)

	var traceID string
	out := c.Execute(context.Background(), ExecRequest{
		Name:    "email.send",
		Circuit: "email",
		Fn: func(ctx context.Context) (interface{}, error) {
			traceID = telemetry.TraceID(ctx)
			return "sent", nil
		},
	})

	if !out.OK {
		t.Fatalf("Execute() failed: %v", out.Err)
	}
	if traceID == "" {
		t.Error("operation ran without an active trace")
	}
}

func TestCallerFallbackOnFailure(t *testing.T) {
	cfg := testCallerConfig()
	cfg.Retry.MaxRetries = 2
	c := NewCaller(cfg, nil, nil, nil, nil)

	out := c.Execute(context.Background(), ExecRequest{
		Name:    "social.post",
		Circuit: "social",
		Fn: func(ctx context.Context) (interface{}, error) {
			return nil, errclass.Transient("social.post", errors.New("timeout"))
		},
		Fallback: func(err error) (interface{}, error) {
			return "queued for later", nil
		},
	})

	if out.OK {
		t.Error("OK should be false when the fallback ran")
	}
	if out.Result != "queued for later" {
		t.Errorf("result = %v, want fallback value", out.Result)
	}
	if out.Err == nil {
		t.Error("Err should carry the original failure")
	}
}

func TestCallerFallbackErrorSurfacesOriginal(t *testing.T) {
	c := NewCaller(testCallerConfig(), nil, nil, nil, nil)

	primary := errclass.Logic("general.run", errors.New("bad payload"))
	out := c.Execute(context.Background(), ExecRequest{
		Name: "general.run",
		Fn: func(ctx context.Context) (interface{}, error) {
			return nil, primary
		},
		Fallback: func(err error) (interface{}, error) {
			return nil, errors.New("fallback broke too")
		},
	})

	if !errors.Is(out.Err, primary) {
		t.Errorf("err = %v, want original failure", out.Err)
	}
	if out.Result != nil {
		t.Errorf("result = %v, want nil", out.Result)
	}
}

func TestCallerNonRetryableFeedsBreakerOnce(t *testing.T) {
	c := NewCaller(testCallerConfig(), nil, nil, nil, nil)

	calls := 0
	out := c.Execute(context.Background(), ExecRequest{
		Name:    "email.send",
		Circuit: "email",
		Fn: func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, errclass.Auth("email.send", errors.New("token expired"))
		},
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (auth errors fail fast)", calls)
	}
	if out.OK {
		t.Error("Execute() should fail")
	}
	if got := c.Breaker("email").Status().FailureCount; got != 1 {
		t.Errorf("breaker failure count = %d, want 1", got)
	}
}

func TestCallerStatesSnapshot(t *testing.T) {
	c := NewCaller(testCallerConfig(), nil, nil, nil, nil)
	c.Breaker("email")
	c.Breaker("payments")

	states := c.States()
	if len(states) != 2 {
		t.Fatalf("len(states) = %d, want 2", len(states))
	}
	for _, name := range []string{"email", "payments"} {
		st, ok := states[name]
		if !ok {
			t.Errorf("missing breaker %q", name)
			continue
		}
		if st.State != "closed" {
			t.Errorf("%s state = %q, want closed", name, st.State)
		}
	}
}
