package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
)

func TestTimeoutsWithDefaults(t *testing.T) {
	got := Timeouts{}.withDefaults()
	if got.Ingest != 5*time.Minute || got.Validate != 10*time.Minute || got.Insert != 30*time.Minute {
		t.Errorf("withDefaults() = %+v, want 5m/10m/30m", got)
	}

	custom := Timeouts{Ingest: time.Minute}.withDefaults()
	if custom.Ingest != time.Minute {
		t.Errorf("explicit Ingest overridden: got %v, want 1m", custom.Ingest)
	}
	if custom.Validate != 10*time.Minute {
		t.Errorf("Validate should still default, got %v", custom.Validate)
	}
}

func TestRetryPolicyWithDefaults(t *testing.T) {
	got := RetryPolicy{}.withDefaults()
	if got.MaxAttempts != 3 || got.InitialInterval != 5*time.Second {
		t.Errorf("withDefaults() = %+v, want 3/5s", got)
	}
}

func newTestOrchestrator(retry RetryPolicy) *Orchestrator {
	return &Orchestrator{retry: retry.withDefaults(), timeouts: Timeouts{}.withDefaults()}
}

func TestRetryPhaseRetriesTransientFaults(t *testing.T) {
	o := newTestOrchestrator(RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond})
	attempts := 0
	err := o.retryPhase(context.Background(), time.Second, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return model.NewFault(model.ClassTransient, model.KindDBTimeout, "timeout", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryPhase returned %v, want nil after eventual success", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryPhaseStopsOnPermanentFault(t *testing.T) {
	o := newTestOrchestrator(RetryPolicy{MaxAttempts: 5, InitialInterval: time.Millisecond})
	attempts := 0
	permErr := model.NewFault(model.ClassPermanent, model.KindConstraintViolation, "bad row", nil)
	err := o.retryPhase(context.Background(), time.Second, func(context.Context) error {
		attempts++
		return permErr
	})
	if !errors.Is(err, permErr) {
		t.Errorf("err = %v, want the permanent fault surfaced unwrapped", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on a permanent fault)", attempts)
	}
}

func TestRetryPhaseStopsImmediatelyOnCancelledContext(t *testing.T) {
	o := newTestOrchestrator(RetryPolicy{MaxAttempts: 5, InitialInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := o.retryPhase(ctx, time.Second, func(context.Context) error {
		attempts++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0 (a cancelled context must short-circuit before running fn)", attempts)
	}
}

func TestRetryPhaseExhaustsMaxAttempts(t *testing.T) {
	o := newTestOrchestrator(RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond})
	attempts := 0
	transientErr := model.NewFault(model.ClassTransient, model.KindDeadlock, "deadlock", nil)
	err := o.retryPhase(context.Background(), time.Second, func(context.Context) error {
		attempts++
		return transientErr
	})
	if err == nil {
		t.Fatal("expected an error once retries are exhausted")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (MaxAttempts)", attempts)
	}
}
