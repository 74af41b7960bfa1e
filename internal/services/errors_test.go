package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"loom/internal/services"
)

func TestWrapPreservesMarkerAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := services.Wrap(services.ErrTransient, "generate-content", "call provider", "request failed", cause)

	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to survive wrapping: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to survive wrapping: %v", err)
	}
	if !strings.Contains(err.Error(), "generate-content") {
		t.Fatalf("expected stage context in message: %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		kind   services.Kind
		retry  bool
		dispos services.Disposition
	}{
		{"auth", services.Wrap(services.ErrAuth, "login", "", "cookie rejected", nil), services.KindAuth, false, services.DispositionBlocked},
		{"transient", services.Wrap(services.ErrTransient, "generate", "", "timeout", nil), services.KindTransient, true, services.DispositionError},
		{"automation", services.Wrap(services.ErrAutomation, "login", "navigate", "selector missing", nil), services.KindAutomation, true, services.DispositionError},
		{"validation", services.Wrap(services.ErrValidation, "generate", "", "empty prompt", nil), services.KindValidation, false, services.DispositionError},
		{"stale", services.ErrStaleJob, services.KindStaleJob, false, services.DispositionNone},
		{"conflict", services.Wrap(services.ErrConflict, "extract", "", "profile locked", nil), services.KindConflict, true, services.DispositionError},
		{"unmarked", fmt.Errorf("something odd"), services.KindTransient, true, services.DispositionError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Classify(tc.err); got != tc.kind {
				t.Fatalf("Classify = %s, want %s", got, tc.kind)
			}
			if got := services.Retryable(tc.err); got != tc.retry {
				t.Fatalf("Retryable = %v, want %v", got, tc.retry)
			}
			if got := services.AccountDisposition(tc.err); got != tc.dispos {
				t.Fatalf("AccountDisposition = %v, want %v", got, tc.dispos)
			}
		})
	}
}

func TestRetryDelayBacksOffExponentially(t *testing.T) {
	policy := services.RetryPolicy{
		BackoffBase:  5 * time.Second,
		BackoffCap:   5 * time.Minute,
		ConflictWait: 2 * time.Second,
	}
	err := services.Wrap(services.ErrTransient, "generate", "", "timeout", nil)

	if got := services.RetryDelay(err, policy, 1); got != 10*time.Second {
		t.Fatalf("RetryDelay(retry=1) = %v, want 10s", got)
	}
	if got := services.RetryDelay(err, policy, 2); got != 20*time.Second {
		t.Fatalf("RetryDelay(retry=2) = %v, want 20s", got)
	}
	if got := services.RetryDelay(err, policy, 12); got != 5*time.Minute {
		t.Fatalf("RetryDelay(retry=12) = %v, want cap 5m", got)
	}
}

func TestRetryDelayUsesFixedConflictWait(t *testing.T) {
	policy := services.RetryPolicy{
		BackoffBase:  5 * time.Second,
		BackoffCap:   5 * time.Minute,
		ConflictWait: 2 * time.Second,
	}
	err := services.Wrap(services.ErrConflict, "extract", "", "profile locked", nil)

	for retry := 0; retry < 4; retry++ {
		if got := services.RetryDelay(err, policy, retry); got != 2*time.Second {
			t.Fatalf("RetryDelay(retry=%d) = %v, want fixed 2s", retry, got)
		}
	}
}
