package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel markers for the pipeline's failure taxonomy. Stage handlers and
// collaborator clients wrap their errors with exactly one marker; the worker
// engine classifies on the marker alone.
var (
	// ErrTransient covers network and timeout failures; retried with
	// exponential backoff.
	ErrTransient = errors.New("transient failure")
	// ErrAuth covers expired or invalid credentials; never retried, the
	// account is blocked until a fresh interactive login.
	ErrAuth = errors.New("authentication failure")
	// ErrAutomation covers navigation and selector failures in the browser
	// driver; retried since transient page races are common.
	ErrAutomation = errors.New("automation failure")
	// ErrValidation covers malformed payloads; terminal immediately.
	ErrValidation = errors.New("validation failure")
	// ErrStaleJob marks a job that outlived its account's stage; terminal,
	// never surfaced on the account.
	ErrStaleJob = errors.New("stale job")
	// ErrConflict covers a browser profile or session already in use;
	// retried after a short fixed delay.
	ErrConflict = errors.New("resource conflict")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind is the classified failure category of a stage error.
type Kind string

const (
	KindTransient  Kind = "transient"
	KindAuth       Kind = "auth"
	KindAutomation Kind = "automation"
	KindValidation Kind = "validation"
	KindStaleJob   Kind = "stale_job"
	KindConflict   Kind = "conflict"
)

// Classify maps an error to its taxonomy kind. Unmarked errors are treated
// as transient so that an unclassified infrastructure hiccup is retried
// rather than silently terminal.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrStaleJob):
		return KindStaleJob
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrAutomation):
		return KindAutomation
	default:
		return KindTransient
	}
}

// Retryable reports whether the error's kind permits another attempt.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindTransient, KindAutomation, KindConflict:
		return true
	default:
		return false
	}
}

// Disposition describes how a terminal failure lands on the account.
type Disposition int

const (
	// DispositionNone leaves the account untouched (internal guards).
	DispositionNone Disposition = iota
	// DispositionError flags the account for operator attention; the stage
	// is retained so the same stage can be re-requested.
	DispositionError
	// DispositionBlocked marks the account unusable until a fresh
	// interactive login cycle.
	DispositionBlocked
)

// AccountDisposition returns where a terminally failed job leaves its account.
func AccountDisposition(err error) Disposition {
	switch Classify(err) {
	case KindAuth:
		return DispositionBlocked
	case KindStaleJob:
		return DispositionNone
	default:
		return DispositionError
	}
}

// RetryPolicy holds the per-stage delay tuning for retryable failures.
type RetryPolicy struct {
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	ConflictWait time.Duration
}

// RetryDelay computes how long a retried job waits before its next lease.
// Conflicts clear quickly so they use a short fixed delay; everything else
// backs off exponentially on the new retry count, capped by the policy.
func RetryDelay(err error, policy RetryPolicy, retryCount int) time.Duration {
	if Classify(err) == KindConflict {
		if policy.ConflictWait > 0 {
			return policy.ConflictWait
		}
		return 2 * time.Second
	}

	base := policy.BackoffBase
	if base <= 0 {
		base = 5 * time.Second
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		retryCount = 30
	}
	delay := base * time.Duration(1<<uint(retryCount))
	if policy.BackoffCap > 0 && delay > policy.BackoffCap {
		delay = policy.BackoffCap
	}
	return delay
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
