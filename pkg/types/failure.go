// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
)

// FailureClass governs retry policy for a failed attempt.
type FailureClass string

const (
	// ClassTransient failures (timeouts, resets, 5xx) are requeued with backoff.
	ClassTransient FailureClass = "transient"

	// ClassPermanent failures (404, malformed target, integrity mismatch) are terminal.
	ClassPermanent FailureClass = "permanent"

	// ClassAuthRequired failures need external credential action.
	ClassAuthRequired FailureClass = "auth_required"
)

// FailureKind names the specific condition behind a failure.
type FailureKind string

const (
	KindRedirectLimitExceeded FailureKind = "redirect_limit_exceeded"
	KindAllResolversFailed    FailureKind = "all_resolvers_failed"
	KindResolveFailed         FailureKind = "resolve_failed"
	KindAuthRequired          FailureKind = "auth_required"
	KindTransient             FailureKind = "transient"
	KindPermanent             FailureKind = "permanent"
	KindIntegrityMismatch     FailureKind = "integrity_mismatch"
)

// Failure is a classified, structured failure. It is computed once when the
// failure happens and persisted as-is, so reporting never re-derives intent
// from a message string.
type Failure struct {
	Class FailureClass `json:"class" yaml:"class"`
	Kind  FailureKind  `json:"kind" yaml:"kind"`

	// Cause says what happened.
	Cause string `json:"cause" yaml:"cause"`

	// Suggestion says what the operator can do next.
	Suggestion string `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`

	// Domain is the host that demanded authentication or failed.
	Domain string `json:"domain,omitempty" yaml:"domain,omitempty"`

	// StatusCode is the HTTP status that triggered the failure, if any.
	StatusCode int `json:"status_code,omitempty" yaml:"status_code,omitempty"`

	// Expected and Actual carry byte counts for integrity mismatches.
	Expected int64 `json:"expected,omitempty" yaml:"expected,omitempty"`
	Actual   int64 `json:"actual,omitempty" yaml:"actual,omitempty"`

	// Reasons lists per-resolver failure reasons ("name: reason").
	Reasons []string `json:"reasons,omitempty" yaml:"reasons,omitempty"`
}

// Error renders the failure as "<cause> [domain]: suggestion".
func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(f.Cause)
	if f.Domain != "" {
		fmt.Fprintf(&b, " [%s]", f.Domain)
	}
	if len(f.Reasons) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(f.Reasons, "; "))
	}
	if f.Suggestion != "" {
		b.WriteString(": ")
		b.WriteString(f.Suggestion)
	}
	return b.String()
}

// Retryable reports whether the failure may be requeued.
func (f *Failure) Retryable() bool {
	return f != nil && f.Class == ClassTransient
}

// TransientFailure builds a retryable failure.
func TransientFailure(cause string, statusCode int) *Failure {
	return &Failure{
		Class:      ClassTransient,
		Kind:       KindTransient,
		Cause:      cause,
		StatusCode: statusCode,
		Suggestion: "the item will be retried automatically; if it keeps failing, check network connectivity or try later",
	}
}

// PermanentFailure builds a terminal failure with an actionable suggestion.
func PermanentFailure(cause, suggestion string, statusCode int) *Failure {
	return &Failure{
		Class:      ClassPermanent,
		Kind:       KindPermanent,
		Cause:      cause,
		Suggestion: suggestion,
		StatusCode: statusCode,
	}
}

// AuthFailure builds a terminal auth-required failure tagged with domain.
func AuthFailure(domain, hint string, statusCode int) *Failure {
	if hint == "" {
		hint = "log in to " + domain + " in your browser or configure institutional access, then enqueue the item again"
	}
	return &Failure{
		Class:      ClassAuthRequired,
		Kind:       KindAuthRequired,
		Cause:      "authentication required",
		Domain:     domain,
		Suggestion: hint,
		StatusCode: statusCode,
	}
}

// IntegrityFailure builds a terminal size-mismatch failure.
func IntegrityFailure(expected, actual int64) *Failure {
	return &Failure{
		Class:      ClassPermanent,
		Kind:       KindIntegrityMismatch,
		Cause:      fmt.Sprintf("integrity mismatch: expected %d bytes, wrote %d", expected, actual),
		Suggestion: "the server sent a truncated or oversized file; verify the source URL in a browser and enqueue it again",
		Expected:   expected,
		Actual:     actual,
	}
}
