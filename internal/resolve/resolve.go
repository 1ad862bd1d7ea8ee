// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package resolve turns identifiers into concrete download targets through
// an ordered chain of resolvers. A resolver either produces a target, hands
// the identifier on to another resolver via a redirect, reports that
// credentials are needed, or fails with a human-actionable reason.
package resolve

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pdiddy/paperfetch/pkg/types"
)

// Priority orders resolvers; lower values are tried first.
type Priority int

const (
	Specialized Priority = iota
	General
	Fallback
)

func (p Priority) String() string {
	switch p {
	case Specialized:
		return "specialized"
	case General:
		return "general"
	case Fallback:
		return "fallback"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Context is the per-resolution configuration.
type Context struct {
	// MaxRedirects bounds resolver-to-resolver hops.
	MaxRedirects int
}

// Resolver turns one identifier into an Outcome.
//
// CanHandle must be conservative: a resolver claims only identifiers that
// are unambiguously its own so more specific resolvers are not starved.
// Resolve encodes expected failures as Failed or NeedsAuth outcomes; a
// non-nil error means an unexpected fault such as a network error.
type Resolver interface {
	Name() string
	Priority() Priority
	CanHandle(id types.Identifier) bool
	Resolve(ctx context.Context, id types.Identifier, rc Context) (Outcome, error)
}

// Target is a concrete download location.
type Target struct {
	URL      string
	Metadata types.Metadata

	// ExpectBinary marks a URL the resolver knows to serve the document
	// itself. The engine treats an HTML answer there as a login page or a
	// failure, never as the paper.
	ExpectBinary bool
}

// OutcomeKind tags the Outcome variant.
type OutcomeKind int

const (
	OutcomeTarget OutcomeKind = iota + 1
	OutcomeRedirect
	OutcomeNeedsAuth
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeTarget:
		return "target"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeNeedsAuth:
		return "needs_auth"
	case OutcomeFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Outcome is the result of one resolution step. Only the fields of the
// variant named by Kind are meaningful.
type Outcome struct {
	Kind OutcomeKind

	// OutcomeTarget.
	Target Target

	// OutcomeRedirect. Metadata gathered so far travels with the redirect.
	Next     types.Identifier
	Metadata types.Metadata

	// OutcomeNeedsAuth.
	Domain string
	Hint   string

	// OutcomeFailed.
	Reason     string
	Suggestion string
	FailKind   types.FailureKind
	Reasons    []string

	// Retryable marks an aggregated failure in which at least one resolver
	// hit an unexpected fault rather than a definitive answer.
	Retryable bool
}

// TargetOutcome is a terminal success at a URL that serves the document.
func TargetOutcome(url string, meta types.Metadata) Outcome {
	return Outcome{Kind: OutcomeTarget, Target: Target{URL: url, Metadata: meta, ExpectBinary: true}}
}

// RedirectOutcome re-enters resolution with next.
func RedirectOutcome(next types.Identifier, meta types.Metadata) Outcome {
	return Outcome{Kind: OutcomeRedirect, Next: next, Metadata: meta}
}

// NeedsAuthOutcome reports that domain requires credentials.
func NeedsAuthOutcome(domain, hint string) Outcome {
	return Outcome{Kind: OutcomeNeedsAuth, Domain: domain, Hint: hint}
}

// FailedOutcome is a terminal, human-actionable failure.
func FailedOutcome(reason, suggestion string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason, Suggestion: suggestion, FailKind: types.KindResolveFailed}
}

// Failure converts a NeedsAuth or Failed outcome into the failure taxonomy.
// It returns nil for other variants.
func (o Outcome) Failure() *types.Failure {
	switch o.Kind {
	case OutcomeNeedsAuth:
		return types.AuthFailure(o.Domain, o.Hint, 0)
	case OutcomeFailed:
		class := types.ClassPermanent
		if o.Retryable {
			class = types.ClassTransient
		}
		kind := o.FailKind
		if kind == "" {
			kind = types.KindResolveFailed
		}
		return &types.Failure{
			Class:      class,
			Kind:       kind,
			Cause:      o.Reason,
			Suggestion: o.Suggestion,
			Reasons:    append([]string(nil), o.Reasons...),
		}
	default:
		return nil
	}
}

// HTTPEnv is what network-backed resolvers share.
type HTTPEnv struct {
	Client    *http.Client
	UserAgent string

	// Mailto is sent to Crossref and OpenAlex for their polite pools.
	Mailto string
}
