// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/pdiddy/paperfetch/pkg/types"
)

// Registry orders resolvers by priority and runs the resolution loop.
// It holds no per-call state and is safe for concurrent use once all
// resolvers are registered.
type Registry struct {
	resolvers []Resolver
	log       zerolog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{log: log}
}

// Register appends resolvers. Registration order breaks priority ties.
func (r *Registry) Register(rs ...Resolver) {
	r.resolvers = append(r.resolvers, rs...)
}

// Resolvers returns the registered resolvers in registration order.
func (r *Registry) Resolvers() []Resolver {
	return append([]Resolver(nil), r.resolvers...)
}

// candidates returns the resolvers that accept id, ordered by priority
// with ties kept in registration order.
func (r *Registry) candidates(id types.Identifier) []Resolver {
	var out []Resolver
	for _, res := range r.resolvers {
		if res.CanHandle(id) {
			out = append(out, res)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() < out[j].Priority()
	})
	return out
}

// Resolve runs the resolution loop for id. It returns a Target, NeedsAuth or
// Failed outcome; redirects are followed internally within rc.MaxRedirects
// hops. The only error returned is a context cancellation.
func (r *Registry) Resolve(ctx context.Context, id types.Identifier, rc Context) (Outcome, error) {
	var (
		reasons   []string
		meta      types.Metadata
		faulted   bool
		budget    = rc.MaxRedirects
		current   = id
		hopsTaken int
	)

restart:
	for {
		cands := r.candidates(current)
		if len(cands) == 0 {
			reasons = append(reasons, fmt.Sprintf("no resolver accepts %s", current))
		}

		for _, res := range cands {
			if err := ctx.Err(); err != nil {
				return Outcome{}, err
			}

			out, err := res.Resolve(ctx, current, rc)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return Outcome{}, ctxErr
				}
				faulted = true
				reasons = append(reasons, fmt.Sprintf("%s: %v", res.Name(), err))
				r.log.Debug().Err(err).Str("resolver", res.Name()).Stringer("identifier", current).Msg("resolver fault")
				continue
			}

			switch out.Kind {
			case OutcomeTarget:
				out.Target.Metadata = meta.Merge(out.Target.Metadata)
				r.log.Debug().Str("resolver", res.Name()).Str("url", out.Target.URL).Int("hops", hopsTaken).Msg("resolved")
				return out, nil

			case OutcomeNeedsAuth:
				r.log.Debug().Str("resolver", res.Name()).Str("domain", out.Domain).Msg("resolver needs auth")
				return out, nil

			case OutcomeRedirect:
				meta = meta.Merge(out.Metadata)
				budget--
				if budget < 0 {
					return Outcome{
						Kind:       OutcomeFailed,
						Reason:     "redirect limit exceeded",
						Suggestion: fmt.Sprintf("resolution of %s did not settle within %d redirects; pass a direct PDF URL instead", id, rc.MaxRedirects),
						FailKind:   types.KindRedirectLimitExceeded,
						Reasons:    reasons,
					}, nil
				}
				hopsTaken++
				r.log.Debug().Str("resolver", res.Name()).Stringer("from", current).Stringer("to", out.Next).Msg("redirect")
				current = out.Next
				continue restart

			case OutcomeFailed:
				reasons = append(reasons, fmt.Sprintf("%s: %s", res.Name(), out.Reason))

			default:
				faulted = true
				reasons = append(reasons, fmt.Sprintf("%s: invalid outcome", res.Name()))
			}
		}

		return Outcome{
			Kind:       OutcomeFailed,
			Reason:     "all resolvers failed",
			Suggestion: "check the identifier, or supply a DOI or direct PDF URL",
			FailKind:   types.KindAllResolversFailed,
			Reasons:    reasons,
			Retryable:  faulted,
		}, nil
	}
}
