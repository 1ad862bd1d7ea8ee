// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/pdiddy/paperfetch/pkg/types"
)

// ReferenceResolver matches a free-text bibliographic reference against
// Crossref and redirects to the DOI of the best match.
type ReferenceResolver struct {
	env      HTTPEnv
	minScore float64
	log      zerolog.Logger
}

// NewReferenceResolver returns a reference resolver that accepts Crossref
// matches scoring at least minScore.
func NewReferenceResolver(env HTTPEnv, minScore float64, log zerolog.Logger) *ReferenceResolver {
	return &ReferenceResolver{env: env, minScore: minScore, log: log}
}

func (r *ReferenceResolver) Name() string       { return "reference" }
func (r *ReferenceResolver) Priority() Priority { return General }

func (r *ReferenceResolver) CanHandle(id types.Identifier) bool {
	return id.Kind == types.KindReference && id.Value != ""
}

type crossrefSearchResponse struct {
	Message struct {
		Items []crossrefWork `json:"items"`
	} `json:"message"`
}

func (r *ReferenceResolver) Resolve(ctx context.Context, id types.Identifier, _ Context) (Outcome, error) {
	q := url.Values{}
	q.Set("query.bibliographic", id.Value)
	q.Set("rows", "1")
	if r.env.Mailto != "" {
		q.Set("mailto", r.env.Mailto)
	}
	apiURL := crossrefAPIBase + "?" + q.Encode()

	var res crossrefSearchResponse
	if err := getJSON(ctx, r.env, r.log, apiURL, &res); err != nil {
		if errors.Is(err, errNotFound) {
			return r.noMatch(), nil
		}
		return Outcome{}, fmt.Errorf("Crossref bibliographic query: %w", err)
	}

	if len(res.Message.Items) == 0 {
		return r.noMatch(), nil
	}
	best := res.Message.Items[0]
	if best.DOI == "" || best.Score < r.minScore {
		r.log.Debug().Float64("score", best.Score).Float64("min_score", r.minScore).Str("doi", best.DOI).Msg("reference match below threshold")
		return r.noMatch(), nil
	}

	meta := best.metadata()
	return RedirectOutcome(types.NewIdentifier(types.KindDOI, best.DOI), meta), nil
}

func (r *ReferenceResolver) noMatch() Outcome {
	return FailedOutcome(
		"no confident Crossref match for reference",
		"add the paper's DOI or a direct PDF URL to the input instead of the citation text",
	)
}
