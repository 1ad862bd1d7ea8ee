// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"context"
	"net/url"
	"regexp"

	"github.com/pdiddy/paperfetch/pkg/types"
)

// SiteRule maps landing URLs on one site to that site's PDF endpoint.
type SiteRule struct {
	Name  string
	Hosts []string

	// Match is applied to the URL path; a URL on the right host whose path
	// does not match is not claimed.
	Match *regexp.Regexp

	// Rewrite builds the PDF URL from the parsed URL and Match submatches.
	// An empty result means the URL is not claimed.
	Rewrite func(u *url.URL, m []string) string
}

// SiteResolver applies one SiteRule.
type SiteResolver struct {
	rule SiteRule
}

// NewSiteResolver returns a resolver for rule.
func NewSiteResolver(rule SiteRule) *SiteResolver {
	return &SiteResolver{rule: rule}
}

func (s *SiteResolver) Name() string       { return s.rule.Name }
func (s *SiteResolver) Priority() Priority { return Specialized }

func (s *SiteResolver) CanHandle(id types.Identifier) bool {
	_, ok := s.rewrite(id)
	return ok
}

func (s *SiteResolver) Resolve(_ context.Context, id types.Identifier, _ Context) (Outcome, error) {
	target, ok := s.rewrite(id)
	if !ok {
		return FailedOutcome("not a "+s.rule.Name+" URL", "pass the paper's landing or PDF URL"), nil
	}
	return TargetOutcome(target, types.Metadata{SourceURL: id.Value}), nil
}

func (s *SiteResolver) rewrite(id types.Identifier) (string, bool) {
	if id.Kind != types.KindURL {
		return "", false
	}
	u, ok := parseHTTPURL(id.Value)
	if !ok || !hostIs(u, s.rule.Hosts...) {
		return "", false
	}
	m := s.rule.Match.FindStringSubmatch(u.Path)
	if m == nil {
		return "", false
	}
	target := s.rule.Rewrite(u, m)
	return target, target != ""
}

// DefaultSiteRules covers sites whose PDF location is a fixed function of
// the landing URL.
func DefaultSiteRules() []SiteRule {
	return []SiteRule{
		{
			Name:  "openreview",
			Hosts: []string{"openreview.net"},
			Match: regexp.MustCompile(`^/(forum|pdf)/?$`),
			Rewrite: func(u *url.URL, _ []string) string {
				id := u.Query().Get("id")
				if id == "" {
					return ""
				}
				return "https://openreview.net/pdf?id=" + url.QueryEscape(id)
			},
		},
		{
			Name:  "acl",
			Hosts: []string{"aclanthology.org"},
			Match: regexp.MustCompile(`^/([A-Za-z0-9][A-Za-z0-9.\-]*?\d)(?:\.pdf)?/?$`),
			Rewrite: func(_ *url.URL, m []string) string {
				return "https://aclanthology.org/" + m[1] + ".pdf"
			},
		},
		{
			Name:  "pmc",
			Hosts: []string{"ncbi.nlm.nih.gov", "pmc.ncbi.nlm.nih.gov"},
			Match: regexp.MustCompile(`^(?:/pmc)?/articles/(PMC\d+)(?:/.*)?$`),
			Rewrite: func(_ *url.URL, m []string) string {
				return "https://pmc.ncbi.nlm.nih.gov/articles/" + m[1] + "/pdf/"
			},
		},
	}
}
