// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/paperfetch/internal/httputil"
	"github.com/pdiddy/paperfetch/pkg/types"
)

// Base URLs for arXiv. Declared as vars so tests can substitute httptest
// servers.
var (
	arxivPDFBase = "https://arxiv.org/pdf/"
	arxivAPIBase = "https://export.arxiv.org/api/query"
)

// arxivPathPattern extracts new-style and old-style arXiv IDs from
// /abs/<id>, /pdf/<id> and /pdf/<id>.pdf paths.
var arxivPathPattern = regexp.MustCompile(`^/(?:abs|pdf)/((?:\d{4}\.\d{4,5}|[a-z\-]+(?:\.[A-Z]{2})?/\d{7})(?:v\d+)?)(?:\.pdf)?/?$`)

// arxivDOIPattern matches DataCite DOIs assigned by arXiv.
var arxivDOIPattern = regexp.MustCompile(`(?i)^10\.48550/arxiv\.(\d{4}\.\d{4,5}(?:v\d+)?)$`)

// ArxivResolver maps arXiv landing pages, PDF links and arXiv DOIs to the
// canonical PDF URL, with metadata from the arXiv API when available.
type ArxivResolver struct {
	env HTTPEnv
	log zerolog.Logger
}

// NewArxivResolver returns an arXiv resolver.
func NewArxivResolver(env HTTPEnv, log zerolog.Logger) *ArxivResolver {
	return &ArxivResolver{env: env, log: log}
}

func (r *ArxivResolver) Name() string       { return "arxiv" }
func (r *ArxivResolver) Priority() Priority { return Specialized }

func (r *ArxivResolver) CanHandle(id types.Identifier) bool {
	_, ok := arxivID(id)
	return ok
}

func (r *ArxivResolver) Resolve(ctx context.Context, id types.Identifier, _ Context) (Outcome, error) {
	aid, ok := arxivID(id)
	if !ok {
		return FailedOutcome("not an arXiv identifier", "pass an arxiv.org URL or arXiv ID"), nil
	}

	meta := types.Metadata{SourceURL: "https://arxiv.org/abs/" + aid}
	if fetched, err := r.fetchMetadata(ctx, aid); err != nil {
		// Metadata is additive; the PDF location is known regardless.
		r.log.Debug().Err(err).Str("arxiv_id", aid).Msg("arXiv metadata fetch failed")
	} else {
		meta = fetched.Merge(meta)
	}
	return TargetOutcome(arxivPDFBase+aid, meta), nil
}

// arxivID extracts the arXiv ID from an arxiv.org URL or arXiv DOI.
func arxivID(id types.Identifier) (string, bool) {
	switch id.Kind {
	case types.KindDOI:
		if m := arxivDOIPattern.FindStringSubmatch(id.Value); m != nil {
			return m[1], true
		}
	case types.KindURL:
		u, ok := parseHTTPURL(id.Value)
		if !ok || !hostIs(u, "arxiv.org", "export.arxiv.org") {
			return "", false
		}
		if m := arxivPathPattern.FindStringSubmatch(u.Path); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// arXiv Atom feed XML structures.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	Title     string        `xml:"title"`
	Published string        `xml:"published"`
	DOI       string        `xml:"doi"`
	Authors   []arxivAuthor `xml:"author"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

// fetchMetadata retrieves title, authors and year from the arXiv API.
func (r *ArxivResolver) fetchMetadata(ctx context.Context, arxivID string) (types.Metadata, error) {
	apiURL := fmt.Sprintf("%s?id_list=%s", arxivAPIBase, url.QueryEscape(arxivID))
	ctx = r.log.WithContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return types.Metadata{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", r.env.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, r.env.Client, req, 2)
	if err != nil {
		return types.Metadata{}, fmt.Errorf("arXiv API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.Metadata{}, fmt.Errorf("arXiv API returned HTTP %d", resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return types.Metadata{}, fmt.Errorf("parsing arXiv response: %w", err)
	}
	if len(feed.Entries) == 0 {
		return types.Metadata{}, fmt.Errorf("no entries found for arXiv ID %s", arxivID)
	}

	entry := feed.Entries[0]
	meta := types.Metadata{
		Title: strings.Join(strings.Fields(entry.Title), " "),
		DOI:   strings.TrimSpace(entry.DOI),
	}
	for _, a := range entry.Authors {
		meta.Authors = append(meta.Authors, strings.TrimSpace(a.Name))
	}
	if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
		meta.Year = t.Year()
	}
	return meta, nil
}
