// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/pdiddy/paperfetch/internal/httputil"
	"github.com/pdiddy/paperfetch/pkg/types"
)

// maxLandingBytes bounds how much of a landing page is parsed.
const maxLandingBytes = 4 << 20

var yearInDate = regexp.MustCompile(`\b(1[89]|20)\d{2}\b`)

// LandingResolver fetches an HTML landing page and follows the
// Highwire-style citation_pdf_url meta tag that most publishers and
// repositories emit.
type LandingResolver struct {
	env        HTTPEnv
	binaryExts []string
	log        zerolog.Logger
}

// NewLandingResolver returns a landing-page resolver. URLs whose path ends
// in one of binaryExts are left to the direct resolver.
func NewLandingResolver(env HTTPEnv, binaryExts []string, log zerolog.Logger) *LandingResolver {
	return &LandingResolver{env: env, binaryExts: binaryExts, log: log}
}

func (r *LandingResolver) Name() string       { return "landing" }
func (r *LandingResolver) Priority() Priority { return General }

func (r *LandingResolver) CanHandle(id types.Identifier) bool {
	if id.Kind != types.KindURL {
		return false
	}
	if _, ok := parseHTTPURL(id.Value); !ok {
		return false
	}
	return !HasExtension(id.Value, r.binaryExts)
}

func (r *LandingResolver) Resolve(ctx context.Context, id types.Identifier, _ Context) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, id.Value, nil)
	if err != nil {
		return FailedOutcome("malformed URL "+id.Value, "pass an absolute http or https URL"), nil
	}
	httputil.SetIdentity(req, r.env.UserAgent, false)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := r.env.Client.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetching landing page: %w", err)
	}
	defer resp.Body.Close()

	final := resp.Request.URL
	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusProxyAuthRequired:
		return NeedsAuthOutcome(final.Hostname(), ""), nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return FailedOutcome(
			fmt.Sprintf("landing page %s returned HTTP %d", final, resp.StatusCode),
			"the page no longer exists; look the paper up by DOI instead",
		), nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return Outcome{}, fmt.Errorf("landing page returned HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return FailedOutcome(
			fmt.Sprintf("landing page %s returned HTTP %d", final, resp.StatusCode),
			"open the URL in a browser to check it",
		), nil
	}

	if !isHTML(resp.Header.Get("Content-Type")) {
		// Already the document itself.
		return TargetOutcome(final.String(), types.Metadata{SourceURL: id.Value}), nil
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxLandingBytes))
	if err != nil {
		return FailedOutcome("unparseable landing page: "+err.Error(), "pass the direct PDF URL instead"), nil
	}

	meta := CitationMetadata(doc)
	meta.SourceURL = id.Value

	if href := pdfLink(doc); href != "" {
		ref, err := url.Parse(href)
		if err == nil {
			return TargetOutcome(final.ResolveReference(ref).String(), meta), nil
		}
	}

	if HasPasswordForm(doc) {
		return NeedsAuthOutcome(final.Hostname(), "the landing page asks for a login; sign in through your institution and enqueue the PDF URL"), nil
	}

	return FailedOutcome(
		"no PDF link found on landing page "+final.String(),
		"open the page in a browser and pass the direct PDF URL",
	), nil
}

// pdfLink finds the PDF location advertised by a landing page.
func pdfLink(doc *goquery.Document) string {
	if v, ok := doc.Find(`meta[name="citation_pdf_url"]`).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`link[rel="alternate"][type="application/pdf"]`).First().Attr("href"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return ""
}

// CitationMetadata reads Highwire/Dublin Core citation meta tags.
func CitationMetadata(doc *goquery.Document) types.Metadata {
	var meta types.Metadata
	metaContent := func(names ...string) string {
		for _, n := range names {
			if v, ok := doc.Find(`meta[name="` + n + `"]`).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	meta.Title = metaContent("citation_title", "dc.title", "DC.title")
	meta.DOI = metaContent("citation_doi", "dc.identifier", "DC.identifier")
	if !strings.HasPrefix(meta.DOI, "10.") {
		meta.DOI = strings.TrimPrefix(meta.DOI, "doi:")
		if !strings.HasPrefix(meta.DOI, "10.") {
			meta.DOI = ""
		}
	}
	doc.Find(`meta[name="citation_author"]`).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("content"); ok && strings.TrimSpace(v) != "" {
			meta.Authors = append(meta.Authors, flipBibName(strings.TrimSpace(v)))
		}
	})
	if d := metaContent("citation_publication_date", "citation_date", "citation_online_date", "dc.date", "DC.date"); d != "" {
		if m := yearInDate.FindString(d); m != "" {
			meta.Year, _ = strconv.Atoi(m)
		}
	}
	return meta
}

// HasPasswordForm reports whether the page contains a login form.
func HasPasswordForm(doc *goquery.Document) bool {
	return doc.Find(`input[type="password"]`).Length() > 0
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}
