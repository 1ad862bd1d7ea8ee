// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pdiddy/paperfetch/internal/httputil"
	"github.com/pdiddy/paperfetch/pkg/types"
)

// Metadata API endpoints. Declared as vars so tests can substitute
// httptest servers.
var (
	doiBase         = "https://doi.org/"
	crossrefAPIBase = "https://api.crossref.org/works/"
	openAlexAPIBase = "https://api.openalex.org/works/"
)

// errNotFound marks a definitive 404 from a metadata API.
var errNotFound = errors.New("not found")

// DOIResolver looks a DOI up in Crossref (metadata) and OpenAlex (open
// access location). With an open-access PDF it returns that target;
// otherwise it redirects to the doi.org URL so the landing-page resolver
// can follow the publisher's redirect chain.
type DOIResolver struct {
	env HTTPEnv
	log zerolog.Logger
}

// NewDOIResolver returns a DOI resolver.
func NewDOIResolver(env HTTPEnv, log zerolog.Logger) *DOIResolver {
	return &DOIResolver{env: env, log: log}
}

func (r *DOIResolver) Name() string       { return "doi" }
func (r *DOIResolver) Priority() Priority { return General }

func (r *DOIResolver) CanHandle(id types.Identifier) bool {
	return id.Kind == types.KindDOI && strings.HasPrefix(id.Value, "10.")
}

func (r *DOIResolver) Resolve(ctx context.Context, id types.Identifier, _ Context) (Outcome, error) {
	doi := id.Value

	meta, crErr := r.fetchCrossRef(ctx, doi)
	if crErr != nil && !errors.Is(crErr, errNotFound) {
		r.log.Debug().Err(crErr).Str("doi", doi).Msg("Crossref lookup failed")
	}
	meta.DOI = doi

	pdfURL, oaMeta, oaErr := r.fetchOpenAlex(ctx, doi)
	if oaErr != nil && !errors.Is(oaErr, errNotFound) {
		r.log.Debug().Err(oaErr).Str("doi", doi).Msg("OpenAlex lookup failed")
	}
	meta = meta.Merge(oaMeta)

	if pdfURL != "" {
		return TargetOutcome(pdfURL, meta), nil
	}

	if errors.Is(crErr, errNotFound) && errors.Is(oaErr, errNotFound) {
		return FailedOutcome(
			fmt.Sprintf("DOI %s not found in Crossref or OpenAlex", doi),
			"check the DOI for typos; DOIs start with 10. and contain a slash",
		), nil
	}

	landing := types.NewIdentifier(types.KindURL, doiBase+doi)
	return RedirectOutcome(landing, meta), nil
}

// CrossRef API JSON structures.
type crossrefResponse struct {
	Message crossrefWork `json:"message"`
}

type crossrefWork struct {
	DOI     string           `json:"DOI"`
	Title   []string         `json:"title"`
	Author  []crossrefAuthor `json:"author"`
	Issued  crossrefDate     `json:"issued"`
	Created crossrefDate     `json:"created"`
	Score   float64          `json:"score"`
	URL     string           `json:"URL"`
}

type crossrefAuthor struct {
	Given  string `json:"given"`
	Family string `json:"family"`
	Name   string `json:"name"`
}

type crossrefDate struct {
	DateParts [][]int `json:"date-parts"`
}

func (d crossrefDate) year() int {
	if len(d.DateParts) > 0 && len(d.DateParts[0]) > 0 {
		return d.DateParts[0][0]
	}
	return 0
}

// metadata converts a Crossref work into Metadata.
func (w crossrefWork) metadata() types.Metadata {
	meta := types.Metadata{DOI: w.DOI, SourceURL: w.URL}
	if len(w.Title) > 0 {
		meta.Title = strings.Join(strings.Fields(w.Title[0]), " ")
	}
	for _, a := range w.Author {
		name := strings.TrimSpace(a.Given + " " + a.Family)
		if name == "" {
			name = strings.TrimSpace(a.Name)
		}
		if name != "" {
			meta.Authors = append(meta.Authors, name)
		}
	}
	meta.Year = w.Issued.year()
	if meta.Year == 0 {
		meta.Year = w.Created.year()
	}
	return meta
}

// fetchCrossRef retrieves work metadata for doi.
func (r *DOIResolver) fetchCrossRef(ctx context.Context, doi string) (types.Metadata, error) {
	apiURL := crossrefAPIBase + doi
	if r.env.Mailto != "" {
		apiURL += "?mailto=" + url.QueryEscape(r.env.Mailto)
	}

	var cr crossrefResponse
	if err := getJSON(ctx, r.env, r.log, apiURL, &cr); err != nil {
		return types.Metadata{}, fmt.Errorf("Crossref: %w", err)
	}
	return cr.Message.metadata(), nil
}

// openAlexResponse captures the fields we need from an OpenAlex work record.
type openAlexResponse struct {
	Title           string             `json:"title"`
	PublicationYear int                `json:"publication_year"`
	BestOALocation  *openAlexLocation  `json:"best_oa_location"`
	Authorships     []openAlexAuthship `json:"authorships"`
}

// openAlexLocation represents an open-access location in the OpenAlex response.
type openAlexLocation struct {
	PDFURL     string `json:"pdf_url"`
	LandingURL string `json:"landing_page_url"`
}

type openAlexAuthship struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

// fetchOpenAlex queries OpenAlex for doi and returns the open-access PDF
// URL when one exists, plus whatever metadata the record carries.
func (r *DOIResolver) fetchOpenAlex(ctx context.Context, doi string) (string, types.Metadata, error) {
	apiURL := openAlexAPIBase + "https://doi.org/" + doi
	if r.env.Mailto != "" {
		apiURL += "?mailto=" + url.QueryEscape(r.env.Mailto)
	}

	var oa openAlexResponse
	if err := getJSON(ctx, r.env, r.log, apiURL, &oa); err != nil {
		return "", types.Metadata{}, fmt.Errorf("OpenAlex: %w", err)
	}

	meta := types.Metadata{Title: oa.Title, Year: oa.PublicationYear}
	for _, a := range oa.Authorships {
		if a.Author.DisplayName != "" {
			meta.Authors = append(meta.Authors, a.Author.DisplayName)
		}
	}
	if oa.BestOALocation == nil {
		return "", meta, nil
	}
	return oa.BestOALocation.PDFURL, meta, nil
}

// getJSON fetches apiURL and decodes a JSON body into v. A 404 yields
// errNotFound; 429 responses are retried with backoff and logged to log.
func getJSON(ctx context.Context, env HTTPEnv, log zerolog.Logger, apiURL string, v any) error {
	ctx = log.WithContext(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", env.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := httputil.DoWithRetry(ctx, env.Client, req, 2)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
