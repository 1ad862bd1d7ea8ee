// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paperfetch/internal/httputil"
	"github.com/pdiddy/paperfetch/pkg/types"
)

func testEnv(ts *httptest.Server) HTTPEnv {
	return HTTPEnv{Client: ts.Client(), UserAgent: "paperfetch-test", Mailto: "ops@example.org"}
}

// swap sets *p to v for the duration of the test.
func swap(t *testing.T, p *string, v string) {
	t.Helper()
	old := *p
	*p = v
	t.Cleanup(func() { *p = old })
}

func TestDirectResolver(t *testing.T) {
	d := DirectResolver{}
	assert.True(t, d.CanHandle(types.NewIdentifier(types.KindURL, "https://example.org/a.pdf")))
	assert.False(t, d.CanHandle(types.NewIdentifier(types.KindDOI, "10.1/x")))

	out, err := d.Resolve(context.Background(), types.NewIdentifier(types.KindURL, "https://example.org/a.pdf"), Context{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTarget, out.Kind)
	assert.Equal(t, "https://example.org/a.pdf", out.Target.URL)
	assert.False(t, out.Target.ExpectBinary, "a bare URL may be an article page")

	out, err = d.Resolve(context.Background(), types.NewIdentifier(types.KindURL, "ftp://example.org/a.pdf"), Context{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Contains(t, out.Reason, "malformed URL")
}

func TestSiteRules(t *testing.T) {
	rules := DefaultSiteRules()
	resolvers := make([]*SiteResolver, len(rules))
	for i, r := range rules {
		resolvers[i] = NewSiteResolver(r)
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"openreview forum", "https://openreview.net/forum?id=abc123XYZ", "https://openreview.net/pdf?id=abc123XYZ"},
		{"openreview pdf", "https://openreview.net/pdf?id=abc123XYZ", "https://openreview.net/pdf?id=abc123XYZ"},
		{"openreview no id", "https://openreview.net/forum", ""},
		{"acl landing", "https://aclanthology.org/2023.acl-long.1/", "https://aclanthology.org/2023.acl-long.1.pdf"},
		{"acl pdf", "https://aclanthology.org/P19-1001.pdf", "https://aclanthology.org/P19-1001.pdf"},
		{"pmc new host", "https://pmc.ncbi.nlm.nih.gov/articles/PMC1234567/", "https://pmc.ncbi.nlm.nih.gov/articles/PMC1234567/pdf/"},
		{"pmc old host", "https://www.ncbi.nlm.nih.gov/pmc/articles/PMC7654321/", "https://pmc.ncbi.nlm.nih.gov/articles/PMC7654321/pdf/"},
		{"other host", "https://example.org/forum?id=abc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := types.NewIdentifier(types.KindURL, tt.input)
			var got string
			for _, r := range resolvers {
				if !r.CanHandle(id) {
					continue
				}
				out, err := r.Resolve(context.Background(), id, Context{})
				require.NoError(t, err)
				require.Equal(t, OutcomeTarget, out.Kind)
				assert.True(t, out.Target.ExpectBinary)
				got = out.Target.URL
				break
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

const atomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <entry>
    <title>Attention Is
      All You Need</title>
    <published>2017-06-12T17:57:34Z</published>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
  </entry>
</feed>`

func TestArxivResolver(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1706.03762", r.URL.Query().Get("id_list"))
		fmt.Fprint(w, atomFeed)
	}))
	defer ts.Close()
	swap(t, &arxivAPIBase, ts.URL)

	r := NewArxivResolver(testEnv(ts), zerolog.Nop())

	tests := []struct {
		name  string
		id    types.Identifier
		match bool
	}{
		{"abs url", types.NewIdentifier(types.KindURL, "https://arxiv.org/abs/1706.03762"), true},
		{"pdf url", types.NewIdentifier(types.KindURL, "https://arxiv.org/pdf/1706.03762.pdf"), true},
		{"arxiv doi", types.NewIdentifier(types.KindDOI, "10.48550/arXiv.1706.03762"), true},
		{"other host", types.NewIdentifier(types.KindURL, "https://example.org/abs/1706.03762"), false},
		{"listing page", types.NewIdentifier(types.KindURL, "https://arxiv.org/list/cs.CL/recent"), false},
		{"plain doi", types.NewIdentifier(types.KindDOI, "10.1145/1234"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.match, r.CanHandle(tt.id))
			if !tt.match {
				return
			}
			out, err := r.Resolve(context.Background(), tt.id, Context{})
			require.NoError(t, err)
			require.Equal(t, OutcomeTarget, out.Kind)
			assert.Equal(t, "https://arxiv.org/pdf/1706.03762", out.Target.URL)
			assert.True(t, out.Target.ExpectBinary)
			assert.Equal(t, "Attention Is All You Need", out.Target.Metadata.Title)
			assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, out.Target.Metadata.Authors)
			assert.Equal(t, 2017, out.Target.Metadata.Year)
		})
	}
}

func TestArxivResolver_MetadataFailureStillTargets(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()
	swap(t, &arxivAPIBase, ts.URL)

	r := NewArxivResolver(testEnv(ts), zerolog.Nop())
	out, err := r.Resolve(context.Background(), types.NewIdentifier(types.KindURL, "https://arxiv.org/abs/2301.07041v2"), Context{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTarget, out.Kind)
	assert.Equal(t, "https://arxiv.org/pdf/2301.07041v2", out.Target.URL)
	assert.Equal(t, "https://arxiv.org/abs/2301.07041v2", out.Target.Metadata.SourceURL)
}

// metadataServer serves Crossref under /crossref/ and OpenAlex under
// /openalex/ with the given handlers.
func metadataServer(t *testing.T, crossref, openalex http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/crossref/"):
			crossref(w, r)
		case strings.HasPrefix(r.URL.Path, "/openalex/"):
			openalex(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	swap(t, &crossrefAPIBase, ts.URL+"/crossref/")
	swap(t, &openAlexAPIBase, ts.URL+"/openalex/")
	return ts
}

const crossrefWorkJSON = `{"message":{
  "DOI":"10.1234/example.5678",
  "title":["A Study of Things"],
  "author":[{"given":"Ada","family":"Lovelace"},{"name":"The Consortium"}],
  "issued":{"date-parts":[[2019,3]]},
  "URL":"https://doi.org/10.1234/example.5678"
}}`

func TestDOIResolver_OpenAccessTarget(t *testing.T) {
	ts := metadataServer(t,
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/crossref/10.1234/example.5678", r.URL.Path)
			assert.Equal(t, "ops@example.org", r.URL.Query().Get("mailto"))
			fmt.Fprint(w, crossrefWorkJSON)
		},
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"title":"OA title","publication_year":2020,"best_oa_location":{"pdf_url":"https://repo.example.org/paper.pdf"}}`)
		},
	)

	r := NewDOIResolver(testEnv(ts), zerolog.Nop())
	id := types.NewIdentifier(types.KindDOI, "10.1234/example.5678")
	require.True(t, r.CanHandle(id))

	out, err := r.Resolve(context.Background(), id, Context{})
	require.NoError(t, err)
	require.Equal(t, OutcomeTarget, out.Kind)
	assert.Equal(t, "https://repo.example.org/paper.pdf", out.Target.URL)

	meta := out.Target.Metadata
	assert.Equal(t, "A Study of Things", meta.Title, "Crossref metadata wins over OpenAlex")
	assert.Equal(t, []string{"Ada Lovelace", "The Consortium"}, meta.Authors)
	assert.Equal(t, 2019, meta.Year)
	assert.Equal(t, "10.1234/example.5678", meta.DOI)
}

func TestDOIResolver_NoOpenAccessRedirectsToLanding(t *testing.T) {
	ts := metadataServer(t,
		func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, crossrefWorkJSON) },
		func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"best_oa_location":null}`) },
	)

	r := NewDOIResolver(testEnv(ts), zerolog.Nop())
	out, err := r.Resolve(context.Background(), types.NewIdentifier(types.KindDOI, "10.1234/example.5678"), Context{})
	require.NoError(t, err)

	require.Equal(t, OutcomeRedirect, out.Kind)
	assert.Equal(t, types.KindURL, out.Next.Kind)
	assert.Equal(t, "https://doi.org/10.1234/example.5678", out.Next.Value)
	assert.Equal(t, "A Study of Things", out.Metadata.Title)
}

func TestDOIResolver_NotFound(t *testing.T) {
	ts := metadataServer(t, http.NotFound, http.NotFound)

	r := NewDOIResolver(testEnv(ts), zerolog.Nop())
	out, err := r.Resolve(context.Background(), types.NewIdentifier(types.KindDOI, "10.9999/missing"), Context{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Contains(t, out.Reason, "not found in Crossref or OpenAlex")
	assert.NotEmpty(t, out.Suggestion)
}

func TestDOIResolver_LogsRateLimitRetries(t *testing.T) {
	old := httputil.RetryBaseDelay
	httputil.RetryBaseDelay = time.Millisecond
	t.Cleanup(func() { httputil.RetryBaseDelay = old })

	var crossrefCalls atomic.Int32
	ts := metadataServer(t,
		func(w http.ResponseWriter, r *http.Request) {
			if crossrefCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			fmt.Fprint(w, crossrefWorkJSON)
		},
		func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"best_oa_location":null}`) },
	)

	var logs bytes.Buffer
	r := NewDOIResolver(testEnv(ts), zerolog.New(&logs).Level(zerolog.DebugLevel))
	out, err := r.Resolve(context.Background(), types.NewIdentifier(types.KindDOI, "10.1234/example.5678"), Context{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeRedirect, out.Kind)
	assert.Equal(t, int32(2), crossrefCalls.Load())
	assert.Contains(t, logs.String(), "rate limited, retrying")
}

func TestReferenceResolver(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind OutcomeKind
		wantDOI  string
	}{
		{
			name:     "confident match",
			body:     `{"message":{"items":[{"DOI":"10.1000/xyz","title":["Deep Things"],"score":88.5}]}}`,
			wantKind: OutcomeRedirect,
			wantDOI:  "10.1000/xyz",
		},
		{
			name:     "low score",
			body:     `{"message":{"items":[{"DOI":"10.1000/xyz","score":12.0}]}}`,
			wantKind: OutcomeFailed,
		},
		{
			name:     "no items",
			body:     `{"message":{"items":[]}}`,
			wantKind: OutcomeFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := metadataServer(t,
				func(w http.ResponseWriter, r *http.Request) {
					assert.Equal(t, "Smith J. Deep things. 2020", r.URL.Query().Get("query.bibliographic"))
					assert.Equal(t, "1", r.URL.Query().Get("rows"))
					fmt.Fprint(w, tt.body)
				},
				http.NotFound,
			)

			r := NewReferenceResolver(testEnv(ts), 60, zerolog.Nop())
			out, err := r.Resolve(context.Background(), types.NewIdentifier(types.KindReference, "Smith J. Deep things. 2020"), Context{})
			require.NoError(t, err)
			require.Equal(t, tt.wantKind, out.Kind)
			if tt.wantKind == OutcomeRedirect {
				assert.Equal(t, types.KindDOI, out.Next.Kind)
				assert.Equal(t, tt.wantDOI, out.Next.Value)
				assert.Equal(t, "Deep Things", out.Metadata.Title)
			} else {
				assert.Contains(t, out.Reason, "no confident Crossref match")
			}
		})
	}
}

func TestReferenceResolver_ServerErrorIsFault(t *testing.T) {
	ts := metadataServer(t,
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
		http.NotFound,
	)
	r := NewReferenceResolver(testEnv(ts), 60, zerolog.Nop())
	_, err := r.Resolve(context.Background(), types.NewIdentifier(types.KindReference, "anything at all"), Context{})
	assert.Error(t, err)
}

func TestParseBibTeX(t *testing.T) {
	entry, err := ParseBibTeX(`@Article{lovelace1843,
  author = {Lovelace, Ada and Charles Babbage},
  title  = "Notes on the {Analytical Engine}",
  year   = 1843,
  journal = "Sci. " # "Memoirs",
  doi    = {10.1000/ae.1843}
}`)
	require.NoError(t, err)

	assert.Equal(t, "article", entry.Type)
	assert.Equal(t, "lovelace1843", entry.Key)
	assert.Equal(t, "Sci. Memoirs", entry.Fields["journal"])
	assert.Equal(t, "10.1000/ae.1843", entry.Fields["doi"])

	meta := entry.Metadata()
	assert.Equal(t, "Notes on the Analytical Engine", meta.Title)
	assert.Equal(t, []string{"Ada Lovelace", "Charles Babbage"}, meta.Authors)
	assert.Equal(t, 1843, meta.Year)
}

func TestParseBibTeX_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no at sign", "article{x, title={y}}"},
		{"no brace", "@article"},
		{"unbalanced value", "@article{x, title = {oops}"},
		{"missing equals", "@article{x, title {y}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBibTeX(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestBibTeXResolver(t *testing.T) {
	tests := []struct {
		name      string
		entry     string
		wantKind  OutcomeKind
		wantNext  types.IdentifierKind
		wantValue string
	}{
		{
			name:      "doi wins",
			entry:     `@article{a, doi={https://doi.org/10.1/abc}, url={https://example.org/a}, title={T}}`,
			wantKind:  OutcomeRedirect,
			wantNext:  types.KindDOI,
			wantValue: "10.1/abc",
		},
		{
			name:      "url",
			entry:     `@misc{b, url={https://example.org/b.pdf}, title={T}}`,
			wantKind:  OutcomeRedirect,
			wantNext:  types.KindURL,
			wantValue: "https://example.org/b.pdf",
		},
		{
			name:      "arxiv eprint",
			entry:     `@misc{c, eprint={2301.07041}, archivePrefix={arXiv}, title={T}}`,
			wantKind:  OutcomeRedirect,
			wantNext:  types.KindURL,
			wantValue: "https://arxiv.org/abs/2301.07041",
		},
		{
			name:      "title only",
			entry:     `@inproceedings{d, title={Deep Things}, author={Smith, John}, year={2020}}`,
			wantKind:  OutcomeRedirect,
			wantNext:  types.KindReference,
			wantValue: "John Smith. Deep Things (2020)",
		},
		{
			name:     "nothing usable",
			entry:    `@misc{e, note={nothing}}`,
			wantKind: OutcomeFailed,
		},
		{
			name:     "malformed",
			entry:    `@misc{f, title={unterminated}`,
			wantKind: OutcomeFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := types.NewIdentifier(types.KindBibTeX, tt.entry)
			require.True(t, BibTeXResolver{}.CanHandle(id))

			out, err := BibTeXResolver{}.Resolve(context.Background(), id, Context{})
			require.NoError(t, err)
			require.Equal(t, tt.wantKind, out.Kind)
			if tt.wantKind == OutcomeRedirect {
				assert.Equal(t, tt.wantNext, out.Next.Kind)
				assert.Equal(t, tt.wantValue, out.Next.Value)
			}
		})
	}
}

const landingHTML = `<!doctype html>
<html><head>
<meta name="citation_title" content="Landing Page Paper">
<meta name="citation_author" content="Doe, Jane">
<meta name="citation_author" content="Roe, Richard">
<meta name="citation_publication_date" content="2022/05/01">
<meta name="citation_doi" content="10.5555/landing">
<meta name="citation_pdf_url" content="/files/paper.pdf">
</head><body>Abstract</body></html>`

func TestLandingResolver(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, landingHTML)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/article", http.StatusFound)
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><form><input name="user"><input type="password" name="pw"></form></body></html>`)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>No links here</body></html>`)
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.7")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	r := NewLandingResolver(testEnv(ts), []string{".pdf"}, zerolog.Nop())

	t.Run("citation_pdf_url", func(t *testing.T) {
		out, err := r.Resolve(context.Background(), types.NewIdentifier(types.KindURL, ts.URL+"/moved"), Context{})
		require.NoError(t, err)
		require.Equal(t, OutcomeTarget, out.Kind)
		assert.Equal(t, ts.URL+"/files/paper.pdf", out.Target.URL)

		meta := out.Target.Metadata
		assert.Equal(t, "Landing Page Paper", meta.Title)
		assert.Equal(t, []string{"Jane Doe", "Richard Roe"}, meta.Authors)
		assert.Equal(t, 2022, meta.Year)
		assert.Equal(t, "10.5555/landing", meta.DOI)
	})

	t.Run("forbidden needs auth", func(t *testing.T) {
		out, err := r.Resolve(context.Background(), types.NewIdentifier(types.KindURL, ts.URL+"/forbidden"), Context{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeNeedsAuth, out.Kind)
		assert.Equal(t, "127.0.0.1", out.Domain)
	})

	t.Run("password form needs auth", func(t *testing.T) {
		out, err := r.Resolve(context.Background(), types.NewIdentifier(types.KindURL, ts.URL+"/login"), Context{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeNeedsAuth, out.Kind)
	})

	t.Run("gone fails", func(t *testing.T) {
		out, err := r.Resolve(context.Background(), types.NewIdentifier(types.KindURL, ts.URL+"/gone"), Context{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, out.Kind)
	})

	t.Run("no pdf link fails", func(t *testing.T) {
		out, err := r.Resolve(context.Background(), types.NewIdentifier(types.KindURL, ts.URL+"/plain"), Context{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, out.Kind)
		assert.Contains(t, out.Reason, "no PDF link")
	})

	t.Run("non-html is the target", func(t *testing.T) {
		out, err := r.Resolve(context.Background(), types.NewIdentifier(types.KindURL, ts.URL+"/download"), Context{})
		require.NoError(t, err)
		require.Equal(t, OutcomeTarget, out.Kind)
		assert.Equal(t, ts.URL+"/download", out.Target.URL)
	})

	t.Run("binary extension not claimed", func(t *testing.T) {
		assert.False(t, r.CanHandle(types.NewIdentifier(types.KindURL, ts.URL+"/files/paper.PDF")))
		assert.True(t, r.CanHandle(types.NewIdentifier(types.KindURL, ts.URL+"/article")))
	})
}

func TestDefaultRegistry_ArxivBeforeLanding(t *testing.T) {
	cfg := types.DefaultConfig()
	reg := NewDefaultRegistry(http.DefaultClient, cfg, zerolog.Nop())

	id := types.NewIdentifier(types.KindURL, "https://arxiv.org/abs/1706.03762")
	cands := reg.candidates(id)
	require.NotEmpty(t, cands)
	assert.Equal(t, "arxiv", cands[0].Name())
	assert.Equal(t, "direct", cands[len(cands)-1].Name())
}
