// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/pdiddy/paperfetch/pkg/types"
)

// DirectResolver passes an http(s) URL through unchanged. It is the last
// resort for URLs no other resolver understands.
type DirectResolver struct{}

func (DirectResolver) Name() string       { return "direct" }
func (DirectResolver) Priority() Priority { return Fallback }

func (DirectResolver) CanHandle(id types.Identifier) bool {
	return id.Kind == types.KindURL
}

func (DirectResolver) Resolve(_ context.Context, id types.Identifier, _ Context) (Outcome, error) {
	u, ok := parseHTTPURL(id.Value)
	if !ok {
		return FailedOutcome("malformed URL "+id.Value, "pass an absolute http or https URL"), nil
	}
	// Nothing is known about what the URL serves.
	out := TargetOutcome(u.String(), types.Metadata{SourceURL: u.String()})
	out.Target.ExpectBinary = false
	return out, nil
}

// parseHTTPURL parses s and accepts only absolute http(s) URLs with a host.
func parseHTTPURL(s string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

// hostIs reports whether u's host, without a leading "www.", is one of hosts.
func hostIs(u *url.URL, hosts ...string) bool {
	h := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, want := range hosts {
		if h == want {
			return true
		}
	}
	return false
}

// HasExtension reports whether the URL path ends with one of exts
// (compared case-insensitively, each including the leading dot).
func HasExtension(rawURL string, exts []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
