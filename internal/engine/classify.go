// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"syscall"

	"github.com/PuerkitoBio/goquery"

	"github.com/pdiddy/paperfetch/internal/resolve"
	"github.com/pdiddy/paperfetch/pkg/types"
)

// loginSniffBytes bounds how much of an HTML response is inspected for a
// login form.
const loginSniffBytes = 512 << 10

// classifyStatus maps a non-success HTTP status to the failure taxonomy.
func classifyStatus(code int, u *url.URL) *types.Failure {
	host := ""
	if u != nil {
		host = u.Hostname()
	}
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusProxyAuthRequired:
		return types.AuthFailure(host, "", code)
	case code == http.StatusNotFound, code == http.StatusGone:
		return types.PermanentFailure(
			fmt.Sprintf("HTTP %d from %s", code, u),
			"the document is not at this URL; check the identifier or supply another source",
			code,
		)
	case code == http.StatusRequestTimeout, code == http.StatusTooEarly,
		code == http.StatusTooManyRequests, code >= 500:
		return types.TransientFailure(fmt.Sprintf("HTTP %d from %s", code, u), code)
	default:
		return types.PermanentFailure(
			fmt.Sprintf("unexpected HTTP %d from %s", code, u),
			"open the URL in a browser to see what the server returns",
			code,
		)
	}
}

// classifyError maps a transport error to the failure taxonomy. Timeouts,
// resets and truncated bodies are transient; a malformed target is not.
func classifyError(err error) *types.Failure {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && strings.Contains(urlErr.Err.Error(), "unsupported protocol scheme") {
		return types.PermanentFailure("malformed target URL: "+err.Error(), "the resolved URL is not http or https; enqueue a direct link instead", 0)
	}

	var (
		netErr net.Error
		dnsErr *net.DNSError
	)
	switch {
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		return types.PermanentFailure("unknown host: "+dnsErr.Name, "check the URL for typos", 0)
	case errors.As(err, &netErr) && netErr.Timeout():
		return types.TransientFailure("timeout: "+err.Error(), 0)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return types.TransientFailure("connection error: "+err.Error(), 0)
	default:
		return types.TransientFailure(err.Error(), 0)
	}
}

// LoginDetector recognizes an HTML login page served where a document
// was expected. The patterns are environment specific and come from
// configuration.
type LoginDetector struct {
	patterns   []*regexp.Regexp
	binaryExts []string
}

// NewLoginDetector compiles cfg's login path patterns.
func NewLoginDetector(cfg types.AuthConfig) (*LoginDetector, error) {
	d := &LoginDetector{binaryExts: cfg.BinaryExtensions}
	for _, p := range cfg.LoginPathPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling login pattern %q: %w", p, err)
		}
		d.patterns = append(d.patterns, re)
	}
	return d, nil
}

// ExpectsBinary reports whether the request for requested should have
// produced a binary document.
func (d *LoginDetector) ExpectsBinary(requested string, resp *http.Response) bool {
	if resolve.HasExtension(requested, d.binaryExts) {
		return true
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if disp, _, err := mime.ParseMediaType(cd); err == nil && disp == "attachment" {
			return true
		}
	}
	return false
}

// MatchesLoginURL reports whether u's path or query matches a login pattern.
func (d *LoginDetector) MatchesLoginURL(u *url.URL) bool {
	target := u.EscapedPath()
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	for _, re := range d.patterns {
		if re.MatchString(target) {
			return true
		}
	}
	return false
}

// IsLoginPage reports whether an HTML body, served from final, is a login
// page: the URL matches a login pattern or the page holds a password form.
func (d *LoginDetector) IsLoginPage(final *url.URL, body []byte) bool {
	if final != nil && d.MatchesLoginURL(final) {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return resolve.HasPasswordForm(doc)
}

func isHTMLResponse(resp *http.Response) bool {
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// interrupted reports whether a transfer error is the result of the
// transfer context being cancelled. Once the context is done the transport
// may surface the cancellation as any of several errors, so the context is
// the source of truth.
func interrupted(tctx context.Context) bool {
	return tctx.Err() != nil
}
