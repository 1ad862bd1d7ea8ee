// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/paperfetch/pkg/types"
)

// NewAPIClient returns a client for small metadata requests. The whole
// exchange, body included, is bounded by cfg.Timeout.
func NewAPIClient(cfg types.HTTPConfig) *http.Client {
	return &http.Client{Timeout: cfg.Timeout}
}

// NewTransferClient returns a client for file transfers. Only connection
// setup and response headers are bounded by cfg.Timeout; body streaming is
// bounded by the request context so large files are not cut off.
func NewTransferClient(cfg types.HTTPConfig) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   8,
		// Raw bytes are required for byte ranges to line up.
		DisableCompression: true,
	}
	return &http.Client{Transport: transport}
}

// SetIdentity applies a client identity to req. Browser-like identities also
// send the headers gateways look for.
func SetIdentity(req *http.Request, userAgent string, browser bool) {
	req.Header.Set("User-Agent", userAgent)
	if browser {
		req.Header.Set("Accept", "application/pdf,text/html;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.7")
		return
	}
	req.Header.Set("Accept", "application/pdf,*/*;q=0.8")
}

// RangeInfo describes a server's byte-range capability for one URL.
type RangeInfo struct {
	AcceptsRanges bool
	Size          int64 // -1 when unknown
	ETag          string
}

// CheckRanges checks whether url honours byte ranges, presenting the given
// identity. It issues a HEAD request and
// falls back to a one-byte ranged GET when HEAD is rejected or ambiguous.
func CheckRanges(ctx context.Context, client *http.Client, url, userAgent string, browser bool) (RangeInfo, error) {
	info := RangeInfo{Size: -1}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return info, fmt.Errorf("creating request: %w", err)
	}
	SetIdentity(req, userAgent, browser)
	resp, err := client.Do(req)
	if err != nil {
		return info, fmt.Errorf("HEAD %s: %w", url, err)
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		info.Size = resp.ContentLength
		info.ETag = resp.Header.Get("ETag")
		switch strings.ToLower(resp.Header.Get("Accept-Ranges")) {
		case "bytes":
			info.AcceptsRanges = true
			return info, nil
		case "none":
			return info, nil
		}
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return info, fmt.Errorf("creating request: %w", err)
	}
	SetIdentity(req, userAgent, browser)
	req.Header.Set("Range", "bytes=0-0")
	resp, err = client.Do(req)
	if err != nil {
		return info, fmt.Errorf("ranged GET %s: %w", url, err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return info, nil
	}
	info.AcceptsRanges = true
	if info.ETag == "" {
		info.ETag = resp.Header.Get("ETag")
	}
	if _, _, total, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil && total >= 0 {
		info.Size = total
	}
	return info, nil
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total is -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(strings.TrimSpace(header), "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}
