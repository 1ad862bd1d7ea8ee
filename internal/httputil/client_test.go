// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paperfetch/pkg/types"
)

func TestCheckRanges_HeadAdvertisesRanges(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "ranges-test", r.Header.Get("User-Agent"))
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	info, err := CheckRanges(context.Background(), ts.Client(), ts.URL, "ranges-test", false)
	require.NoError(t, err)
	assert.True(t, info.AcceptsRanges)
	assert.Equal(t, int64(1000), info.Size)
	assert.Equal(t, `"v1"`, info.ETag)
}

func TestCheckRanges_FallsBackToRangedGet(t *testing.T) {
	content := strings.Repeat("x", 500)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		http.ServeContent(w, r, "paper.pdf", time.Time{}, strings.NewReader(content))
	}))
	defer ts.Close()

	info, err := CheckRanges(context.Background(), ts.Client(), ts.URL, "ranges-test", false)
	require.NoError(t, err)
	assert.True(t, info.AcceptsRanges)
	assert.Equal(t, int64(500), info.Size)
}

func TestCheckRanges_NoRangeSupport(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("full body every time"))
	}))
	defer ts.Close()

	info, err := CheckRanges(context.Background(), ts.Client(), ts.URL, "ranges-test", false)
	require.NoError(t, err)
	assert.False(t, info.AcceptsRanges)
}

func TestCheckRanges_SendsBrowserIdentity(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Language") == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		assert.Equal(t, "Mozilla/5.0 test", r.Header.Get("User-Agent"))
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	info, err := CheckRanges(context.Background(), ts.Client(), ts.URL, "Mozilla/5.0 test", true)
	require.NoError(t, err)
	assert.True(t, info.AcceptsRanges)

	info, err = CheckRanges(context.Background(), ts.Client(), ts.URL, "paperfetch-test", false)
	require.NoError(t, err)
	assert.False(t, info.AcceptsRanges, "the default identity is turned away")
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header             string
		wantStart, wantEnd int64
		wantTotal          int64
		wantErr            bool
	}{
		{"bytes 0-99/1000", 0, 99, 1000, false},
		{"bytes 500-999/*", 500, 999, -1, false},
		{"bytes 0-99", 0, 0, 0, true},
		{"bytes a-99/100", 0, 0, 0, true},
		{"bytes 0-b/100", 0, 0, 0, true},
		{"bytes 0-99/c", 0, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			start, end, total, err := ParseContentRange(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
			assert.Equal(t, tt.wantTotal, total)
		})
	}
}

func TestSetIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/a.pdf", nil)
	SetIdentity(req, types.DefaultBrowserUserAgent, true)
	assert.Equal(t, types.DefaultBrowserUserAgent, req.Header.Get("User-Agent"))
	assert.NotEmpty(t, req.Header.Get("Accept-Language"))

	req = httptest.NewRequest(http.MethodGet, "http://example.com/a.pdf", nil)
	SetIdentity(req, types.DefaultUserAgent, false)
	assert.Equal(t, types.DefaultUserAgent, req.Header.Get("User-Agent"))
	assert.Empty(t, req.Header.Get("Accept-Language"))
}
