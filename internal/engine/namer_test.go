// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paperfetch/pkg/types"
)

var testExts = []string{".pdf", ".epub", ".ps"}

func TestSuggestFilename(t *testing.T) {
	tests := []struct {
		name string
		meta types.Metadata
		want string
	}{
		{
			name: "author year title",
			meta: types.Metadata{Title: "Über formal unentscheidbare Sätze", Authors: []string{"Kurt Gödel"}, Year: 1931},
			want: "godel-1931-uber-formal-unentscheidbare-satze.pdf",
		},
		{
			name: "family-first author",
			meta: types.Metadata{Title: "On Computable Numbers", Authors: []string{"Turing, Alan M."}},
			want: "turing-on-computable-numbers.pdf",
		},
		{
			name: "title only",
			meta: types.Metadata{Title: "A Note: on (punctuation)!", Year: 2001},
			want: "2001-a-note-on-punctuation.pdf",
		},
		{
			name: "no title",
			meta: types.Metadata{Authors: []string{"Ada Lovelace"}, Year: 1843},
			want: "",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SuggestFilename(tc.meta, ".pdf"))
		})
	}
}

func TestSlugify_CutsAtWordBoundary(t *testing.T) {
	assert.Equal(t, "alpha-beta", slugify("Alpha beta gamma", 10))
	assert.Equal(t, "", slugify("  --  ", 10))

	long := slugify(strings.Repeat("word ", 40), 60)
	assert.LessOrEqual(t, len(long), 64)
	assert.False(t, strings.HasSuffix(long, "-"))
}

func TestDefaultNamer(t *testing.T) {
	n := DefaultNamer{BinaryExtensions: testExts}
	tests := []struct {
		name string
		item types.QueueItem
		want string
	}{
		{
			name: "suggested filename wins",
			item: types.QueueItem{
				ResolvedURL: "https://example.org/files/123.pdf",
				NamingHint:  &types.NamingHint{SuggestedFilename: "turing-1936-on-computable-numbers.pdf"},
			},
			want: "turing-1936-on-computable-numbers.pdf",
		},
		{
			name: "url basename",
			item: types.QueueItem{ResolvedURL: "https://arxiv.org/pdf/2301.07041v2.pdf"},
			want: "2301-07041v2.pdf",
		},
		{
			name: "binary extension kept",
			item: types.QueueItem{ResolvedURL: "https://example.org/books/Thesis.EPUB"},
			want: "thesis.epub",
		},
		{
			name: "unknown extension becomes pdf",
			item: types.QueueItem{ResolvedURL: "https://example.org/download.php?id=4"},
			want: "download.pdf",
		},
		{
			name: "suggested name cannot escape the directory",
			item: types.QueueItem{
				ResolvedURL: "https://example.org/a.pdf",
				NamingHint:  &types.NamingHint{SuggestedFilename: "../../etc/passwd"},
			},
			want: "passwd",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, n.Name(tc.item))
		})
	}
}

func TestDefaultNamer_HashFallback(t *testing.T) {
	n := DefaultNamer{BinaryExtensions: testExts}
	a := n.Name(types.QueueItem{ResolvedURL: "https://example.org/"})
	b := n.Name(types.QueueItem{ResolvedURL: "https://example.net/"})

	assert.True(t, strings.HasPrefix(a, "url-"), a)
	assert.Len(t, a, len("url-")+16+len(".pdf"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, n.Name(types.QueueItem{ResolvedURL: "https://example.org/"}), "names are stable")
}

func TestNamingHintFor(t *testing.T) {
	assert.Nil(t, NamingHintFor(types.Metadata{SourceURL: "https://example.org/x.pdf"}, "https://example.org/x.pdf", testExts))

	hint := NamingHintFor(types.Metadata{
		Title:   "Sketch of the Analytical Engine",
		Authors: []string{"Ada Lovelace"},
		Year:    1843,
	}, "https://example.org/sketch.ps", testExts)
	require.NotNil(t, hint)
	assert.Equal(t, "lovelace-1843-sketch-of-the-analytical-engine.ps", hint.SuggestedFilename)
	assert.Equal(t, 1843, hint.Year)
}

func TestClaimPath(t *testing.T) {
	dir := t.TempDir()

	p, err := claimPath(dir, "paper.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "paper.pdf"), p)
	fi, err := os.Stat(p)
	require.NoError(t, err, "the claimed name is reserved on disk")
	assert.Zero(t, fi.Size())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "paper-2.pdf"), []byte("taken"), 0o644))

	p, err = claimPath(dir, "paper.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "paper-3.pdf"), p)

	data, err := os.ReadFile(filepath.Join(dir, "paper-2.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "taken", string(data), "existing files are left alone")
}

func TestClaimPath_ConcurrentCallersGetDistinctNames(t *testing.T) {
	dir := t.TempDir()
	const n = 32

	var wg sync.WaitGroup
	paths := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			paths[i], errs[i] = claimPath(dir, "paper.pdf")
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range n {
		require.NoError(t, errs[i])
		assert.False(t, seen[paths[i]], "path %s handed out twice", paths[i])
		seen[paths[i]] = true
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, n)
}
