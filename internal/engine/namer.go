// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/pdiddy/paperfetch/internal/resolve"
	"github.com/pdiddy/paperfetch/pkg/types"
)

// Namer chooses the file name, relative to the output directory, for a
// completed item.
type Namer interface {
	Name(item types.QueueItem) string
}

// DefaultNamer prefers the item's suggested filename, then the basename
// of the resolved URL, then a hash of it.
type DefaultNamer struct {
	// BinaryExtensions are kept when taken from the URL; anything else
	// gets ".pdf".
	BinaryExtensions []string
}

func (n DefaultNamer) Name(item types.QueueItem) string {
	if item.NamingHint != nil && item.NamingHint.SuggestedFilename != "" {
		if name := sanitizeFilename(item.NamingHint.SuggestedFilename); name != "" {
			return name
		}
	}
	ext := n.extension(item.ResolvedURL)
	return urlSlug(item.ResolvedURL) + ext
}

func (n DefaultNamer) extension(rawURL string) string {
	if resolve.HasExtension(rawURL, n.BinaryExtensions) {
		if u, err := url.Parse(rawURL); err == nil {
			return strings.ToLower(path.Ext(u.Path))
		}
	}
	return ".pdf"
}

// urlSlug returns the URL's basename without extension, or a short hash
// when the path has none.
func urlSlug(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return urlHashSlug(rawURL)
	}
	base := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	base = slugify(base, 80)
	if base == "" {
		return urlHashSlug(rawURL)
	}
	return base
}

func urlHashSlug(rawURL string) string {
	h := sha256.Sum256([]byte(rawURL))
	return "url-" + hex.EncodeToString(h[:8])
}

// NamingHintFor builds the naming hint recorded when an item resolves.
// It returns nil when metadata carries nothing useful for naming.
func NamingHintFor(meta types.Metadata, resolvedURL string, binaryExts []string) *types.NamingHint {
	if meta.Title == "" && len(meta.Authors) == 0 && meta.Year == 0 {
		return nil
	}
	return &types.NamingHint{
		Title:             meta.Title,
		Authors:           append([]string(nil), meta.Authors...),
		Year:              meta.Year,
		SuggestedFilename: SuggestFilename(meta, DefaultNamer{BinaryExtensions: binaryExts}.extension(resolvedURL)),
	}
}

// SuggestFilename builds "<author>-<year>-<title words><ext>" from
// metadata, e.g. "lovelace-1843-sketch-of-the-analytical-engine.pdf".
// It returns "" when there is no title.
func SuggestFilename(meta types.Metadata, ext string) string {
	title := slugify(meta.Title, 60)
	if title == "" {
		return ""
	}
	var parts []string
	if len(meta.Authors) > 0 {
		if fam := slugify(familyName(meta.Authors[0]), 30); fam != "" {
			parts = append(parts, fam)
		}
	}
	if meta.Year > 0 {
		parts = append(parts, strconv.Itoa(meta.Year))
	}
	parts = append(parts, title)
	return strings.Join(parts, "-") + ext
}

// familyName takes "Family, Given" or "Given Family" and returns Family.
func familyName(author string) string {
	author = strings.TrimSpace(author)
	if fam, _, ok := strings.Cut(author, ","); ok {
		return fam
	}
	fields := strings.Fields(author)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// foldDiacritics strips combining marks after canonical decomposition so
// "Gödel" becomes "Godel".
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// slugify lowercases s, folds diacritics, and joins alphanumeric runs
// with single hyphens, cutting at a word boundary near limit bytes.
func slugify(s string, limit int) string {
	folded, _, err := transform.String(foldDiacritics, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && b.Len() > 0 {
				if b.Len() >= limit {
					break
				}
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// sanitizeFilename keeps a caller-suggested name inside the output
// directory and free of characters that trouble common filesystems.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || strings.HasPrefix(name, ".") {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		default:
			return r
		}
	}, name)
	return name
}

// claimPath reserves dir/name, or dir/name-N.ext for the first N that is
// free, by creating an empty file there exclusively. Concurrent callers
// never receive the same path. The caller renames its document over the
// placeholder, or removes it.
func claimPath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; i < 10000; i++ {
		candidate := filepath.Join(dir, name)
		if i > 1 {
			candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
		}
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reserving %s: %w", candidate, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("reserving %s: %w", candidate, err)
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no free file name for %s in %s", name, dir)
}
