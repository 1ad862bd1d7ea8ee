// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package identify turns raw input text into typed identifiers. It stands in
// for the input-parsing collaborator: the download core only consumes the
// types.Identifier values it produces.
package identify

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdiddy/paperfetch/pkg/types"
)

// arxivPattern matches arXiv IDs: "2301.07041", "arXiv:2301.07041", "2301.07041v2".
var arxivPattern = regexp.MustCompile(`^(?i:arXiv:)?(\d{4}\.\d{4,5}(?:v\d+)?)$`)

// doiPattern matches bare DOIs: "10.1145/1234567.1234568".
var doiPattern = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)

// doiPrefixes are stripped before DOI matching.
var doiPrefixes = []string{
	"doi:",
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
}

// yearPattern detects a plausible publication year in a reference string.
var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Classify determines the identifier kind of a single input and returns the
// normalized identifier. arXiv IDs become arxiv.org abstract URLs.
func Classify(input string) types.Identifier {
	raw := input
	s := strings.TrimSpace(input)
	id := types.Identifier{Raw: raw, Kind: types.KindUnknown, Value: s}
	if s == "" {
		return id
	}

	if strings.HasPrefix(s, "@") && strings.Contains(s, "{") {
		id.Kind = types.KindBibTeX
		return id
	}

	if m := arxivPattern.FindStringSubmatch(s); m != nil {
		id.Kind = types.KindURL
		id.Value = "https://arxiv.org/abs/" + m[1]
		return id
	}

	if doi, ok := normalizeDOI(s); ok {
		id.Kind = types.KindDOI
		id.Value = doi
		return id
	}

	if u, err := url.Parse(s); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		id.Kind = types.KindURL
		return id
	}

	if looksLikeReference(s) {
		id.Kind = types.KindReference
		id.Value = strings.Join(strings.Fields(s), " ")
	}
	return id
}

// normalizeDOI strips resolver prefixes and trailing punctuation.
func normalizeDOI(s string) (string, bool) {
	lower := strings.ToLower(s)
	for _, p := range doiPrefixes {
		if strings.HasPrefix(lower, p) {
			s = s[len(p):]
			break
		}
	}
	s = strings.TrimRight(s, ".,;")
	if doiPattern.MatchString(s) {
		return s, true
	}
	return "", false
}

// looksLikeReference accepts free text with several words and either a year
// or enough length to be a citation.
func looksLikeReference(s string) bool {
	words := strings.Fields(s)
	if len(words) < 4 {
		return false
	}
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < 10 {
		return false
	}
	return yearPattern.MatchString(s) || len(s) >= 40
}

// Parse reads newline-separated inputs. Blank lines and lines starting with
// '#' are skipped. BibTeX entries may span lines and are collected until
// their braces balance.
func Parse(r io.Reader) ([]types.Identifier, error) {
	var (
		out   []types.Identifier
		entry strings.Builder
		depth int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if entry.Len() == 0 {
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			if !strings.HasPrefix(trimmed, "@") {
				out = append(out, Classify(trimmed))
				continue
			}
		}

		if entry.Len() > 0 {
			entry.WriteByte('\n')
		}
		entry.WriteString(line)
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth <= 0 && strings.Contains(entry.String(), "{") {
			out = append(out, Classify(entry.String()))
			entry.Reset()
			depth = 0
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if entry.Len() > 0 {
		return out, fmt.Errorf("unterminated BibTeX entry: %q", firstLine(entry.String()))
	}
	return out, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
