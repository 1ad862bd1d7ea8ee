// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/pdiddy/paperfetch/pkg/types"
)

// BibTeXResolver extracts a resolvable identifier from a BibTeX entry and
// redirects to it, carrying the entry's title, authors and year.
type BibTeXResolver struct{}

func (BibTeXResolver) Name() string       { return "bibtex" }
func (BibTeXResolver) Priority() Priority { return Specialized }

func (BibTeXResolver) CanHandle(id types.Identifier) bool {
	return id.Kind == types.KindBibTeX
}

func (BibTeXResolver) Resolve(_ context.Context, id types.Identifier, _ Context) (Outcome, error) {
	entry, err := ParseBibTeX(id.Value)
	if err != nil {
		return FailedOutcome("malformed BibTeX entry: "+err.Error(), "check that braces balance and fields are separated by commas"), nil
	}

	meta := entry.Metadata()
	f := entry.Fields

	if doi := strings.TrimSpace(f["doi"]); doi != "" {
		for _, p := range []string{"https://doi.org/", "http://dx.doi.org/", "doi:"} {
			doi = strings.TrimPrefix(doi, p)
		}
		meta.DOI = doi
		return RedirectOutcome(types.NewIdentifier(types.KindDOI, doi), meta), nil
	}
	if u := strings.TrimSpace(f["url"]); u != "" {
		if _, ok := parseHTTPURL(u); ok {
			return RedirectOutcome(types.NewIdentifier(types.KindURL, u), meta), nil
		}
	}
	if eprint := strings.TrimSpace(f["eprint"]); eprint != "" {
		archive := strings.ToLower(f["archiveprefix"] + f["eprinttype"])
		if archive == "arxiv" || arxivDOIPattern.MatchString("10.48550/arXiv."+eprint) {
			return RedirectOutcome(types.NewIdentifier(types.KindURL, "https://arxiv.org/abs/"+eprint), meta), nil
		}
	}
	if meta.Title != "" {
		ref := meta.Title
		if len(meta.Authors) > 0 {
			ref = strings.Join(meta.Authors, ", ") + ". " + ref
		}
		if meta.Year != 0 {
			ref += fmt.Sprintf(" (%d)", meta.Year)
		}
		return RedirectOutcome(types.NewIdentifier(types.KindReference, ref), meta), nil
	}

	return FailedOutcome(
		"BibTeX entry "+entry.Key+" has no doi, url, eprint or title",
		"add a doi or url field to the entry",
	), nil
}

// BibEntry is a parsed BibTeX entry. Field names are lower-cased and
// values have their delimiting braces or quotes removed.
type BibEntry struct {
	Type   string
	Key    string
	Fields map[string]string
}

// Metadata extracts title, authors and year.
func (e BibEntry) Metadata() types.Metadata {
	meta := types.Metadata{Title: cleanBibValue(e.Fields["title"])}
	if a := e.Fields["author"]; a != "" {
		for _, name := range strings.Split(a, " and ") {
			if name = cleanBibValue(name); name != "" {
				meta.Authors = append(meta.Authors, flipBibName(name))
			}
		}
	}
	if y, err := strconv.Atoi(strings.TrimSpace(e.Fields["year"])); err == nil {
		meta.Year = y
	}
	return meta
}

// ParseBibTeX parses a single "@type{key, field = value, ...}" entry.
func ParseBibTeX(s string) (BibEntry, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "@") {
		return BibEntry{}, fmt.Errorf("entry must start with @")
	}
	open := strings.IndexAny(s, "{(")
	if open < 0 {
		return BibEntry{}, fmt.Errorf("missing opening brace")
	}
	closer := byte('}')
	if s[open] == '(' {
		closer = ')'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= open {
		return BibEntry{}, fmt.Errorf("missing closing brace")
	}

	entry := BibEntry{
		Type:   strings.ToLower(strings.TrimSpace(s[1:open])),
		Fields: map[string]string{},
	}
	body := s[open+1 : end]

	comma := strings.IndexByte(body, ',')
	if comma < 0 {
		entry.Key = strings.TrimSpace(body)
		return entry, nil
	}
	entry.Key = strings.TrimSpace(body[:comma])

	p := &bibParser{s: body[comma+1:]}
	for {
		p.skipSpaceAndCommas()
		if p.done() {
			return entry, nil
		}
		name := strings.ToLower(p.readName())
		if name == "" {
			return entry, fmt.Errorf("expected field name at offset %d", p.i)
		}
		p.skipSpace()
		if p.done() || p.s[p.i] != '=' {
			return entry, fmt.Errorf("expected '=' after field %q", name)
		}
		p.i++
		p.skipSpace()
		value, err := p.readValue()
		if err != nil {
			return entry, fmt.Errorf("field %q: %w", name, err)
		}
		entry.Fields[name] = value
	}
}

type bibParser struct {
	s string
	i int
}

func (p *bibParser) done() bool { return p.i >= len(p.s) }

func (p *bibParser) skipSpace() {
	for !p.done() && unicode.IsSpace(rune(p.s[p.i])) {
		p.i++
	}
}

func (p *bibParser) skipSpaceAndCommas() {
	for !p.done() && (unicode.IsSpace(rune(p.s[p.i])) || p.s[p.i] == ',') {
		p.i++
	}
}

func (p *bibParser) readName() string {
	start := p.i
	for !p.done() {
		c := p.s[p.i]
		if c == '=' || c == ',' || unicode.IsSpace(rune(c)) {
			break
		}
		p.i++
	}
	return p.s[start:p.i]
}

// readValue reads a braced, quoted or bare value; "#" concatenation of
// parts is supported.
func (p *bibParser) readValue() (string, error) {
	var b strings.Builder
	for {
		p.skipSpace()
		if p.done() {
			return "", fmt.Errorf("missing value")
		}
		switch p.s[p.i] {
		case '{':
			depth := 0
			start := p.i
			for ; !p.done(); p.i++ {
				switch p.s[p.i] {
				case '{':
					depth++
				case '}':
					depth--
				}
				if depth == 0 {
					break
				}
			}
			if p.done() {
				return "", fmt.Errorf("unbalanced braces")
			}
			b.WriteString(p.s[start+1 : p.i])
			p.i++
		case '"':
			p.i++
			start := p.i
			depth := 0
			for ; !p.done(); p.i++ {
				c := p.s[p.i]
				if c == '{' {
					depth++
				} else if c == '}' {
					depth--
				} else if c == '"' && depth == 0 {
					break
				}
			}
			if p.done() {
				return "", fmt.Errorf("unterminated quoted value")
			}
			b.WriteString(p.s[start:p.i])
			p.i++
		default:
			start := p.i
			for !p.done() && p.s[p.i] != ',' && p.s[p.i] != '#' && !unicode.IsSpace(rune(p.s[p.i])) {
				p.i++
			}
			b.WriteString(p.s[start:p.i])
		}

		p.skipSpace()
		if p.done() || p.s[p.i] != '#' {
			return b.String(), nil
		}
		p.i++
	}
}

// cleanBibValue strips grouping braces and collapses whitespace.
func cleanBibValue(s string) string {
	s = strings.NewReplacer("{", "", "}", "", "\\&", "&").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// flipBibName turns "Family, Given" into "Given Family".
func flipBibName(name string) string {
	family, given, ok := strings.Cut(name, ",")
	if !ok {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(given) + " " + strings.TrimSpace(family))
}
