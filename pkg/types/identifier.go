// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// IdentifierKind classifies an input identifier.
type IdentifierKind string

const (
	KindURL       IdentifierKind = "url"
	KindDOI       IdentifierKind = "doi"
	KindReference IdentifierKind = "reference"
	KindBibTeX    IdentifierKind = "bibtex"
	KindUnknown   IdentifierKind = "unknown"
)

// ParseIdentifierKind maps a stored kind string back to an IdentifierKind.
// Unrecognized values map to KindUnknown.
func ParseIdentifierKind(s string) IdentifierKind {
	switch IdentifierKind(s) {
	case KindURL, KindDOI, KindReference, KindBibTeX:
		return IdentifierKind(s)
	default:
		return KindUnknown
	}
}

// Identifier is a typed, normalized reference to a document awaiting
// resolution. It is produced by the input classifier and never mutated.
type Identifier struct {
	// Raw is the text exactly as it appeared in the input.
	Raw string `json:"raw" yaml:"raw"`

	// Kind is the classified identifier type.
	Kind IdentifierKind `json:"kind" yaml:"kind"`

	// Value is the normalized form (bare DOI, absolute URL, trimmed entry).
	Value string `json:"value" yaml:"value"`
}

// NewIdentifier builds an identifier whose raw text equals its value.
func NewIdentifier(kind IdentifierKind, value string) Identifier {
	return Identifier{Raw: value, Kind: kind, Value: value}
}

func (id Identifier) String() string {
	return string(id.Kind) + ":" + id.Value
}
