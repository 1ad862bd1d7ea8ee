// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// ItemStatus is the lifecycle state of a queue item.
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusInProgress ItemStatus = "in_progress"
	StatusCompleted  ItemStatus = "completed"
	StatusFailed     ItemStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s ItemStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Metadata holds optional bibliographic fields discovered during
// resolution. Absence never blocks a download.
type Metadata struct {
	Title     string   `json:"title,omitempty" yaml:"title,omitempty"`
	Authors   []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Year      int      `json:"year,omitempty" yaml:"year,omitempty"`
	DOI       string   `json:"doi,omitempty" yaml:"doi,omitempty"`
	SourceURL string   `json:"source_url,omitempty" yaml:"source_url,omitempty"`
}

// IsZero reports whether no field is set.
func (m Metadata) IsZero() bool {
	return m.Title == "" && len(m.Authors) == 0 && m.Year == 0 && m.DOI == "" && m.SourceURL == ""
}

// Merge fills empty fields of m from other. Fields already set win.
func (m Metadata) Merge(other Metadata) Metadata {
	if m.Title == "" {
		m.Title = other.Title
	}
	if len(m.Authors) == 0 && len(other.Authors) > 0 {
		m.Authors = append([]string(nil), other.Authors...)
	}
	if m.Year == 0 {
		m.Year = other.Year
	}
	if m.DOI == "" {
		m.DOI = other.DOI
	}
	if m.SourceURL == "" {
		m.SourceURL = other.SourceURL
	}
	return m
}

// NamingHint carries what the output collaborator needs to name a file.
type NamingHint struct {
	Title             string   `json:"title,omitempty" yaml:"title,omitempty"`
	Authors           []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Year              int      `json:"year,omitempty" yaml:"year,omitempty"`
	SuggestedFilename string   `json:"suggested_filename,omitempty" yaml:"suggested_filename,omitempty"`
}

// QueueItem is the unit of durable work.
type QueueItem struct {
	// ID is a stable UUID assigned at enqueue.
	ID string `json:"id" yaml:"id"`

	// Seq is the insertion order; claims follow it.
	Seq int64 `json:"seq" yaml:"seq"`

	// Input is the identifier text or URL as submitted.
	Input string `json:"input" yaml:"input"`

	// SourceKind is the identifier kind of Input.
	SourceKind IdentifierKind `json:"source_kind" yaml:"source_kind"`

	// ResolvedURL is the concrete download URL once resolution succeeded.
	ResolvedURL string `json:"resolved_url,omitempty" yaml:"resolved_url,omitempty"`

	// ExpectBinary is set when the resolver promised a document at
	// ResolvedURL; an HTML answer there is then a failure.
	ExpectBinary bool `json:"expect_binary,omitempty" yaml:"expect_binary,omitempty"`

	Status          ItemStatus `json:"status" yaml:"status"`
	AttemptCount    int        `json:"attempt_count" yaml:"attempt_count"`
	BytesDownloaded int64      `json:"bytes_downloaded" yaml:"bytes_downloaded"`
	ContentLength   *int64     `json:"content_length,omitempty" yaml:"content_length,omitempty"`

	// ETag is the validator of the partially downloaded representation.
	ETag string `json:"etag,omitempty" yaml:"etag,omitempty"`

	LastError  *Failure    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	NamingHint *NamingHint `json:"naming_hint,omitempty" yaml:"naming_hint,omitempty"`
	SavedPath  string      `json:"saved_path,omitempty" yaml:"saved_path,omitempty"`

	CreatedAt     time.Time  `json:"created_at" yaml:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at" yaml:"updated_at"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty" yaml:"next_attempt_at,omitempty"`
}

// Identifier rebuilds the typed identifier the item was enqueued with.
func (it QueueItem) Identifier() Identifier {
	return Identifier{Raw: it.Input, Kind: it.SourceKind, Value: it.Input}
}

// AttemptRecord is an append-only history row written when an item
// reaches a terminal state.
type AttemptRecord struct {
	ID              int64          `json:"id" yaml:"id"`
	ItemID          string         `json:"item_id" yaml:"item_id"`
	Input           string         `json:"input" yaml:"input"`
	SourceKind      IdentifierKind `json:"source_kind" yaml:"source_kind"`
	ResolvedURL     string         `json:"resolved_url,omitempty" yaml:"resolved_url,omitempty"`
	Status          ItemStatus     `json:"status" yaml:"status"`
	AttemptCount    int            `json:"attempt_count" yaml:"attempt_count"`
	BytesDownloaded int64          `json:"bytes_downloaded" yaml:"bytes_downloaded"`
	ContentLength   *int64         `json:"content_length,omitempty" yaml:"content_length,omitempty"`
	SavedPath       string         `json:"saved_path,omitempty" yaml:"saved_path,omitempty"`
	NamingHint      *NamingHint    `json:"naming_hint,omitempty" yaml:"naming_hint,omitempty"`
	Failure         *Failure       `json:"failure,omitempty" yaml:"failure,omitempty"`
	RecordedAt      time.Time      `json:"recorded_at" yaml:"recorded_at"`
}
