// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/paperfetch/pkg/types"
)

// Sidecar is the YAML record written next to a completed file.
type Sidecar struct {
	ID           string               `yaml:"id"`
	Input        string               `yaml:"input"`
	SourceKind   types.IdentifierKind `yaml:"source_kind"`
	ResolvedURL  string               `yaml:"resolved_url"`
	File         string               `yaml:"file"`
	Bytes        int64                `yaml:"bytes"`
	Title        string               `yaml:"title,omitempty"`
	Authors      []string             `yaml:"authors,omitempty"`
	Year         int                  `yaml:"year,omitempty"`
	DownloadedAt time.Time            `yaml:"downloaded_at"`
}

// SidecarPath returns the metadata path for a document path:
// "paper.pdf" becomes "paper.yaml".
func SidecarPath(docPath string) string {
	return strings.TrimSuffix(docPath, filepath.Ext(docPath)) + ".yaml"
}

func newSidecar(item types.QueueItem, savedPath string, size int64, at time.Time) Sidecar {
	s := Sidecar{
		ID:           item.ID,
		Input:        item.Input,
		SourceKind:   item.SourceKind,
		ResolvedURL:  item.ResolvedURL,
		File:         filepath.Base(savedPath),
		Bytes:        size,
		DownloadedAt: at.UTC(),
	}
	if h := item.NamingHint; h != nil {
		s.Title = h.Title
		s.Authors = h.Authors
		s.Year = h.Year
	}
	return s
}

// WriteSidecar writes s as YAML to path.
func WriteSidecar(path string, s Sidecar) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSidecar reads a sidecar written by WriteSidecar.
func ReadSidecar(path string) (Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sidecar{}, err
	}
	var s Sidecar
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Sidecar{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}
