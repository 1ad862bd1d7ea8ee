// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads private settings from a directory of plain-text
// files kept out of the config file. Each file is one secret: the filename
// is the key and the trimmed contents are the value.
//
// Known keys: contact-email (sent to Crossref and OpenAlex as mailto).
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pdiddy/paperfetch/pkg/types"
)

// DefaultDir is where secrets are looked up unless configured otherwise.
const DefaultDir = ".secrets"

// KeyContactEmail names the file holding the polite-pool contact address.
const KeyContactEmail = "contact-email"

// Secrets maps key names to values.
type Secrets map[string]string

// Load reads all files in dir. A missing directory is not an error and
// yields no secrets. Unreadable files are logged and skipped.
func Load(dir string, log zerolog.Logger) (Secrets, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Secrets{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(Secrets)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warn().Err(err).Str("secret", name).Msg("could not read secret")
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// ApplyTo fills settings the secrets provide. Values already set in cfg
// win.
func (s Secrets) ApplyTo(cfg *types.Config) {
	if cfg.HTTP.Mailto == "" {
		cfg.HTTP.Mailto = s[KeyContactEmail]
	}
}
