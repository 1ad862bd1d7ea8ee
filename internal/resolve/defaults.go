// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pdiddy/paperfetch/pkg/types"
)

// NewDefaultRegistry registers every built-in resolver. Site-specific
// resolvers come first in registration order, so among equal priorities
// they are tried before generic ones.
func NewDefaultRegistry(client *http.Client, cfg types.Config, log zerolog.Logger) *Registry {
	env := HTTPEnv{
		Client:    client,
		UserAgent: cfg.HTTP.UserAgent,
		Mailto:    cfg.HTTP.Mailto,
	}
	reg := NewRegistry(log)
	reg.Register(
		BibTeXResolver{},
		NewArxivResolver(env, log),
	)
	for _, rule := range DefaultSiteRules() {
		reg.Register(NewSiteResolver(rule))
	}
	reg.Register(
		NewDOIResolver(env, log),
		NewReferenceResolver(env, cfg.Resolve.ReferenceMinScore, log),
		NewLandingResolver(env, cfg.Auth.BinaryExtensions, log),
		DirectResolver{},
	)
	return reg
}
