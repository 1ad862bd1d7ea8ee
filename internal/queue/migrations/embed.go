// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package migrations holds the queue schema.
package migrations

import "embed"

// Files contains all SQL migration files in ascending order by filename.
//
//go:embed *.sql
var Files embed.FS
