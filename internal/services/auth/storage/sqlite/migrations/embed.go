// Package migrations embeds the auth schema migration files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
