// Package migrations embeds the goose migrations for the shared PostgreSQL store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
