// Package migrations holds the goose migrations for the discard audit and
// kept items tables. Files are named YYYYMMDDHHMMSS_description.sql and are
// applied by db.Migrate when the crawler starts with a Postgres DSN.
package migrations

import "embed"

// FS contains every migration of the crawler schema.
//
//go:embed *.sql
var FS embed.FS
