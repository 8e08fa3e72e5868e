package migrations

import "embed"

// FS contains embedded SQLite migrations for messages storage.
//
//go:embed *.sql
var FS embed.FS
