package migrations

import "embed"

// FS contains the settlement schema migrations. The same files apply to
// Postgres and SQLite.
//
//go:embed *.sql
var FS embed.FS
