package migrations

import "embed"

// FS contains embedded Postgres migrations for the will, audit and ledger tables.
//
//go:embed *.sql
var FS embed.FS
