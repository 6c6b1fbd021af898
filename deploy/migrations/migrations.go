package migrations

import "embed"

// Files holds the SQL migrations applied by the MySQL stores.
//
//go:embed *.sql
var Files embed.FS
