// Package migrations holds the Postgres schema, applied in file-name order by
// database.Pool.Migrate. Files are forward-only.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
