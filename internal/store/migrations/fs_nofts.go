//go:build !sqlite_fts5

package migrations

import "embed"

//go:embed 0001_init.up.sql 0001_init.down.sql
var FS embed.FS
