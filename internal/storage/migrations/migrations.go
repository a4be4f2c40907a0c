// Package migrations embeds the goose schema migrations for every SQL dialect
// the storage package supports. Each dialect lives in its own directory.
package migrations

import "embed"

//go:embed mysql/*.sql sqlite3/*.sql postgres/*.sql
var FS embed.FS
