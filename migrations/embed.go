package migrations

import "embed"

// FS embeds the SQL migrations, one directory per dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
