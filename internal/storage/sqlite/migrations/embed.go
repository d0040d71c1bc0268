package migrations

import "embed"

// FS contains the embedded chat schema migrations.
//
//go:embed *.sql
var FS embed.FS
