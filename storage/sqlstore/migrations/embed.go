package migrations

import "embed"

// FS contains the embedded goose migrations shared by sqlite and postgres.
//
//go:embed *.sql
var FS embed.FS
