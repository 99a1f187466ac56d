// Package migrations embeds the dev server's SQL schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
