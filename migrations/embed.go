// Package migrations embeds the SQL schema so binaries can migrate without
// shipping loose files.
package migrations

import "embed"

//go:embed *.sql seeds/*.sql
var Files embed.FS
