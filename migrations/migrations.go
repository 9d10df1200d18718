// Package migrations embeds the SQL schema applied by `carekeeper migrate`.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
