// Package migrations embeds the schema migrations applied to every clinic
// schema by `emr-server migrate up` and `emr-server tenant create`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
