// Package migrations embeds the SQL schema applied by sqlstore.RunMigrations.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
