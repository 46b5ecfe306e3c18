// Package migrations embeds the Postgres schema for the feed backend.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
