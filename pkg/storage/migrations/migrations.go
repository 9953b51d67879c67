// Package migrations embeds the SQLite schema migrations for the storage
// backend so they compile into the binary.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
