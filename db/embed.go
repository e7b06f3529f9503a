// Package db carries the embedded schema migrations for the optional
// request-audit store.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
