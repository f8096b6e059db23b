// Package db ships the SQL migrations embedded, so the admin CLI runs them
// without a migrations directory on disk.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
