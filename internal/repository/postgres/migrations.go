package postgres

import "embed"

// Migrations holds the schema, versioned for golang-migrate.
//
//go:embed migrations/*.sql
var Migrations embed.FS
