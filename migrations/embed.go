// Package migrations embeds the spesialist schema. Files are applied in name
// order by storage.DB.RunMigrations and recorded in schema_migrations.
package migrations

import "embed"

// FS holds every .sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
