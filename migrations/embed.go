// Package migrations embeds the bridge's SQL migration files.
//
// Importing this package registers the files with the database package so
// the binary can migrate without the SQL being present on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/ailink-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
