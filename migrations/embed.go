// Package migrations embeds the journal schema so go2wb ships as a single
// binary. Importing it registers the files with package database.
package migrations

import (
	"embed"

	"github.com/aadegtyarev/go2wb/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
