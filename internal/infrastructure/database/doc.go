// Package database provides SQLite connectivity for the go2wb control journal.
//
// This package manages:
//   - The connection, with WAL mode so API reads run during journal writes
//   - Schema migrations loaded from an fs.FS (embedded by package migrations)
//   - Connection pool limits suited to SQLite's single writer
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600
//
// Usage:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql. They are
// applied oldest first and recorded in schema_migrations; /api/v1/health
// reports how many are still pending.
package database
