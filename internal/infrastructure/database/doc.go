// Package database provides the SQLite store behind the powersensor daemon.
//
// It holds the device catalogue written by the materializer and the role
// settings that survive restarts. The package covers:
//   - Opening the file with WAL mode and a busy timeout
//   - Versioned migrations loaded from an fs.FS
//   - Health checks and transaction helpers
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql, and are applied in version order.
package database
