// Package database provides SQLite connectivity for Arvis Core.
//
// The only persistent data Arvis keeps is the outcome log: one row per
// terminal instruction outcome. Raw sensor signals are never stored.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Versioned migrations from an fs.FS (embedded by the migrations package)
//   - Health checks for the debug channel
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default.
package database
