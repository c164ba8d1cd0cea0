// Package database provides SQLite connectivity for the Ai-Link bridge.
//
// The store is small: device records and the latest telemetry snapshot per
// device, overwritten on every successful poll. No history is kept.
//
// This package manages:
//   - Connection setup (WAL mode, busy timeout, single writer)
//   - Embedded, versioned schema migrations
//   - Health checks
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
package database
