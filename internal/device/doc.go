// Package device holds the bridge's catalogue of Ai-Link water heaters and
// the live state of each one.
//
// # Key Types
//
//   - Record: identity and metadata from the cloud device list
//   - Device: one heater's mutable state behind its own mutex
//   - Snapshot: a consistent, deep-copied view of a Device
//   - PendingCommand: an optimistic value awaiting confirmation by a poll
//   - Registry: membership map of devices (RWMutex), discovery and sync
//   - Repository: SQLite persistence of records and the latest snapshot
//
// # Locking
//
// The Registry lock guards membership only. Each Device serialises its
// own updates, so a poll of one heater never waits on another. No method
// in this package performs network I/O while holding a lock.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.Load(ctx); err != nil { // warm start, all stale
//	    return err
//	}
//	records, err := registry.Discover(ctx, cloudClient)
//	if err != nil {
//	    return err
//	}
//	diff, err := registry.Sync(ctx, records)
package device
