// Package audit keeps a journal of the commands the bridge sends.
//
// Every command the gateway accepts is recorded as pending. When a later
// poll confirms or overrides it, the entry gets its final status and the
// time it was resolved. Entries outlive the heater they refer to and are
// pruned after the configured retention.
//
// The Journal subscribes to gateway events:
//
//	journal := audit.NewJournal(audit.NewSQLiteRepository(db.DB), audit.JournalOptions{
//	    Retention: 30 * 24 * time.Hour,
//	})
//	journal.Start()
//	defer journal.Stop()
//	unsubscribe := gw.Subscribe(journal.HandleEvent)
//
// The journal is not telemetry history: it records what was asked for,
// never what the heater reported.
package audit
