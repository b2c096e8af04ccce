// Package journal keeps a SQLite audit trail of observed control values.
//
// Every value the session records (broker messages and seeded defaults) can
// be appended to the control_history table through Observer. The journal is
// local and best-effort: it is not used to restore state on startup.
//
// Usage:
//
//	j := journal.New(db.DB)
//	sess.AddObserver(j.Observer(ctx, logger))
//
//	entries, err := j.History(ctx, wb.Path("wb-msw", "Temperature"), 20)
package journal
