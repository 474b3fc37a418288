// Package ledger persists orchestrated runs in SQLite.
//
// Every upload, download, derived-data, and reconcile invocation is recorded
// as a run that moves through the intake state machine. The ledger is what
// makes the committed-but-not-synced gap recoverable: runs that reached
// committed without reaching synced are replayed by the reconcile pass.
package ledger
