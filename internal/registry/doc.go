// Package registry maintains the shared vocabulary and prior-upload ledger:
// five tables round-tripped against a single JSON document in the archive,
// mutated in memory during a run and published back wholesale with
// conflict detection.
package registry
