// Package workflow runs the intake state machine end to end.
//
// The Orchestrator executes one operation at a time: upload a new case,
// attach derived data, download queried cases, or reconcile runs that
// committed files without syncing the registry. Each run walks
// validate -> deduplicate -> classify -> name -> commit -> sync, persisting
// every transition to the ledger so an interrupted run is visible and
// reconcilable. File hashing and template classification fan out across a
// bounded worker group; registry mutation stays serialized.
//
// Failure policy: validation and classification problems abort a batch
// before anything is written; a partial commit is compensated by deleting
// everything the run wrote; a sync conflict leaves the run in committed so
// Reconcile can finish the bookkeeping against a fresh registry session.
package workflow
