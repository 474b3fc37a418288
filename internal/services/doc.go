// Package services defines shared utilities consumed by the orchestrator
// stages and the archive, registry, and intake components.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, case keys, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent ledger statuses (failed vs review).
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability) stays uniform across the pipeline.
package services
