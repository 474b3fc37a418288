// Package naming derives the archive hierarchy for committed cases:
// subject, experiment label, scan index, and stable in-scan file names.
// Derivation is deterministic for a fixed case record and registry
// snapshot, and scan indices are allocated monotonically, never reused,
// so iterative reprocessing keeps its full provenance trail.
package naming
