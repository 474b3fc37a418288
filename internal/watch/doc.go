// Package watch runs the intake drop directory watcher.
//
// A drop is one subdirectory of the intake directory holding a metadata
// file (case.csv) plus the case's image files. Drops that have been quiet
// for the debounce window are ingested through the orchestrator, one at a
// time; ingested drops move to the staging directory and rejected drops
// move to the review directory, so the intake directory only ever holds
// work in flight. A periodic rescan backstops any filesystem event the
// watcher missed.
package watch
