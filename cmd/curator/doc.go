// Package main hosts the Curator CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into intake
// runs, archive downloads, registry administration, ledger inspection, and
// the foreground watch process. It centralizes configuration resolution and
// collaborator wiring so subcommands can focus on user experience instead of
// plumbing.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
