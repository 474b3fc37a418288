// Package preflight provides readiness checks for the directories, archive
// backend, registry document, templates, and run ledger that curator
// depends on.
//
// These checks run in two contexts:
//   - The watch mode runs RunAll at startup and refuses to enter its loop
//     when a check fails, so a misconfigured drop directory never eats cases.
//   - The CLI "curator status" command renders the same results for
//     operators diagnosing a stuck installation.
package preflight
