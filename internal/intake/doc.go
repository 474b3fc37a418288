// Package intake validates case metadata rows against a data-driven ruleset
// and the registry vocabulary, producing canonical CaseRecords. Required and
// conditional column rules, vocabulary bindings, and date/time formats all
// live in the Ruleset, so the contract can grow through configuration
// without code changes.
package intake
