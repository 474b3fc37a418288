package preflight

import (
	"context"

	"curator/internal/archive"
	"curator/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every readiness check for the given config. client may be
// nil, in which case the archive and registry checks report the missing
// client instead of being skipped silently.
func RunAll(ctx context.Context, cfg *config.Config, client archive.Client) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Intake directory", cfg.Paths.IntakeDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Review directory", cfg.Paths.ReviewDir),
		CheckDirectoryAccess("Registry working directory", cfg.Registry.WorkingDir),
		CheckFreeSpace(cfg.Paths.StagingDir),
		CheckTemplates(cfg.Paths.TemplateDir),
		CheckLedger(cfg),
	}

	if client == nil {
		results = append(results,
			Result{Name: "Archive", Detail: "no archive client"},
			Result{Name: "Registry document", Detail: "no archive client"},
		)
		return results
	}

	results = append(results, CheckArchive(ctx, client))
	results = append(results, CheckRegistryDocument(ctx, client, cfg.Registry.DocumentKey))
	return results
}

// AllPassed reports whether every check in results passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
