package config

const (
	defaultStagingDir          = "~/.local/share/curator/staging"
	defaultIntakeDir           = "~/.local/share/curator/intake"
	defaultOutputDir           = "~/curator"
	defaultTemplateDir         = "~/.local/share/curator/templates"
	defaultLogDir              = "~/.local/share/curator/logs"
	defaultReviewDir           = "~/.local/share/curator/review"
	defaultLogRetentionDays    = 60
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultArchiveDriver       = "fs"
	defaultArchiveRoot         = "~/.local/share/curator/archive"
	defaultArchiveTimeout      = 30
	defaultRegistryDocumentKey = "meta/registry.json"
	defaultRegistryWorkingDir  = "~/.cache/curator/registry"
	defaultResourceLabel       = "SRC"
	defaultClassifyThreshold   = 0.9
	defaultClassifyMinMargin   = 0.05
	defaultHashWorkers         = 4
	defaultReconcileAfter      = 30
	defaultWatchDebounce       = 5
	defaultWatchRescan         = 300
	defaultNotifyTimeout       = 10
	defaultNotifyDedupWindow   = 600
	defaultIntakeDelimiter     = ";"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir:  defaultStagingDir,
			IntakeDir:   defaultIntakeDir,
			OutputDir:   defaultOutputDir,
			TemplateDir: defaultTemplateDir,
			LogDir:      defaultLogDir,
			ReviewDir:   defaultReviewDir,
		},
		Archive: Archive{
			Driver:         defaultArchiveDriver,
			Root:           defaultArchiveRoot,
			PathStyle:      true,
			RequestTimeout: defaultArchiveTimeout,
		},
		Registry: Registry{
			DocumentKey: defaultRegistryDocumentKey,
			WorkingDir:  defaultRegistryWorkingDir,
		},
		Classify: Classify{
			Threshold: defaultClassifyThreshold,
			MinMargin: defaultClassifyMinMargin,
		},
		Intake: Intake{
			Delimiter:       defaultIntakeDelimiter,
			DeidentifyDicom: true,
			ResourceLabel:   defaultResourceLabel,
		},
		Workflow: Workflow{
			HashWorkers:           defaultHashWorkers,
			ReconcileAfterMinutes: defaultReconcileAfter,
		},
		Watch: Watch{
			DebounceSeconds: defaultWatchDebounce,
			RescanSeconds:   defaultWatchRescan,
		},
		Notifications: Notifications{
			RequestTimeout:     defaultNotifyTimeout,
			Commits:            true,
			Duplicates:         true,
			Conflicts:          true,
			Reconcile:          true,
			Errors:             true,
			DedupWindowSeconds: defaultNotifyDedupWindow,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
