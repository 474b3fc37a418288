package testsupport

import (
	"path/filepath"
	"testing"

	"curator/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test:
// every path lands under t.TempDir(), the archive runs on the in-memory
// driver, and notifications stay off.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.IntakeDir = filepath.Join(base, "intake")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.TemplateDir = filepath.Join(base, "templates")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.ReviewDir = filepath.Join(base, "review")
	cfg.Archive.Driver = "memory"
	cfg.Archive.Root = filepath.Join(base, "archive")
	cfg.Archive.Operator = "Test Operator"
	cfg.Registry.WorkingDir = filepath.Join(base, "registry")
	cfg.Notifications.NtfyTopic = ""

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithArchiveDriver selects a different archive backend for the test.
func WithArchiveDriver(driver string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Archive.Driver = driver
	}
}

// WithNtfyTopic points notifications at a topic URL, usually an httptest
// server.
func WithNtfyTopic(topic string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Notifications.NtfyTopic = topic
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
