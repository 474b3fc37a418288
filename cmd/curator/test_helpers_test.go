package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"curator/internal/config"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.IntakeDir = filepath.Join(base, "intake")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.TemplateDir = filepath.Join(base, "templates")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.ReviewDir = filepath.Join(base, "review")
	cfg.Archive.Driver = "fs"
	cfg.Archive.Root = filepath.Join(base, "archive")
	cfg.Archive.Operator = "Test Operator"
	cfg.Registry.WorkingDir = filepath.Join(base, "registry")
	cfg.Notifications.NtfyTopic = ""

	configPath := filepath.Join(homeDir, ".config", "curator", "config.toml")
	writeTestConfig(t, configPath, &cfg)

	return &cliTestEnv{cfg: &cfg, configPath: configPath, baseDir: base}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	content := fmt.Sprintf(`[paths]
staging_dir = %q
intake_dir = %q
output_dir = %q
template_dir = %q
log_dir = %q
review_dir = %q

[archive]
driver = %q
root = %q
operator = %q

[registry]
working_dir = %q
`,
		cfg.Paths.StagingDir,
		cfg.Paths.IntakeDir,
		cfg.Paths.OutputDir,
		cfg.Paths.TemplateDir,
		cfg.Paths.LogDir,
		cfg.Paths.ReviewDir,
		cfg.Archive.Driver,
		cfg.Archive.Root,
		cfg.Archive.Operator,
		cfg.Registry.WorkingDir,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
