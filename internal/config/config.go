package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir  string `toml:"staging_dir"`
	IntakeDir   string `toml:"intake_dir"`
	OutputDir   string `toml:"output_dir"`
	TemplateDir string `toml:"template_dir"`
	LogDir      string `toml:"log_dir"`
	ReviewDir   string `toml:"review_dir"`
}

// Archive contains configuration for the imaging archive backend.
type Archive struct {
	Driver    string `toml:"driver"`
	Root      string `toml:"root"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	PathStyle bool   `toml:"path_style"`
	Prefix    string `toml:"prefix"`
	// AccessKey and SecretKey override the default AWS credential chain,
	// which self-hosted endpoints usually need. Both or neither.
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	Operator       string `toml:"operator"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Registry contains configuration for the shared vocabulary registry document.
type Registry struct {
	DocumentKey string `toml:"document_key"`
	WorkingDir  string `toml:"working_dir"`
}

// Classify contains configuration for template classification.
type Classify struct {
	Threshold float64 `toml:"threshold"`
	MinMargin float64 `toml:"min_margin"`
}

// ConditionalRule requires a column when another column holds a specific value.
type ConditionalRule struct {
	When    string `toml:"when"`
	Equals  string `toml:"equals"`
	Require string `toml:"require"`
}

// Intake contains configuration for case metadata intake.
type Intake struct {
	Delimiter       string            `toml:"delimiter"`
	DeidentifyDicom bool              `toml:"deidentify_dicom"`
	ResourceLabel   string            `toml:"resource_label"`
	ExtraRules      []ConditionalRule `toml:"extra_rules"`
}

// Workflow contains configuration for orchestrator behavior.
type Workflow struct {
	HashWorkers           int `toml:"hash_workers"`
	ReconcileAfterMinutes int `toml:"reconcile_after_minutes"`
}

// Watch contains configuration for the intake drop watcher.
type Watch struct {
	DebounceSeconds int `toml:"debounce_seconds"`
	RescanSeconds   int `toml:"rescan_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic"`
	RequestTimeout     int    `toml:"request_timeout"`
	Commits            bool   `toml:"commits"`
	Duplicates         bool   `toml:"duplicates"`
	Conflicts          bool   `toml:"conflicts"`
	Reconcile          bool   `toml:"reconcile"`
	Errors             bool   `toml:"errors"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
	// ComponentLevels raises the minimum level for individual components,
	// e.g. {"watch" = "warn"} quiets the drop watcher without touching the
	// global level.
	ComponentLevels map[string]string `toml:"component_levels"`
}

// Config encapsulates all configuration values for curator.
//
// Configuration sections by subsystem:
//   - Paths: staging, intake drop, download output, templates, logs, review
//   - Archive: backend driver (fs/s3/memory) and connection settings
//   - Registry: remote document key and local working-copy location
//   - Classify: template match threshold and margin
//   - Intake: batch delimiter, DICOM de-identification, extra conditional rules
//   - Workflow: hashing parallelism and reconcile cutoff
//   - Watch: intake drop debounce and rescan cadence
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Archive       Archive       `toml:"archive"`
	Registry      Registry      `toml:"registry"`
	Classify      Classify      `toml:"classify"`
	Intake        Intake        `toml:"intake"`
	Workflow      Workflow      `toml:"workflow"`
	Watch         Watch         `toml:"watch"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/curator/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/curator/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("curator.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for curator operation.
// TemplateDir is created on a best-effort basis so runs can start before
// the operator has populated templates.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{
		c.Paths.StagingDir,
		c.Paths.IntakeDir,
		c.Paths.LogDir,
		c.Paths.ReviewDir,
		c.Registry.WorkingDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.TemplateDir) != "" {
		_ = os.MkdirAll(c.Paths.TemplateDir, 0o755)
	}
	if c.Archive.Driver == "fs" && strings.TrimSpace(c.Archive.Root) != "" {
		if err := os.MkdirAll(c.Archive.Root, 0o755); err != nil {
			return fmt.Errorf("create archive root %q: %w", c.Archive.Root, err)
		}
	}
	return nil
}

// ArchiveTimeout returns the archive request timeout as a duration.
func (c *Config) ArchiveTimeout() time.Duration {
	return time.Duration(c.Archive.RequestTimeout) * time.Second
}

// RegistryWorkingCopy returns the path of the flock-guarded local working copy.
func (c *Config) RegistryWorkingCopy() string {
	return filepath.Join(c.Registry.WorkingDir, "registry.json")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
