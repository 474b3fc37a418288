package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeArchive(); err != nil {
		return err
	}
	if err := c.normalizeRegistry(); err != nil {
		return err
	}
	c.normalizeIntake()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.IntakeDir, err = expandPath(c.Paths.IntakeDir); err != nil {
		return fmt.Errorf("paths.intake_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.TemplateDir, err = expandPath(c.Paths.TemplateDir); err != nil {
		return fmt.Errorf("paths.template_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.ReviewDir, err = expandPath(c.Paths.ReviewDir); err != nil {
		return fmt.Errorf("paths.review_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeArchive() error {
	c.Archive.Driver = strings.ToLower(strings.TrimSpace(c.Archive.Driver))
	if c.Archive.Driver == "" {
		c.Archive.Driver = defaultArchiveDriver
	}
	var err error
	if c.Archive.Driver == "fs" {
		if strings.TrimSpace(c.Archive.Root) == "" {
			c.Archive.Root = defaultArchiveRoot
		}
		if c.Archive.Root, err = expandPath(c.Archive.Root); err != nil {
			return fmt.Errorf("archive.root: %w", err)
		}
	}
	c.Archive.Bucket = strings.TrimSpace(c.Archive.Bucket)
	c.Archive.Region = strings.TrimSpace(c.Archive.Region)
	c.Archive.Endpoint = strings.TrimSpace(c.Archive.Endpoint)
	c.Archive.Prefix = strings.Trim(strings.TrimSpace(c.Archive.Prefix), "/")
	c.Archive.Operator = strings.TrimSpace(c.Archive.Operator)
	if c.Archive.Operator == "" {
		if value, ok := os.LookupEnv("CURATOR_OPERATOR"); ok {
			c.Archive.Operator = strings.TrimSpace(value)
		}
	}
	if c.Archive.RequestTimeout <= 0 {
		c.Archive.RequestTimeout = defaultArchiveTimeout
	}
	return nil
}

func (c *Config) normalizeRegistry() error {
	c.Registry.DocumentKey = strings.Trim(strings.TrimSpace(c.Registry.DocumentKey), "/")
	if c.Registry.DocumentKey == "" {
		c.Registry.DocumentKey = defaultRegistryDocumentKey
	}
	if strings.TrimSpace(c.Registry.WorkingDir) == "" {
		c.Registry.WorkingDir = defaultRegistryWorkingDir
	}
	var err error
	if c.Registry.WorkingDir, err = expandPath(c.Registry.WorkingDir); err != nil {
		return fmt.Errorf("registry.working_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeIntake() {
	if strings.TrimSpace(c.Intake.Delimiter) == "" {
		c.Intake.Delimiter = defaultIntakeDelimiter
	}
	c.Intake.ResourceLabel = strings.TrimSpace(c.Intake.ResourceLabel)
	if c.Intake.ResourceLabel == "" {
		c.Intake.ResourceLabel = defaultResourceLabel
	}
	rules := make([]ConditionalRule, 0, len(c.Intake.ExtraRules))
	for _, rule := range c.Intake.ExtraRules {
		rule.When = strings.TrimSpace(rule.When)
		rule.Equals = strings.TrimSpace(rule.Equals)
		rule.Require = strings.TrimSpace(rule.Require)
		if rule.When == "" || rule.Require == "" {
			continue
		}
		rules = append(rules, rule)
	}
	c.Intake.ExtraRules = rules
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("CURATOR_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
	if c.Notifications.DedupWindowSeconds < 0 {
		c.Notifications.DedupWindowSeconds = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
