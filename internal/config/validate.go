package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateArchive(); err != nil {
		return err
	}
	if err := c.validateRegistry(); err != nil {
		return err
	}
	if err := c.validateClassify(); err != nil {
		return err
	}
	if err := c.validateIntake(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateWatch(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateArchive() error {
	switch c.Archive.Driver {
	case "fs", "s3", "memory":
	default:
		return fmt.Errorf("archive.driver must be one of fs, s3, memory (got %q)", c.Archive.Driver)
	}
	if c.Archive.Driver == "fs" && strings.TrimSpace(c.Archive.Root) == "" {
		return errors.New("archive.root must be set when archive.driver is fs")
	}
	if c.Archive.Driver == "s3" && strings.TrimSpace(c.Archive.Bucket) == "" {
		return errors.New("archive.bucket must be set when archive.driver is s3")
	}
	if (c.Archive.AccessKey == "") != (c.Archive.SecretKey == "") {
		return errors.New("archive.access_key and archive.secret_key must be set together")
	}
	if c.Archive.Operator == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/curator/config.toml"
		}
		return fmt.Errorf("archive.operator is required. Set CURATOR_OPERATOR env var or edit %s (create with 'curator config init')", defaultPath)
	}
	if c.Archive.RequestTimeout <= 0 {
		return errors.New("archive.request_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateRegistry() error {
	if c.Registry.DocumentKey == "" {
		return errors.New("registry.document_key must be set")
	}
	if strings.Contains(c.Registry.DocumentKey, "..") {
		return errors.New("registry.document_key must not contain path traversal")
	}
	return nil
}

func (c *Config) validateClassify() error {
	if c.Classify.Threshold <= 0 || c.Classify.Threshold > 1 {
		return errors.New("classify.threshold must be between 0 and 1")
	}
	if c.Classify.MinMargin < 0 || c.Classify.MinMargin >= 1 {
		return errors.New("classify.min_margin must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateIntake() error {
	if len(c.Intake.Delimiter) != 1 {
		return fmt.Errorf("intake.delimiter must be a single character (got %q)", c.Intake.Delimiter)
	}
	for _, rule := range c.Intake.ExtraRules {
		if rule.When == "" || rule.Require == "" {
			return errors.New("intake.extra_rules entries must set both when and require")
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"workflow.hash_workers":            c.Workflow.HashWorkers,
		"workflow.reconcile_after_minutes": c.Workflow.ReconcileAfterMinutes,
	})
}

func (c *Config) validateWatch() error {
	return ensurePositiveMap(map[string]int{
		"watch.debounce_seconds": c.Watch.DebounceSeconds,
		"watch.rescan_seconds":   c.Watch.RescanSeconds,
	})
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive (seconds)")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
