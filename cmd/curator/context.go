package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"log/slog"

	"github.com/spf13/cobra"

	"curator/internal/archive"
	"curator/internal/config"
	"curator/internal/ledger"
	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/registry"
	"curator/internal/workflow"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configFlagValue() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configFlagValue())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// fileLogger builds a logger that writes only to the shared log file, so
// one-shot commands keep stdout for their own rendering.
func (c *commandContext) fileLogger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logPath := filepath.Join(cfg.Paths.LogDir, "curator.log")
	logger, err := logging.New(logging.Options{
		Level:            cfg.Logging.Level,
		Format:           "json",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// withStore opens the run ledger for the duration of fn.
func (c *commandContext) withStore(fn func(*ledger.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := ledger.Open(cfg)
	if err != nil {
		return fmt.Errorf("open run ledger: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// withArchive opens and logs into the archive client for the duration of fn.
func (c *commandContext) withArchive(ctx context.Context, fn func(archive.Client) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	client, err := archive.Open(ctx, cfg)
	if err != nil {
		return err
	}
	if err := client.Login(ctx); err != nil {
		return err
	}
	return fn(client)
}

// withOrchestrator assembles the full operation stack: ledger store, archive
// client, notifier, and logger behind one orchestrator.
func (c *commandContext) withOrchestrator(cmd *cobra.Command, fn func(context.Context, *workflow.Orchestrator) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.fileLogger()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	return c.withStore(func(store *ledger.Store) error {
		return c.withArchive(ctx, func(client archive.Client) error {
			orch, err := workflow.New(cfg, store, client, notifications.NewService(cfg), logger)
			if err != nil {
				return err
			}
			return fn(ctx, orch)
		})
	})
}

// withRegistrySession loads a writable registry session and guarantees its
// lock is released when fn returns.
func (c *commandContext) withRegistrySession(cmd *cobra.Command, fn func(context.Context, *registry.Registry, archive.Client) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	return c.withArchive(ctx, func(client archive.Client) error {
		reg, err := registry.Load(ctx, client, registry.SessionOptions(cfg))
		if err != nil {
			return err
		}
		defer reg.Close()
		return fn(ctx, reg, client)
	})
}
