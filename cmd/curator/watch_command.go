package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"curator/internal/archive"
	"curator/internal/ledger"
	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/preflight"
	"curator/internal/watch"
	"curator/internal/workflow"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var diagnostic bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the intake directory and ingest case drops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchProcess(cmd, ctx, diagnostic)
		},
	}
	cmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "Capture a debug-level JSON log for this session")
	return cmd
}

// runWatchProcess is the foreground watch runtime: run-stamped log file,
// pid file, preflight gate, startup reconcile, then the watcher loop until
// SIGINT or SIGTERM.
func runWatchProcess(cmd *cobra.Command, ctx *commandContext, diagnostic bool) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("curator-%s.log", runID))

	var sessionID string
	var debugLogPath string
	if diagnostic {
		sessionID = uuid.NewString()
		debugDir := filepath.Join(cfg.Paths.LogDir, "debug")
		if err := os.MkdirAll(debugDir, 0o755); err != nil {
			return fmt.Errorf("create debug log directory: %w", err)
		}
		debugLogPath = filepath.Join(debugDir, fmt.Sprintf("curator-%s.log", runID))
	}

	logger, err := logging.New(logging.Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		SessionID:        sessionID,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if diagnostic {
		debugLogger, debugErr := logging.New(logging.Options{
			Level:            "debug",
			Format:           "json",
			OutputPaths:      []string{debugLogPath},
			ErrorOutputPaths: []string{debugLogPath},
			Development:      true,
			SessionID:        sessionID,
		})
		if debugErr != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", debugErr)
		} else {
			logger = logging.TeeLogger(logger, debugLogger.Handler())
		}
		logger.Info("diagnostic mode enabled",
			logging.String(logging.FieldSessionID, sessionID),
			logging.String("debug_log_path", debugLogPath))
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update curator.log link: %v\n", err)
	}
	retention := []logging.RetentionTarget{
		{Dir: cfg.Paths.LogDir, Pattern: "curator-*.log", Exclude: []string{logPath}},
	}
	if debugLogPath != "" {
		retention = append(retention, logging.RetentionTarget{
			Dir:     filepath.Join(cfg.Paths.LogDir, "debug"),
			Pattern: "curator-*.log",
			Exclude: []string{debugLogPath},
		})
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, retention...)

	pidPath := filepath.Join(cfg.Paths.LogDir, "curator.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	client, err := archive.Open(signalCtx, cfg)
	if err != nil {
		return err
	}
	results := preflight.RunAll(signalCtx, cfg, client)
	for _, result := range results {
		if result.Passed {
			logger.Info("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail))
		} else {
			logger.Error("preflight check failed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail))
		}
	}
	if !preflight.AllPassed(results) {
		return fmt.Errorf("preflight failed; run `curator status` for details")
	}

	store, err := ledger.Open(cfg)
	if err != nil {
		logger.Error("open run ledger", logging.Error(err))
		return err
	}
	defer store.Close()

	notifier := notifications.NewService(cfg)
	orch, err := workflow.New(cfg, store, client, notifier, logger)
	if err != nil {
		return err
	}

	// Repair anything a previous process left committed but unregistered
	// before taking on new drops.
	if report, reconcileErr := orch.Reconcile(signalCtx); reconcileErr != nil {
		logger.Warn("startup reconcile failed", logging.Error(reconcileErr))
	} else if report != nil && strings.TrimSpace(report.Diagnostic) != "" {
		logger.Info("startup reconcile", logging.String("outcome", report.Diagnostic))
	}

	watcher, err := watch.New(cfg, orch, notifier, logger)
	if err != nil {
		return err
	}
	if err := watcher.Run(signalCtx); err != nil {
		return err
	}
	logger.Info("curator watch shutting down")
	return nil
}

// ensureCurrentLogPointer keeps LogDir/curator.log pointing at the active
// run-stamped log file, falling back to a hard link on filesystems without
// symlink support.
func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "curator.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err == nil {
		return nil
	}
	return fmt.Errorf("link log pointer for %s", target)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
