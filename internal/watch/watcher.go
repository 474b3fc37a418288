package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/services"
	"curator/internal/workflow"
)

// MetadataFile is the row file every drop must carry before it is ingested.
const MetadataFile = "case.csv"

// maxAttempts bounds retries for drops that fail on transient errors before
// they are routed to the review directory.
const maxAttempts = 3

// Uploader runs one case intake. *workflow.Orchestrator satisfies it.
type Uploader interface {
	UploadNewCase(ctx context.Context, input workflow.CaseInput) (*workflow.Report, error)
}

// Watcher monitors the intake directory for case drops and feeds them to the
// orchestrator one at a time.
type Watcher struct {
	cfg      *config.Config
	uploader Uploader
	notifier notifications.Service
	logger   *slog.Logger

	debounce time.Duration
	rescan   time.Duration
	attempts map[string]int
}

// New builds a watcher over cfg.Paths.IntakeDir.
func New(cfg *config.Config, uploader Uploader, notifier notifications.Service, logger *slog.Logger) (*Watcher, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "watch", "initialize", "Configuration unavailable", nil)
	}
	if uploader == nil {
		return nil, services.Wrap(services.ErrConfiguration, "watch", "initialize", "Uploader unavailable", nil)
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	debounce := time.Duration(cfg.Watch.DebounceSeconds) * time.Second
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	rescan := time.Duration(cfg.Watch.RescanSeconds) * time.Second
	if rescan <= 0 {
		rescan = 5 * time.Minute
	}
	componentLogger := logging.NewComponentLogger(logger, "watch")
	componentLogger = logging.WithComponentLevel(componentLogger, "watch", cfg.Logging.ComponentLevels)
	return &Watcher{
		cfg:      cfg,
		uploader: uploader,
		notifier: notifier,
		logger:   componentLogger,
		debounce: debounce,
		rescan:   rescan,
		attempts: make(map[string]int),
	}, nil
}

// Run watches the intake directory until ctx is canceled. Filesystem events
// are debounced before triggering a sweep; a periodic rescan catches drops
// whose events were missed.
func (w *Watcher) Run(ctx context.Context) error {
	intake := strings.TrimSpace(w.cfg.Paths.IntakeDir)
	if intake == "" {
		return services.Wrap(services.ErrConfiguration, "watch", "resolve intake dir", "Intake directory not configured; set intake_dir in your curator config.toml", nil)
	}
	if err := os.MkdirAll(intake, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "watch", "ensure intake dir", "Failed to create intake directory", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(intake); err != nil {
		return fmt.Errorf("watching intake directory %s: %w", intake, err)
	}
	w.watchSubdirs(fsw, intake)

	w.logger.Info("watching intake directory",
		logging.String("path", intake),
		logging.Duration("debounce", w.debounce),
		logging.Duration("rescan", w.rescan))

	// Drops that arrived before startup will not generate events.
	w.sweep(ctx, fsw)

	ticker := time.NewTicker(w.rescan)
	defer ticker.Stop()

	var (
		timer   *time.Timer
		pending bool
	)
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !isRelevantEvent(event) {
				continue
			}
			if event.Op.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					if addErr := fsw.Add(event.Name); addErr != nil {
						w.logger.Debug("could not watch new drop", logging.String("path", event.Name), logging.Error(addErr))
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = true

		case <-timerChan(timer):
			if pending {
				pending = false
				w.sweep(ctx, fsw)
			}

		case <-ticker.C:
			w.sweep(ctx, fsw)

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("filesystem watch error", logging.Error(watchErr))

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watch stopped")
			return nil
		}
	}
}

// timerChan returns the timer's channel, or a nil channel that never fires
// when no debounce is armed.
func timerChan(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// watchSubdirs registers existing drop directories so writes inside them
// reset the debounce window. Failures are tolerated; the rescan ticker covers
// anything missed.
func (w *Watcher) watchSubdirs(fsw *fsnotify.Watcher, root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		_ = fsw.Add(filepath.Join(root, entry.Name()))
	}
}

// isRelevantEvent filters out chmod noise and temporary/hidden paths.
func isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	return !strings.HasPrefix(filepath.Base(event.Name), ".")
}

// sweep re-registers drop watches and runs one scan pass, logging failures
// instead of stopping the loop.
func (w *Watcher) sweep(ctx context.Context, fsw *fsnotify.Watcher) {
	if fsw != nil {
		w.watchSubdirs(fsw, w.cfg.Paths.IntakeDir)
	}
	if _, err := w.ScanOnce(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("intake scan failed", logging.Error(err))
	}
}
