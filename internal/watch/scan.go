package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"curator/internal/intake"
	"curator/internal/ledger"
	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/services"
	"curator/internal/workflow"
)

// ScanOnce examines every drop in the intake directory and processes the
// ones that are ready. It returns the number of drops handed to the
// orchestrator during this pass.
func (w *Watcher) ScanOnce(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.cfg.Paths.IntakeDir)
	if err != nil {
		return 0, fmt.Errorf("reading intake directory: %w", err)
	}
	processed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		drop := filepath.Join(w.cfg.Paths.IntakeDir, entry.Name())
		ready, err := w.ready(drop)
		if err != nil {
			w.logger.Warn("skipping unreadable drop", logging.String("drop", entry.Name()), logging.Error(err))
			continue
		}
		if !ready {
			continue
		}
		w.process(ctx, drop)
		processed++
	}
	return processed, nil
}

// ready reports whether a drop carries its metadata file and has been quiet
// for the full debounce window. Drops still being copied into place stay
// untouched until their newest file stops changing.
func (w *Watcher) ready(drop string) (bool, error) {
	if _, err := os.Stat(filepath.Join(drop, MetadataFile)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	newest, err := newestModTime(drop)
	if err != nil {
		return false, err
	}
	return time.Since(newest) >= w.debounce, nil
}

// newestModTime walks the drop and returns the most recent modification time
// of any file or directory inside it.
func newestModTime(root string) (time.Time, error) {
	var newest time.Time
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return newest, nil
}

// process ingests one drop: every row in its metadata file is run through
// the orchestrator, then the drop is routed out of the intake directory.
// Transient failures leave the drop in place for a bounded number of
// retries; rejections move it to review immediately. Each drop gets a
// correlation ID so its watcher and orchestrator logs line up.
func (w *Watcher) process(ctx context.Context, drop string) {
	name := filepath.Base(drop)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, w.logger).With(logging.String("drop", name))

	rows, err := intake.ParseBatch(filepath.Join(drop, MetadataFile), intake.Delimiter(w.cfg))
	if err != nil {
		logger.Error("drop metadata unreadable", logging.Error(err))
		w.publish(ctx, notifications.EventError, notifications.Payload{
			"context": "watch",
			"error":   fmt.Sprintf("drop %s: %v", name, err),
		})
		w.routeReview(logger, drop)
		return
	}
	if len(rows) == 0 {
		logger.Error("drop metadata has no case rows")
		w.routeReview(logger, drop)
		return
	}

	for i, row := range rows {
		input := workflow.CaseInput{Row: row, SourceDir: w.sourceDir(drop, row)}
		report, err := w.uploader.UploadNewCase(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				// Shutdown mid-drop; leave it for the next run.
				return
			}
			w.routeFailure(logger, drop, i+1, err)
			return
		}
		logger.Info("case ingested",
			logging.String("case_key", report.CaseKey),
			logging.Int64("run_id", report.RunID),
			logging.Int("row", i+1),
			logging.Int("committed", len(report.Committed())),
			logging.Int("skipped", len(report.Skipped())))
	}

	delete(w.attempts, drop)
	w.routeIngested(logger, drop)
}

// sourceDir resolves the image directory for one row. Relative data paths
// are anchored inside the drop; absolute paths are honored as-is.
func (w *Watcher) sourceDir(drop string, row intake.Row) string {
	path := strings.TrimSpace(row.Get(intake.ColDataPath))
	switch {
	case path == "" || path == ".":
		return drop
	case filepath.IsAbs(path):
		return path
	default:
		return filepath.Join(drop, path)
	}
}

// routeFailure decides where a failed drop goes. Rejections (validation,
// classification, configuration) need an operator and move to review now;
// everything else is retried until the attempt budget runs out.
func (w *Watcher) routeFailure(logger *slog.Logger, drop string, row int, err error) {
	if services.FailureStatus(err) == ledger.StatusReview {
		logger.Error("case rejected", logging.Int("row", row), logging.Error(err))
		delete(w.attempts, drop)
		w.routeReview(logger, drop)
		return
	}
	w.attempts[drop]++
	if w.attempts[drop] >= maxAttempts {
		logger.Error("case failed after retries",
			logging.Int("row", row),
			logging.Int("attempts", w.attempts[drop]),
			logging.Error(err))
		delete(w.attempts, drop)
		w.routeReview(logger, drop)
		return
	}
	logger.Warn("case attempt failed; drop stays queued",
		logging.Int("row", row),
		logging.Int("attempt", w.attempts[drop]),
		logging.Error(err))
}

// routeIngested moves a fully processed drop under the staging directory.
func (w *Watcher) routeIngested(logger *slog.Logger, drop string) {
	dest, err := moveDrop(drop, filepath.Join(w.cfg.Paths.StagingDir, "ingested"))
	if err != nil {
		logger.Error("could not move ingested drop", logging.Error(err))
		return
	}
	logger.Info("drop ingested", logging.String("moved_to", dest))
}

// routeReview moves a rejected drop to the review directory.
func (w *Watcher) routeReview(logger *slog.Logger, drop string) {
	reviewDir := strings.TrimSpace(w.cfg.Paths.ReviewDir)
	if reviewDir == "" {
		logger.Error("review directory not configured; drop left in place")
		return
	}
	dest, err := moveDrop(drop, reviewDir)
	if err != nil {
		logger.Error("could not move drop to review", logging.Error(err))
		return
	}
	logger.Warn("drop moved to review", logging.String("moved_to", dest))
}

// publish sends best-effort; notification failures never stop the watcher.
func (w *Watcher) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := w.notifier.Publish(ctx, event, payload); err != nil {
		w.logger.Debug("notification delivery failed",
			logging.String("event", string(event)),
			logging.Error(err))
	}
}

// moveDrop renames a drop directory into destDir, falling back to copy+delete
// for cross-device moves. The target name keeps the drop's basename, with a
// numbered suffix when that slot is taken.
func moveDrop(source, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", destDir, err)
	}
	target, err := nextDropSlot(destDir, filepath.Base(source))
	if err != nil {
		return "", err
	}
	renameErr := os.Rename(source, target)
	if renameErr == nil {
		return target, nil
	}
	var linkErr *os.LinkError
	if !errors.As(renameErr, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return "", fmt.Errorf("moving %s: %w", source, renameErr)
	}
	if err := copyFS(target, os.DirFS(source)); err != nil {
		return "", fmt.Errorf("copying %s across devices: %w", source, err)
	}
	if err := os.RemoveAll(source); err != nil {
		return "", fmt.Errorf("removing %s after copy: %w", source, err)
	}
	return target, nil
}

// nextDropSlot finds the first free directory name in dir for base.
func nextDropSlot(dir, base string) (string, error) {
	const maxSlots = 10000
	candidate := filepath.Join(dir, base)
	for attempt := 1; attempt <= maxSlots; attempt++ {
		if attempt > 1 {
			candidate = filepath.Join(dir, fmt.Sprintf("%s-%d", base, attempt))
		}
		if _, err := os.Stat(candidate); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return candidate, nil
			}
			return "", err
		}
	}
	return "", fmt.Errorf("exhausted drop slots for %s in %s", base, dir)
}
