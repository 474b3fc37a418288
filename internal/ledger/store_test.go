package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"curator/internal/ledger"
	"curator/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	run, err := store.NewRun(ctx, ledger.OpIntake, "case-key-1", "/tmp/case")
	if err != nil {
		t.Fatalf("NewRun failed: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("expected run ID to be assigned")
	}
	if run.Status != ledger.StatusPending {
		t.Fatalf("expected pending status, got %s", run.Status)
	}

	fetched, err := store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.CaseKey != "case-key-1" {
		t.Fatalf("unexpected fetched run: %#v", fetched)
	}

	latest, err := store.LatestByCaseKey(ctx, "case-key-1")
	if err != nil {
		t.Fatalf("LatestByCaseKey failed: %v", err)
	}
	if latest == nil || latest.ID != run.ID {
		t.Fatalf("expected to find inserted run, got %#v", latest)
	}
}

func TestNewRunRequiresOp(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	if _, err := store.NewRun(context.Background(), "", "case", ""); err == nil {
		t.Fatal("expected error when op missing")
	}
}

func TestUpdatePersistsOutcome(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	run, err := store.NewRun(ctx, ledger.OpIntake, "case-key-2", "")
	if err != nil {
		t.Fatalf("NewRun failed: %v", err)
	}

	run.SubjectUID = "subj-1"
	run.Experiment = "subj-1-Source_Data"
	run.ScanIndex = "00"
	run.FileCount = 3
	if err := run.SetCommittedPaths([]string{"a/b/00/00_x.png", "a/b/00/01_x.png"}); err != nil {
		t.Fatalf("SetCommittedPaths failed: %v", err)
	}
	if err := run.SetSkippedFiles([]ledger.SkippedFile{{Path: "c.png", Hash: "abc"}}); err != nil {
		t.Fatalf("SetSkippedFiles failed: %v", err)
	}
	run.Status = ledger.StatusCommitted
	if err := store.Update(ctx, run); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	fetched, err := store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Status != ledger.StatusCommitted {
		t.Fatalf("expected committed status, got %s", fetched.Status)
	}
	if fetched.CommittedCount != 2 || fetched.SkippedCount != 1 {
		t.Fatalf("unexpected counts: %d committed, %d skipped", fetched.CommittedCount, fetched.SkippedCount)
	}
	paths := fetched.CommittedPaths()
	if len(paths) != 2 || paths[0] != "a/b/00/00_x.png" {
		t.Fatalf("unexpected committed paths: %v", paths)
	}
	skipped := fetched.SkippedFiles()
	if len(skipped) != 1 || skipped[0].Hash != "abc" {
		t.Fatalf("unexpected skipped files: %v", skipped)
	}
}

func TestStuckCommittedFindsOldRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	var committed *ledger.Run
	for i := 0; i < 3; i++ {
		run, err := store.NewRun(ctx, ledger.OpIntake, fmt.Sprintf("case-%d", i), "")
		if err != nil {
			t.Fatalf("NewRun failed: %v", err)
		}
		if i == 0 {
			run.Status = ledger.StatusCommitted
			if err := store.Update(ctx, run); err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			committed = run
		}
	}

	stuck, err := store.StuckCommitted(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("StuckCommitted failed: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != committed.ID {
		t.Fatalf("expected the committed run, got %#v", stuck)
	}

	none, err := store.StuckCommitted(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("StuckCommitted failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no stuck runs before cutoff, got %d", len(none))
	}
}

func TestListFiltersByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		run, err := store.NewRun(ctx, ledger.OpIntake, fmt.Sprintf("list-%d", i), "")
		if err != nil {
			t.Fatalf("NewRun failed: %v", err)
		}
		if i%2 == 0 {
			run.Status = ledger.StatusSynced
			if err := store.Update(ctx, run); err != nil {
				t.Fatalf("Update failed: %v", err)
			}
		}
	}

	synced, err := store.List(ctx, ledger.StatusSynced)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(synced) != 2 {
		t.Fatalf("expected 2 synced runs, got %d", len(synced))
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 runs, got %d", len(all))
	}
}

func TestHealthCountsStuckRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	run, err := store.NewRun(ctx, ledger.OpIntake, "health-case", "")
	if err != nil {
		t.Fatalf("NewRun failed: %v", err)
	}
	run.Status = ledger.StatusCommitted
	if err := store.Update(ctx, run); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 1 || health.Stuck != 1 || health.Active != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}

func TestTrimTerminalRemovesOldRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	run, err := store.NewRun(ctx, ledger.OpDownload, "", "")
	if err != nil {
		t.Fatalf("NewRun failed: %v", err)
	}
	run.Status = ledger.StatusCompleted
	if err := store.Update(ctx, run); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	removed, err := store.TrimTerminal(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("TrimTerminal failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 trimmed run, got %d", removed)
	}

	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected empty ledger, got %d runs", len(remaining))
	}
}
