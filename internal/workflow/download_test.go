package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"curator/internal/intake"
	"curator/internal/ledger"
	"curator/internal/services"
	"curator/internal/testsupport"
	"curator/internal/workflow"
)

func kneeRow(dir string) intake.Row {
	return intake.Row{
		intake.ColFiler:         "Test Operator",
		intake.ColOperationDate: "2024-03-05",
		intake.ColSite:          "University of Houston",
		intake.ColProcedure:     "Knee Arthroscopy",
		intake.ColDataPath:      dir,
	}
}

func TestDownloadMirrorsArchiveLayout(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	writeCaseImage(t, dir, "a.png", 1, time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC))
	writeCaseImage(t, dir, "b.png", 2, time.Date(2024, 1, 1, 8, 31, 0, 0, time.UTC))
	source := commitCase(t, e, dhsRow(dir), dir)

	report, err := e.orch.DownloadQueriedCases(context.Background(), workflow.Query{})
	if err != nil {
		t.Fatalf("DownloadQueriedCases: %v", err)
	}
	if !report.Success {
		t.Fatalf("download did not succeed: %s", report.Diagnostic)
	}
	if report.Output != e.cfg.Paths.OutputDir {
		t.Fatalf("output dir = %q, want %q", report.Output, e.cfg.Paths.OutputDir)
	}
	if len(report.Files) != 3 {
		t.Fatalf("downloaded %d files, want 3", len(report.Files))
	}

	run := e.mustRun(t, report.RunID)
	if run.Status != ledger.StatusCompleted {
		t.Fatalf("run status = %s, want completed", run.Status)
	}
	if run.FileCount != 3 {
		t.Fatalf("run file count = %d, want 3", run.FileCount)
	}

	image := filepath.Join(e.cfg.Paths.OutputDir, source.SubjectUID,
		source.SubjectUID+"-Source_Data", "00", "00_20240101083000.png")
	data, err := os.ReadFile(image)
	if err != nil {
		t.Fatalf("read mirrored image: %v", err)
	}
	if !bytes.Equal(data, testsupport.PNGBytes(t, 1)) {
		t.Fatal("mirrored image bytes differ from the committed original")
	}
	snapshot := filepath.Join(e.cfg.Paths.OutputDir, source.SubjectUID,
		source.SubjectUID+"-Source_Data", "SRC", "case_record.json")
	if _, err := os.Stat(snapshot); err != nil {
		t.Fatalf("mirrored snapshot missing: %v", err)
	}
}

func TestDownloadFiltersByGroupSiteAndDate(t *testing.T) {
	e := newEnv(t)
	dirA := t.TempDir()
	writeCaseImage(t, dirA, "a.png", 1, time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC))
	caseA := commitCase(t, e, dhsRow(dirA), dirA)

	dirB := t.TempDir()
	writeCaseImage(t, dirB, "a.png", 3, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	caseB := commitCase(t, e, kneeRow(dirB), dirB)

	assertOnly := func(report *workflow.Report, wantUID string) {
		t.Helper()
		if len(report.Files) != 2 {
			t.Fatalf("downloaded %d files, want 2 (image + snapshot): %+v", len(report.Files), report.Files)
		}
		for _, f := range report.Files {
			if !strings.HasPrefix(f.Source, wantUID+"/") {
				t.Fatalf("downloaded %q, want only subject %s", f.Source, wantUID)
			}
		}
	}

	byGroup, err := e.orch.DownloadQueriedCases(context.Background(), workflow.Query{
		Groups:    []string{"Dynamic Hip Screw"},
		OutputDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("group query: %v", err)
	}
	assertOnly(byGroup, caseA.SubjectUID)

	bySite, err := e.orch.DownloadQueriedCases(context.Background(), workflow.Query{
		Sites:     []string{"University of Houston"},
		OutputDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("site query: %v", err)
	}
	assertOnly(bySite, caseB.SubjectUID)

	byDate, err := e.orch.DownloadQueriedCases(context.Background(), workflow.Query{
		From:      "2024-02-01",
		To:        "2024-12-31",
		OutputDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("date query: %v", err)
	}
	assertOnly(byDate, caseB.SubjectUID)
}

func TestDownloadRejectsUnknownGroup(t *testing.T) {
	e := newEnv(t)
	report, err := e.orch.DownloadQueriedCases(context.Background(), workflow.Query{
		Groups: []string{"Basket Weaving"},
	})
	if err == nil {
		t.Fatal("expected unknown group rejection")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation marker", err)
	}
	run := e.mustRun(t, report.RunID)
	if run.Status != ledger.StatusReview {
		t.Fatalf("run status = %s, want review", run.Status)
	}
}
