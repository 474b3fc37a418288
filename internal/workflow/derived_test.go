package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"curator/internal/ledger"
	"curator/internal/notifications"
	"curator/internal/registry"
	"curator/internal/services"
	"curator/internal/testsupport"
	"curator/internal/workflow"
)

// writeResultTable drops a semicolon-delimited derived-data table next to
// its referenced files.
func writeResultTable(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "results.csv")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write result table: %v", err)
	}
	return path
}

func TestDerivedDataAttachesToSubjectByName(t *testing.T) {
	e := newEnv(t)
	srcDir := t.TempDir()
	writeCaseImage(t, srcDir, "a.png", 1, time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC))
	source := commitCase(t, e, dhsRow(srcDir), srcDir)

	workDir := t.TempDir()
	mask := filepath.Join(workDir, "mask.png")
	writeCheckerImage(t, mask)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(mask, at, at); err != nil {
		t.Fatalf("chtimes mask: %v", err)
	}
	table := writeResultTable(t, workDir,
		"Subject;File",
		dhsCaseKey+";mask.png",
	)

	report, err := e.orch.UploadDerivedData(context.Background(), workflow.DerivedInput{TablePath: table})
	if err != nil {
		t.Fatalf("UploadDerivedData: %v", err)
	}
	if !report.Success {
		t.Fatalf("derived upload did not succeed: %s", report.Diagnostic)
	}
	if report.CaseKey != dhsCaseKey {
		t.Fatalf("case key = %q, want %q", report.CaseKey, dhsCaseKey)
	}

	run := e.mustRun(t, report.RunID)
	if run.Status != ledger.StatusSynced {
		t.Fatalf("run status = %s, want synced", run.Status)
	}

	wantPath := fmt.Sprintf("%s/%s-Semantic_Segmentations/00/00_20240301120000.png", source.SubjectUID, source.SubjectUID)
	if entries := e.listArchive(t, wantPath); len(entries) != 1 {
		t.Fatalf("expected derived file at %s", wantPath)
	}

	var derivedRows int
	for _, row := range e.document(t).Tables[registry.TableHashes] {
		if row.Extra[registry.ColExperiment] != "Semantic_Segmentations" {
			continue
		}
		derivedRows++
		if row.Extra[registry.ColSubject] != source.SubjectUID {
			t.Fatalf("derived hash filed under %q, want %q", row.Extra[registry.ColSubject], source.SubjectUID)
		}
		if row.Extra[registry.ColInstanceNum] != "0" {
			t.Fatalf("derived instance = %q, want 0", row.Extra[registry.ColInstanceNum])
		}
	}
	if derivedRows != 1 {
		t.Fatalf("derived hash rows = %d, want 1", derivedRows)
	}

	payload, _ := e.notifier.last(notifications.EventCaseCommitted)
	if payload["experiment"] != source.SubjectUID+"-Semantic_Segmentations" {
		t.Fatalf("commit payload = %+v", payload)
	}
}

func TestDerivedDataResolvesSubjectBySourceHash(t *testing.T) {
	e := newEnv(t)
	srcDir := t.TempDir()
	writeCaseImage(t, srcDir, "a.png", 1, time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC))
	source := commitCase(t, e, dhsRow(srcDir), srcDir)
	sourceHash := source.Files[0].Hash
	if sourceHash == "" {
		t.Fatal("source report carries no hash")
	}

	workDir := t.TempDir()
	writeCheckerImage(t, filepath.Join(workDir, "mask.png"))
	table := writeResultTable(t, workDir,
		"Source Hash;File",
		sourceHash+";mask.png",
	)

	report, err := e.orch.UploadDerivedData(context.Background(), workflow.DerivedInput{TablePath: table})
	if err != nil {
		t.Fatalf("UploadDerivedData: %v", err)
	}
	if !report.Success {
		t.Fatalf("derived upload did not succeed: %s", report.Diagnostic)
	}
	if report.CaseKey != dhsCaseKey {
		t.Fatalf("hash did not resolve to the source subject: case key = %q", report.CaseKey)
	}
	prefix := source.SubjectUID + "/" + source.SubjectUID + "-Semantic_Segmentations/"
	if entries := e.listArchive(t, prefix); len(entries) != 1 {
		t.Fatalf("derived entries = %d, want 1", len(entries))
	}
}

func TestDerivedDataRejectsFluoroLookalikes(t *testing.T) {
	e := newEnv(t)
	srcDir := t.TempDir()
	writeCaseImage(t, srcDir, "a.png", 1, time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC))
	source := commitCase(t, e, dhsRow(srcDir), srcDir)

	workDir := t.TempDir()
	// A frame that still matches the fluoro template is mis-filed source
	// data, not a derived result.
	testsupport.WritePNG(t, filepath.Join(workDir, "notamask.png"), 5)
	table := writeResultTable(t, workDir,
		"Subject;File",
		dhsCaseKey+";notamask.png",
	)

	report, err := e.orch.UploadDerivedData(context.Background(), workflow.DerivedInput{TablePath: table})
	if err == nil {
		t.Fatal("expected the template guard to reject the file")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation marker", err)
	}
	if !strings.Contains(err.Error(), "source upload") {
		t.Fatalf("error = %v, want a mis-filed source explanation", err)
	}

	run := e.mustRun(t, report.RunID)
	if run.Status != ledger.StatusReview {
		t.Fatalf("run status = %s, want review", run.Status)
	}
	prefix := source.SubjectUID + "/" + source.SubjectUID + "-Semantic_Segmentations/"
	if entries := e.listArchive(t, prefix); len(entries) != 0 {
		t.Fatalf("guarded run still committed %d file(s)", len(entries))
	}
}

func TestDerivedDataRequiresRegisteredSubject(t *testing.T) {
	e := newEnv(t)
	workDir := t.TempDir()
	writeCheckerImage(t, filepath.Join(workDir, "mask.png"))
	table := writeResultTable(t, workDir,
		"Subject;File",
		"GHOST_CASE;mask.png",
	)

	report, err := e.orch.UploadDerivedData(context.Background(), workflow.DerivedInput{TablePath: table})
	if err == nil {
		t.Fatal("expected unknown subject rejection")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation marker", err)
	}
	run := e.mustRun(t, report.RunID)
	if run.Status != ledger.StatusReview {
		t.Fatalf("run status = %s, want review", run.Status)
	}
	if got := len(e.listArchive(t, "")); got != 1 {
		t.Fatalf("archive entries = %d, want only the registry document", got)
	}
}
