package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"curator/internal/archive"
	"curator/internal/registry"
	"curator/internal/testsupport"
)

func testClock() time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	result := CheckFreeSpace(t.TempDir())
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
	if result.Detail == "" {
		t.Fatal("expected detail with free space")
	}
}

func TestCheckFreeSpace_MissingPath(t *testing.T) {
	result := CheckFreeSpace(filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckTemplates(t *testing.T) {
	dir := t.TempDir()
	if result := CheckTemplates(dir); result.Passed {
		t.Fatal("expected failure for empty template dir")
	}
	testsupport.WritePNG(t, filepath.Join(dir, "fluoro_ap.png"), 0)
	result := CheckTemplates(dir)
	if !result.Passed {
		t.Fatalf("expected pass with one template, got: %s", result.Detail)
	}
}

func TestCheckArchive(t *testing.T) {
	mem := archive.NewMemory()
	result := CheckArchive(context.Background(), mem)
	if !result.Passed {
		t.Fatalf("expected pass for memory archive, got: %s", result.Detail)
	}
}

func TestCheckRegistryDocument(t *testing.T) {
	mem := archive.NewMemory()
	const key = "meta/registry.json"

	result := CheckRegistryDocument(context.Background(), mem, key)
	if result.Passed {
		t.Fatal("expected failure for missing document")
	}

	doc := registry.Bootstrap("tester", testClock())
	data, err := doc.MarshalBytes()
	if err != nil {
		t.Fatalf("marshal bootstrap: %v", err)
	}
	if _, err := mem.Put(context.Background(), key, data); err != nil {
		t.Fatalf("seed document: %v", err)
	}

	result = CheckRegistryDocument(context.Background(), mem, key)
	if !result.Passed {
		t.Fatalf("expected pass for seeded document, got: %s", result.Detail)
	}
}

func TestCheckRegistryDocument_Corrupt(t *testing.T) {
	mem := archive.NewMemory()
	const key = "meta/registry.json"
	if _, err := mem.Put(context.Background(), key, []byte("{not json")); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	result := CheckRegistryDocument(context.Background(), mem, key)
	if result.Passed {
		t.Fatal("expected failure for corrupt document")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil, nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ReadyInstallation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WritePNG(t, filepath.Join(cfg.Paths.TemplateDir, "fluoro_ap.png"), 0)

	mem := archive.NewMemory()
	doc := registry.Bootstrap(cfg.Archive.Operator, testClock())
	data, err := doc.MarshalBytes()
	if err != nil {
		t.Fatalf("marshal bootstrap: %v", err)
	}
	if _, err := mem.Put(context.Background(), cfg.Registry.DocumentKey, data); err != nil {
		t.Fatalf("seed document: %v", err)
	}

	results := RunAll(context.Background(), cfg, mem)
	if !AllPassed(results) {
		for _, r := range results {
			if !r.Passed {
				t.Errorf("check %q failed: %s", r.Name, r.Detail)
			}
		}
	}
}

func TestRunAll_NilClientStillReportsArchiveChecks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	results := RunAll(context.Background(), cfg, nil)

	found := 0
	for _, r := range results {
		if r.Name == "Archive" || r.Name == "Registry document" {
			found++
			if r.Passed {
				t.Errorf("check %q should fail without a client", r.Name)
			}
		}
	}
	if found != 2 {
		t.Fatalf("expected archive and registry checks present, found %d", found)
	}
}
