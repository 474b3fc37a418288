package archive_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"curator/internal/archive"
	"curator/internal/services"
)

func newFSClient(t *testing.T) archive.Client {
	t.Helper()
	client, err := archive.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS returned error: %v", err)
	}
	return client
}

func TestFSPutFetchRoundTrip(t *testing.T) {
	client := newFSClient(t)
	ctx := context.Background()

	marker, err := client.Put(ctx, "Subj01/Subj01-Source_Data/00/00_20240301.png", []byte("frame"))
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if marker == "" {
		t.Fatal("expected non-empty marker from Put")
	}

	data, fetched, err := client.Fetch(ctx, "Subj01/Subj01-Source_Data/00/00_20240301.png")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if string(data) != "frame" {
		t.Fatalf("expected content %q, got %q", "frame", data)
	}
	if fetched != marker {
		t.Fatalf("expected marker %q from Fetch, got %q", marker, fetched)
	}
}

func TestFSMarkerChangesOnRewrite(t *testing.T) {
	client := newFSClient(t)
	ctx := context.Background()

	first, err := client.Put(ctx, "meta/registry.json", []byte(`{"rev":1}`))
	if err != nil {
		t.Fatalf("first Put returned error: %v", err)
	}
	second, err := client.Put(ctx, "meta/registry.json", []byte(`{"revision":2,"longer":true}`))
	if err != nil {
		t.Fatalf("second Put returned error: %v", err)
	}
	if first == second {
		t.Fatalf("expected marker to change after rewrite, got %q both times", first)
	}
}

func TestFSStatNotFound(t *testing.T) {
	client := newFSClient(t)

	_, err := client.Stat(context.Background(), "missing/file.png")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestFSDelete(t *testing.T) {
	client := newFSClient(t)
	ctx := context.Background()

	if _, err := client.Put(ctx, "Subj02/notes.csv", []byte("a;b")); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	existed, err := client.Delete(ctx, "Subj02/notes.csv")
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if !existed {
		t.Fatal("expected Delete to report the object existed")
	}

	existed, err = client.Delete(ctx, "Subj02/notes.csv")
	if err != nil {
		t.Fatalf("second Delete returned error: %v", err)
	}
	if existed {
		t.Fatal("expected second Delete to report the object was gone")
	}
}

func TestFSListFiltersAndSorts(t *testing.T) {
	client := newFSClient(t)
	ctx := context.Background()

	for _, path := range []string{
		"Subj03/Subj03-Source_Data/01/01_a.png",
		"Subj03/Subj03-Source_Data/00/00_a.png",
		"Subj04/Subj04-Source_Data/00/00_b.png",
	} {
		if _, err := client.Put(ctx, path, []byte("x")); err != nil {
			t.Fatalf("Put %s returned error: %v", path, err)
		}
	}

	entries, err := client.List(ctx, "Subj03/")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries under Subj03/, got %d", len(entries))
	}
	if entries[0].Path != "Subj03/Subj03-Source_Data/00/00_a.png" {
		t.Fatalf("expected sorted order, got %q first", entries[0].Path)
	}
	if entries[1].Path != "Subj03/Subj03-Source_Data/01/01_a.png" {
		t.Fatalf("expected sorted order, got %q second", entries[1].Path)
	}
}

func TestFSRejectsTraversal(t *testing.T) {
	client := newFSClient(t)

	_, err := client.Put(context.Background(), "../escape.png", []byte("x"))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for traversal, got %v", err)
	}
}

func TestFSPutLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	client, err := archive.NewFS(root)
	if err != nil {
		t.Fatalf("NewFS returned error: %v", err)
	}

	if _, err := client.Put(context.Background(), "Subj05/scan.png", []byte("x")); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(root, "Subj05", ".curator-*"))
	if err != nil {
		t.Fatalf("glob temp files: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no temp files left behind, found %v", matches)
	}
	if _, err := os.Stat(filepath.Join(root, "Subj05", "scan.png")); err != nil {
		t.Fatalf("expected object file on disk: %v", err)
	}
}
