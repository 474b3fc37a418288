package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeCheckerPNG writes a checkerboard image that matches no modality
// template, so the derive guard accepts it as genuinely derived content.
func writeCheckerPNG(t *testing.T, path string) {
	t.Helper()
	const edge = 16
	img := image.NewGray(image.Rect(0, 0, edge, edge))
	for y := 0; y < edge; y++ {
		for x := 0; x < edge; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(255 * ((x + y) % 2))})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode checker png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeResultTable(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "results.csv")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write result table: %v", err)
	}
	return path
}

func TestDeriveAttachesResultToCommittedCase(t *testing.T) {
	env := setupCLITestEnv(t)
	caseDir := prepareCaseDir(t, env, "case-001")

	out, _, err := runCLI(t, env.configPath, "upload", caseDir)
	if err != nil {
		t.Fatalf("upload: %v\noutput: %s", err, out)
	}

	workDir := filepath.Join(env.baseDir, "derived")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", workDir, err)
	}
	writeCheckerPNG(t, filepath.Join(workDir, "mask.png"))
	table := writeResultTable(t, workDir,
		"Subject;File",
		dhsCaseKey+";mask.png",
	)

	out, _, err = runCLI(t, env.configPath, "derive", table)
	if err != nil {
		t.Fatalf("derive: %v\noutput: %s", err, out)
	}
	requireContains(t, out, "committed 1 derived file(s) across 1 subject(s)")
	requireContains(t, out, dhsCaseKey)

	out, _, err = runCLI(t, env.configPath, "runs", "list")
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	requireContains(t, out, "derived")
	requireContains(t, out, "synced")
}

func TestDeriveRejectsUnknownSubject(t *testing.T) {
	env := setupCLITestEnv(t)
	prepareCaseDir(t, env, "case-001")

	workDir := filepath.Join(env.baseDir, "derived")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", workDir, err)
	}
	writeCheckerPNG(t, filepath.Join(workDir, "mask.png"))
	table := writeResultTable(t, workDir,
		"Subject;File",
		dhsCaseKey+";mask.png",
	)

	_, _, err := runCLI(t, env.configPath, "derive", table)
	if err == nil {
		t.Fatal("expected derive to fail for an unregistered subject")
	}
	if !strings.Contains(err.Error(), "unknown subject") {
		t.Fatalf("error = %v, want unknown subject", err)
	}
}

func TestDeriveRequiresExistingTable(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, env.configPath, "derive", filepath.Join(env.baseDir, "missing.csv"))
	if err == nil {
		t.Fatal("expected derive to fail for a missing result table")
	}
	if !strings.Contains(err.Error(), "result table") {
		t.Fatalf("error = %v, want result table message", err)
	}
}
