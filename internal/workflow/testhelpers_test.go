package workflow_test

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"curator/internal/archive"
	"curator/internal/config"
	"curator/internal/intake"
	"curator/internal/ledger"
	"curator/internal/notifications"
	"curator/internal/registry"
	"curator/internal/testsupport"
	"curator/internal/workflow"
)

// stubNotifier records every published event so tests can assert on the
// notifications a run produced without a network in sight.
type stubNotifier struct {
	mu       sync.Mutex
	events   []notifications.Event
	payloads []notifications.Payload
}

func (s *stubNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *stubNotifier) count(event notifications.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

func (s *stubNotifier) last(event notifications.Event) (notifications.Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i] == event {
			return s.payloads[i], true
		}
	}
	return nil, false
}

// markerBumpClient republishes the registry document immediately after the
// session's initial fetch of it, so the session's eventual sync sees a moved
// marker. One shot; every other call passes straight through.
type markerBumpClient struct {
	archive.Client
	key   string
	armed atomic.Bool
}

func (c *markerBumpClient) Fetch(ctx context.Context, path string) ([]byte, string, error) {
	data, marker, err := c.Client.Fetch(ctx, path)
	if err == nil && path == c.key && c.armed.CompareAndSwap(true, false) {
		if _, perr := c.Client.Put(ctx, path, data); perr != nil {
			return nil, "", perr
		}
	}
	return data, marker, err
}

type env struct {
	cfg      *config.Config
	store    *ledger.Store
	mem      *archive.Memory
	notifier *stubNotifier
	orch     *workflow.Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, testsupport.NewConfig(t), nil)
}

// newEnvWith builds a ready-to-run orchestrator over an in-memory archive
// seeded with a bootstrap registry document and one classification template.
// wrap, when set, interposes on the archive client the orchestrator sees.
func newEnvWith(t *testing.T, cfg *config.Config, wrap func(archive.Client) archive.Client) *env {
	t.Helper()

	store := testsupport.MustOpenLedger(t, cfg)
	mem := archive.NewMemory()
	seedRegistryDocument(t, mem, cfg)
	testsupport.WritePNG(t, filepath.Join(cfg.Paths.TemplateDir, "fluoro_ap.png"), 0)

	notifier := &stubNotifier{}
	var client archive.Client = mem
	if wrap != nil {
		client = wrap(mem)
	}
	orch, err := workflow.New(cfg, store, client, notifier, nil)
	if err != nil {
		t.Fatalf("workflow.New: %v", err)
	}
	return &env{cfg: cfg, store: store, mem: mem, notifier: notifier, orch: orch}
}

func seedRegistryDocument(t *testing.T, client archive.Client, cfg *config.Config) {
	t.Helper()
	doc := registry.Bootstrap(cfg.Archive.Operator, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	data, err := doc.MarshalBytes()
	if err != nil {
		t.Fatalf("marshal bootstrap document: %v", err)
	}
	if _, err := client.Put(context.Background(), cfg.Registry.DocumentKey, data); err != nil {
		t.Fatalf("seed registry document: %v", err)
	}
}

// document fetches and parses the current remote registry document.
func (e *env) document(t *testing.T) *registry.Document {
	t.Helper()
	data, _, err := e.mem.Fetch(context.Background(), e.cfg.Registry.DocumentKey)
	if err != nil {
		t.Fatalf("fetch registry document: %v", err)
	}
	doc, err := registry.ParseDocument(data)
	if err != nil {
		t.Fatalf("parse registry document: %v", err)
	}
	return doc
}

func (e *env) listArchive(t *testing.T, prefix string) []archive.Entry {
	t.Helper()
	entries, err := e.mem.List(context.Background(), prefix)
	if err != nil {
		t.Fatalf("list archive %q: %v", prefix, err)
	}
	return entries
}

func (e *env) mustRun(t *testing.T, id int64) *ledger.Run {
	t.Helper()
	run, err := e.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load run %d: %v", id, err)
	}
	return run
}

// dhsRow is a valid intake row for a Dynamic Hip Screw case at Iowa. The
// procedure's conditional rule makes the Epic start time mandatory, so the
// derived case key carries it.
func dhsRow(dir string) intake.Row {
	return intake.Row{
		intake.ColFiler:         "Test Operator",
		intake.ColOperationDate: "2024-01-01",
		intake.ColSite:          "University of Iowa",
		intake.ColProcedure:     "Dynamic Hip Screw",
		intake.ColEpicStart:     "07:30",
		intake.ColDataPath:      dir,
	}
}

const dhsCaseKey = "20240101_UNIVERSITY_OF_IOWA_DYNAMIC_HIP_SCREW_073000"

// writeCaseImage drops a deterministic PNG into dir and pins its mtime so
// committed file names and bundle ordering are stable across runs.
func writeCaseImage(t *testing.T, dir, name string, seed uint8, at time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	testsupport.WritePNG(t, path, seed)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
	return path
}

// writeCheckerImage writes a checkerboard PNG that correlates with nothing
// the template set contains.
func writeCheckerImage(t *testing.T, path string) {
	t.Helper()
	const edge = 16
	img := image.NewGray(image.Rect(0, 0, edge, edge))
	for y := 0; y < edge; y++ {
		for x := 0; x < edge; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(255 * ((x + y) % 2))})
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

// commitCase runs a standard upload and fails the test unless it lands
// synced. Returns the report for follow-on assertions.
func commitCase(t *testing.T, e *env, row intake.Row, dir string) *workflow.Report {
	t.Helper()
	report, err := e.orch.UploadNewCase(context.Background(), workflow.CaseInput{Row: row, SourceDir: dir})
	if err != nil {
		t.Fatalf("UploadNewCase: %v", err)
	}
	if !report.Success {
		t.Fatalf("upload did not succeed: %s", report.Diagnostic)
	}
	return report
}
