package naming_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"curator/internal/archive"
	"curator/internal/intake"
	"curator/internal/naming"
	"curator/internal/registry"
	"curator/internal/services"
)

const documentKey = "meta/registry.json"

func newSession(t *testing.T) (*registry.Registry, *archive.Memory) {
	t.Helper()
	client := archive.NewMemory()
	doc := registry.Bootstrap("librarian", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	data, err := doc.MarshalBytes()
	if err != nil {
		t.Fatalf("MarshalBytes returned error: %v", err)
	}
	if _, err := client.Put(context.Background(), documentKey, data); err != nil {
		t.Fatalf("seed registry document: %v", err)
	}
	reg, err := registry.Load(context.Background(), client, registry.Options{
		DocumentKey: documentKey,
		WorkingCopy: filepath.Join(t.TempDir(), "registry.json"),
		Operator:    "librarian",
	})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg, client
}

func caseRecord(t *testing.T, reg *registry.Registry) *intake.CaseRecord {
	t.Helper()
	site, ok := reg.GetByName(registry.TableSites, "University_of_Iowa")
	if !ok {
		t.Fatal("seeded site missing")
	}
	group, ok := reg.GetByName(registry.TableGroups, "Dynamic_Hip_Screw")
	if !ok {
		t.Fatal("seeded group missing")
	}
	return &intake.CaseRecord{
		CaseKey:  "20240101_UNIVERSITY_OF_IOWA_DYNAMIC_HIP_SCREW",
		SiteUID:  site.UID,
		GroupUID: group.UID,
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]naming.Kind{
		"Source_Data":            naming.KindSource,
		"source_data":            naming.KindSource,
		"Semantic_Segmentations": naming.KindSegmentation,
		"TBD_Derived_Data_Type":  naming.KindDerived,
		"gthomas_Analysis":       naming.AnalysisKind("gthomas"),
	}
	for in, want := range cases {
		got, err := naming.ParseKind(in)
		if err != nil {
			t.Fatalf("ParseKind(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseKind(%q) = %q, want %q", in, got, want)
		}
	}

	for _, bad := range []string{"", "bogus", "_Analysis"} {
		if _, err := naming.ParseKind(bad); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("ParseKind(%q) error %v does not carry the validation marker", bad, err)
		}
	}
}

func TestAnalysisKindNormalizesResearcher(t *testing.T) {
	if got := naming.AnalysisKind("g thomas"); got != naming.Kind("G_THOMAS_Analysis") {
		t.Fatalf("AnalysisKind = %q, want G_THOMAS_Analysis", got)
	}
}

func TestBuildBundleOrdersByAcquisitionThenName(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	bundle := naming.BuildBundle([]naming.File{
		{Path: "/in/b.png", AcquiredAt: base.Add(2 * time.Minute), Ext: "png"},
		{Path: "/in/z.png", AcquiredAt: base, Ext: "png"},
		{Path: "/in/a.png", AcquiredAt: base, Ext: "png"},
	})

	if got := filepath.Base(bundle.Files[0].Path); got != "a.png" {
		t.Fatalf("first file = %q, want the lexical tiebreak winner a.png", got)
	}
	if got := filepath.Base(bundle.Files[1].Path); got != "z.png" {
		t.Fatalf("second file = %q, want z.png", got)
	}
	if got := filepath.Base(bundle.Files[2].Path); got != "b.png" {
		t.Fatalf("third file = %q, want the later acquisition b.png", got)
	}
	if bundle.Sequence(0) != "00" || bundle.Sequence(2) != "02" {
		t.Fatalf("sequences = %s..%s, want 00..02", bundle.Sequence(0), bundle.Sequence(2))
	}
	if got := bundle.FileName(1); got != "01_20240101093000.png" {
		t.Fatalf("file name = %q, want 01_20240101093000.png", got)
	}
}

func TestBuildBundleWidensPastTwoDigits(t *testing.T) {
	files := make([]naming.File, 101)
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := range files {
		files[i] = naming.File{Path: "/in/frame.png", AcquiredAt: base.Add(time.Duration(i) * time.Second), Ext: "png"}
	}
	bundle := naming.BuildBundle(files)

	if got := bundle.Sequence(0); got != "000" {
		t.Fatalf("sequence 0 = %q, want 000 once the bundle passes 100 files", got)
	}
	if got := bundle.Sequence(100); got != "100" {
		t.Fatalf("sequence 100 = %q, want 100", got)
	}
}

func TestResolveMintsSubjectForFirstUpload(t *testing.T) {
	reg, client := newSession(t)
	record := caseRecord(t, reg)
	resolver := naming.Resolver{Client: client}

	loc, err := resolver.Resolve(context.Background(), reg, record, naming.KindSource)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !loc.SubjectMinted {
		t.Fatal("expected a fresh subject to be minted")
	}
	if loc.SubjectUID == "" {
		t.Fatal("expected a subject UID")
	}
	if loc.Experiment != loc.SubjectUID+"-Source_Data" {
		t.Fatalf("experiment = %q, want %s-Source_Data", loc.Experiment, loc.SubjectUID)
	}
	if loc.ScanIndex != 0 || loc.Scan() != "00" {
		t.Fatalf("scan = %d (%s), want first index 00", loc.ScanIndex, loc.Scan())
	}
	if _, ok := reg.GetByName(registry.TableSubjects, record.CaseKey); !ok {
		t.Fatal("expected minted subject row in SUBJECTS")
	}
}

func TestResolveReusesExistingSubject(t *testing.T) {
	reg, client := newSession(t)
	record := caseRecord(t, reg)
	resolver := naming.Resolver{Client: client}

	first, err := resolver.Resolve(context.Background(), reg, record, naming.KindSource)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	second, err := resolver.Resolve(context.Background(), reg, record, naming.KindSource)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	if second.SubjectMinted {
		t.Fatal("expected the second resolve to reuse the subject")
	}
	if first.SubjectUID != second.SubjectUID {
		t.Fatalf("subject UIDs %q and %q, want the same subject", first.SubjectUID, second.SubjectUID)
	}
	if first.ScanIndex != second.ScanIndex {
		t.Fatalf("scan indices %d and %d, want identical locators for an unchanged snapshot", first.ScanIndex, second.ScanIndex)
	}
}

func TestResolveAdvancesPastRegisteredInstances(t *testing.T) {
	reg, client := newSession(t)
	record := caseRecord(t, reg)
	resolver := naming.Resolver{Client: client}

	loc, err := resolver.Resolve(context.Background(), reg, record, naming.KindSource)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if _, err := reg.Insert(registry.TableHashes, registry.Row{
		Name: "f00dfeed",
		Extra: map[string]string{
			registry.ColSubject:     loc.SubjectUID,
			registry.ColExperiment:  "Source_Data",
			registry.ColInstanceNum: "3",
		},
	}); err != nil {
		t.Fatalf("insert hash row: %v", err)
	}

	next, err := resolver.Resolve(context.Background(), reg, record, naming.KindSource)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if next.ScanIndex != 4 || next.Scan() != "04" {
		t.Fatalf("scan = %d (%s), want 04 after instance 3", next.ScanIndex, next.Scan())
	}
}

func TestResolveAdvancesPastArchivedScans(t *testing.T) {
	reg, client := newSession(t)
	record := caseRecord(t, reg)
	resolver := naming.Resolver{Client: client}

	loc, err := resolver.Resolve(context.Background(), reg, record, naming.KindSource)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	// A previous run committed scan 07 but never synced its registry rows.
	stray := loc.SubjectUID + "/" + loc.Experiment + "/07/00_20240101093000.png"
	if _, err := client.Put(context.Background(), stray, []byte("frame")); err != nil {
		t.Fatalf("seed stray scan: %v", err)
	}
	// Resource files must not count as scans.
	if _, err := client.Put(context.Background(), loc.ResourcePath("case_record.json"), []byte("{}")); err != nil {
		t.Fatalf("seed resource file: %v", err)
	}

	next, err := resolver.Resolve(context.Background(), reg, record, naming.KindSource)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if next.ScanIndex != 8 {
		t.Fatalf("scan index = %d, want 8 after archived scan 07", next.ScanIndex)
	}
}

func TestLocatorPaths(t *testing.T) {
	loc := &naming.ArchiveLocator{
		SubjectUID: "subj01",
		Kind:       naming.KindSource,
		Experiment: "subj01-Source_Data",
		ScanIndex:  0,
		Resource:   "SRC",
	}

	if got := loc.FilePath("00_20240101093000.png"); got != "subj01/subj01-Source_Data/00/00_20240101093000.png" {
		t.Fatalf("file path = %q", got)
	}
	if got := loc.ResourcePath("case_record.json"); got != "subj01/subj01-Source_Data/SRC/case_record.json" {
		t.Fatalf("resource path = %q", got)
	}
}

func TestResolveExistingRequiresRegisteredSubject(t *testing.T) {
	reg, client := newSession(t)
	record := caseRecord(t, reg)
	resolver := naming.Resolver{Client: client}

	if _, err := resolver.ResolveExisting(context.Background(), reg, record.CaseKey, naming.KindSegmentation); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found for unregistered subject, got %v", err)
	}

	source, err := resolver.Resolve(context.Background(), reg, record, naming.KindSource)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	derived, err := resolver.ResolveExisting(context.Background(), reg, "20240101 University of Iowa Dynamic Hip Screw", naming.KindSegmentation)
	if err != nil {
		t.Fatalf("ResolveExisting returned error: %v", err)
	}
	if derived.SubjectMinted {
		t.Fatal("ResolveExisting must never mint")
	}
	if derived.SubjectUID != source.SubjectUID {
		t.Fatalf("subject UIDs %q and %q, want the same subject", derived.SubjectUID, source.SubjectUID)
	}
	if derived.Experiment != source.SubjectUID+"-Semantic_Segmentations" {
		t.Fatalf("experiment = %q", derived.Experiment)
	}
	if derived.ScanIndex != 0 {
		t.Fatalf("scan index = %d, want independent numbering per experiment kind", derived.ScanIndex)
	}
}
