package registry_test

import (
	"bytes"
	"testing"
	"time"

	"curator/internal/registry"
)

var bootstrapTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDocumentRoundTripIsByteStable(t *testing.T) {
	doc := registry.Bootstrap("curator_op", bootstrapTime)

	first, err := doc.MarshalBytes()
	if err != nil {
		t.Fatalf("MarshalBytes returned error: %v", err)
	}
	parsed, err := registry.ParseDocument(first)
	if err != nil {
		t.Fatalf("ParseDocument returned error: %v", err)
	}
	second, err := parsed.MarshalBytes()
	if err != nil {
		t.Fatalf("second MarshalBytes returned error: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("expected identical bytes after a parse/serialize round trip")
	}
}

func TestBootstrapDocumentValidates(t *testing.T) {
	doc := registry.Bootstrap("curator_op", bootstrapTime)
	if err := doc.Validate(); err != nil {
		t.Fatalf("expected bootstrap document to validate, got %v", err)
	}
	for _, table := range []string{
		registry.TableUsers,
		registry.TableSites,
		registry.TableGroups,
		registry.TableSubjects,
		registry.TableHashes,
	} {
		if _, ok := doc.Tables[table]; !ok {
			t.Fatalf("bootstrap document missing table %s", table)
		}
	}
}

func TestValidateRejectsMissingTable(t *testing.T) {
	doc := registry.Bootstrap("curator_op", bootstrapTime)
	delete(doc.Tables, registry.TableGroups)
	if err := doc.Validate(); err == nil {
		t.Fatal("expected validation failure for missing table")
	}
}

func TestValidateRejectsDuplicateUID(t *testing.T) {
	doc := registry.Bootstrap("curator_op", bootstrapTime)
	sites := doc.Tables[registry.TableSites]
	dup := sites[0]
	dup.Name = "ANOTHER_SITE"
	doc.Tables[registry.TableSites] = append(sites, dup)
	if err := doc.Validate(); err == nil {
		t.Fatal("expected validation failure for duplicate UID")
	}
}

func TestValidateRejectsDanglingSubjectReference(t *testing.T) {
	doc := registry.Bootstrap("curator_op", bootstrapTime)
	doc.Tables[registry.TableSubjects] = append(doc.Tables[registry.TableSubjects], registry.Row{
		Name:      "CASE_20240101_A",
		UID:       registry.MintUID(),
		CreatedAt: doc.Metadata.Created,
		CreatedBy: doc.Metadata.CreatedBy,
		Extra: map[string]string{
			registry.ColAcquisitionSite: "no-such-site",
			registry.ColGroup:           doc.Tables[registry.TableGroups][0].UID,
		},
	})
	if err := doc.Validate(); err == nil {
		t.Fatal("expected validation failure for dangling site reference")
	}
}

func TestValidateRejectsMissingExtraColumn(t *testing.T) {
	doc := registry.Bootstrap("curator_op", bootstrapTime)
	doc.Tables[registry.TableSubjects] = append(doc.Tables[registry.TableSubjects], registry.Row{
		Name:      "CASE_20240101_B",
		UID:       registry.MintUID(),
		CreatedAt: doc.Metadata.Created,
		CreatedBy: doc.Metadata.CreatedBy,
		Extra: map[string]string{
			registry.ColAcquisitionSite: doc.Tables[registry.TableSites][0].UID,
		},
	})
	if err := doc.Validate(); err == nil {
		t.Fatal("expected validation failure for missing GROUP column")
	}
}

func TestParseDocumentRejectsMalformedJSON(t *testing.T) {
	if _, err := registry.ParseDocument([]byte("{not json")); err == nil {
		t.Fatal("expected parse failure for malformed JSON")
	}
}

func TestRowGetCoversCoreAndExtraColumns(t *testing.T) {
	row := registry.Row{
		Name:      "DYNAMIC_HIP_SCREW",
		UID:       "abc-123",
		CreatedAt: "2024-03-01T12:00:00Z",
		CreatedBy: "op-uid",
		Extra:     map[string]string{registry.ColSubject: "subj-uid"},
	}
	if row.Get("name") != "DYNAMIC_HIP_SCREW" {
		t.Fatalf("Get(name) = %q", row.Get("name"))
	}
	if row.Get("UID") != "abc-123" {
		t.Fatalf("Get(UID) = %q", row.Get("UID"))
	}
	if row.Get(registry.ColSubject) != "subj-uid" {
		t.Fatalf("Get(SUBJECT) = %q", row.Get(registry.ColSubject))
	}
	if row.Get("NO_SUCH") != "" {
		t.Fatalf("Get(NO_SUCH) = %q, want empty", row.Get("NO_SUCH"))
	}
}
