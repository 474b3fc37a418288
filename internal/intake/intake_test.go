package intake_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"curator/internal/archive"
	"curator/internal/config"
	"curator/internal/intake"
	"curator/internal/registry"
	"curator/internal/services"
)

const documentKey = "meta/registry.json"

func newRegistry(t *testing.T) *registry.Registry {
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
	if _, err := reg.Insert(registry.TableUsers, registry.Row{Name: "gthomas"}); err != nil {
		t.Fatalf("insert surgeon: %v", err)
	}
	return reg
}

func validRow() intake.Row {
	return intake.Row{
		intake.ColFiler:         "librarian",
		intake.ColOperationDate: "2024-01-01",
		intake.ColSite:          "University_of_Iowa",
		intake.ColProcedure:     "Dynamic_Hip_Screw",
		intake.ColDataPath:      "/data/case01",
		intake.ColEpicStart:     "09:30",
		intake.ColPerforming:    "gthomas",
	}
}

func TestValidateCanonicalizesRow(t *testing.T) {
	reg := newRegistry(t)
	rs := intake.DefaultRuleset()

	record, err := rs.Validate(validRow(), reg)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	if record.OperationDate != "20240101" {
		t.Fatalf("operation date = %q, want 20240101", record.OperationDate)
	}
	if record.Site != "UNIVERSITY_OF_IOWA" || record.SiteUID == "" {
		t.Fatalf("site = %q uid %q, want resolved seeded site", record.Site, record.SiteUID)
	}
	if record.Group != "DYNAMIC_HIP_SCREW" || record.GroupUID == "" {
		t.Fatalf("group = %q uid %q, want resolved seeded group", record.Group, record.GroupUID)
	}
	if record.EpicStart != "093000" {
		t.Fatalf("epic start = %q, want 093000", record.EpicStart)
	}
	if record.PerformingSurgeon != "GTHOMAS" {
		t.Fatalf("performing surgeon = %q, want resolved GTHOMAS", record.PerformingSurgeon)
	}
	if record.SupervisingSurgeon != intake.SentinelUnknown {
		t.Fatalf("supervising surgeon = %q, want the Unknown sentinel for a blank cell", record.SupervisingSurgeon)
	}
	if record.DataPath != "/data/case01" {
		t.Fatalf("data path = %q, want /data/case01", record.DataPath)
	}
}

func TestValidateCaseKeyIsDeterministic(t *testing.T) {
	reg := newRegistry(t)
	rs := intake.DefaultRuleset()

	first, err := rs.Validate(validRow(), reg)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	second, err := rs.Validate(validRow(), reg)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	if first.CaseKey == "" || first.CaseKey != second.CaseKey {
		t.Fatalf("case keys %q and %q, want equal non-empty keys", first.CaseKey, second.CaseKey)
	}
}

func TestValidateHonorsExplicitCaseName(t *testing.T) {
	reg := newRegistry(t)
	rs := intake.DefaultRuleset()
	row := validRow()
	row[intake.ColCaseName] = "pilot case 7"

	record, err := rs.Validate(row, reg)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if record.CaseKey != "PILOT_CASE_7" {
		t.Fatalf("case key = %q, want PILOT_CASE_7", record.CaseKey)
	}
}

func TestValidateNamesExactlyTheMissingColumns(t *testing.T) {
	reg := newRegistry(t)
	rs := intake.DefaultRuleset()
	row := validRow()
	delete(row, intake.ColProcedure)
	delete(row, intake.ColOperationDate)

	_, err := rs.Validate(row, reg)
	if err == nil {
		t.Fatal("expected a missing-fields error")
	}
	var missing *intake.MissingRequiredFieldsError
	if !errors.As(err, &missing) {
		t.Fatalf("error %v is not a MissingRequiredFieldsError", err)
	}
	want := []string{intake.ColOperationDate, intake.ColProcedure}
	if !reflect.DeepEqual(missing.Fields, want) {
		t.Fatalf("missing fields = %v, want %v", missing.Fields, want)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error %v does not carry the validation marker", err)
	}
}

func TestValidateConditionalRule(t *testing.T) {
	reg := newRegistry(t)
	rs := intake.DefaultRuleset()
	row := validRow()
	delete(row, intake.ColEpicStart)

	_, err := rs.Validate(row, reg)
	var conditional *intake.MissingConditionalFieldError
	if !errors.As(err, &conditional) {
		t.Fatalf("error %v is not a MissingConditionalFieldError", err)
	}
	if conditional.Field != intake.ColEpicStart {
		t.Fatalf("conditional field = %q, want %q", conditional.Field, intake.ColEpicStart)
	}
}

func TestValidateConditionalRuleNotTriggered(t *testing.T) {
	reg := newRegistry(t)
	rs := intake.DefaultRuleset()
	row := validRow()
	row[intake.ColProcedure] = "Knee_Arthroscopy"
	delete(row, intake.ColEpicStart)

	if _, err := rs.Validate(row, reg); err != nil {
		t.Fatalf("Validate returned error for a procedure without the start-time rule: %v", err)
	}
}

func TestValidateSkillsAssessmentRequiresAssessor(t *testing.T) {
	reg := newRegistry(t)
	rs := intake.DefaultRuleset()
	row := validRow()
	row[intake.ColSkillsAssessment] = "yes"

	_, err := rs.Validate(row, reg)
	var conditional *intake.MissingConditionalFieldError
	if !errors.As(err, &conditional) {
		t.Fatalf("error %v is not a MissingConditionalFieldError", err)
	}
	if conditional.Field != intake.ColAssessor {
		t.Fatalf("conditional field = %q, want %q", conditional.Field, intake.ColAssessor)
	}
}

func TestValidateRejectsUnknownVocabulary(t *testing.T) {
	reg := newRegistry(t)
	rs := intake.DefaultRuleset()
	row := validRow()
	row[intake.ColSite] = "Mars_Base"

	_, err := rs.Validate(row, reg)
	var unknown *intake.UnknownVocabularyValueError
	if !errors.As(err, &unknown) {
		t.Fatalf("error %v is not an UnknownVocabularyValueError", err)
	}
	if unknown.Field != intake.ColSite || unknown.Value != "Mars_Base" {
		t.Fatalf("unknown value reported as %s=%q, want %s=%q", unknown.Field, unknown.Value, intake.ColSite, "Mars_Base")
	}
	if unknown.Table != registry.TableSites {
		t.Fatalf("unknown value table = %q, want %q", unknown.Table, registry.TableSites)
	}
}

func TestValidateSentinelsSkipVocabularyResolution(t *testing.T) {
	reg := newRegistry(t)
	rs := intake.DefaultRuleset()
	row := validRow()
	row[intake.ColPerforming] = "not-applicable"
	row[intake.ColSupervising] = "UNKNOWN"

	record, err := rs.Validate(row, reg)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if record.PerformingSurgeon != intake.SentinelNotApplicable {
		t.Fatalf("performing surgeon = %q, want canonical %q", record.PerformingSurgeon, intake.SentinelNotApplicable)
	}
	if record.SupervisingSurgeon != intake.SentinelUnknown {
		t.Fatalf("supervising surgeon = %q, want canonical %q", record.SupervisingSurgeon, intake.SentinelUnknown)
	}
}

func TestValidateRejectsMalformedDate(t *testing.T) {
	reg := newRegistry(t)
	rs := intake.DefaultRuleset()
	row := validRow()
	row[intake.ColOperationDate] = "January 1st"

	_, err := rs.Validate(row, reg)
	var invalid *intake.InvalidFieldValueError
	if !errors.As(err, &invalid) {
		t.Fatalf("error %v is not an InvalidFieldValueError", err)
	}
	if invalid.Field != intake.ColOperationDate {
		t.Fatalf("invalid field = %q, want %q", invalid.Field, intake.ColOperationDate)
	}
}

func TestValidateRejectsEndBeforeStart(t *testing.T) {
	reg := newRegistry(t)
	rs := intake.DefaultRuleset()
	row := validRow()
	row[intake.ColEpicStart] = "10:00"
	row[intake.ColEpicEnd] = "09:00"

	_, err := rs.Validate(row, reg)
	var invalid *intake.InvalidFieldValueError
	if !errors.As(err, &invalid) {
		t.Fatalf("error %v is not an InvalidFieldValueError", err)
	}
	if invalid.Field != intake.ColEpicEnd {
		t.Fatalf("invalid field = %q, want %q", invalid.Field, intake.ColEpicEnd)
	}
}

func TestRulesetFromConfigAppendsExtraRules(t *testing.T) {
	cfg := &config.Config{}
	cfg.Intake.ExtraRules = []config.ConditionalRule{
		{When: intake.ColProcedure, Equals: "Knee_Arthroscopy", Require: intake.ColORLocation},
	}
	rs := intake.RulesetFromConfig(cfg)

	if len(rs.Conditional) != len(intake.DefaultRuleset().Conditional)+1 {
		t.Fatalf("conditional rules = %d, want default plus one", len(rs.Conditional))
	}

	reg := newRegistry(t)
	row := validRow()
	row[intake.ColProcedure] = "Knee_Arthroscopy"

	_, err := rs.Validate(row, reg)
	var conditional *intake.MissingConditionalFieldError
	if !errors.As(err, &conditional) {
		t.Fatalf("error %v is not a MissingConditionalFieldError", err)
	}
	if conditional.Field != intake.ColORLocation {
		t.Fatalf("conditional field = %q, want %q", conditional.Field, intake.ColORLocation)
	}
}

func TestParseBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.csv")
	content := "Filer HawkID;Operation Date;Procedure Name;Comments\n" +
		"librarian;2024-01-01;Dynamic_Hip_Screw;\"fracture; stabilized\"\n" +
		";;;\n" +
		"librarian;2024-01-02;Knee_Arthroscopy;routine\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write batch file: %v", err)
	}

	rows, err := intake.ParseBatch(path, ';')
	if err != nil {
		t.Fatalf("ParseBatch returned error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("parsed %d rows, want 2 (blank row skipped)", len(rows))
	}
	if got := rows[0].Get(intake.ColProcedure); got != "Dynamic_Hip_Screw" {
		t.Fatalf("first row procedure = %q, want Dynamic_Hip_Screw", got)
	}
	if got := rows[0].Get("Comments"); got != "fracture; stabilized" {
		t.Fatalf("quoted cell = %q, want the embedded delimiter preserved", got)
	}
	if got := rows[1].Get(intake.ColOperationDate); got != "2024-01-02" {
		t.Fatalf("second row date = %q, want 2024-01-02", got)
	}
}

func TestParseBatchMissingFile(t *testing.T) {
	_, err := intake.ParseBatch(filepath.Join(t.TempDir(), "absent.csv"), ';')
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error %v does not carry the validation marker", err)
	}
}

func TestDelimiterDefaultsToSemicolon(t *testing.T) {
	cfg := &config.Config{}
	if got := intake.Delimiter(cfg); got != ';' {
		t.Fatalf("delimiter = %q, want ';'", got)
	}
	cfg.Intake.Delimiter = ","
	if got := intake.Delimiter(cfg); got != ',' {
		t.Fatalf("delimiter = %q, want ','", got)
	}
}
