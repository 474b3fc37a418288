package workflow

import (
	"curator/internal/intake"
	"curator/internal/naming"
)

// caseSnapshotName is the resource file holding the validated case metadata
// alongside the committed images.
const caseSnapshotName = "case_record.json"

// caseSnapshot is the committed form of a validated case record. Reconcile
// reads it back to restore registry rows for runs that never synced.
type caseSnapshot struct {
	CaseKey       string            `json:"case_key"`
	SubjectUID    string            `json:"subject_uid"`
	Filer         string            `json:"filer"`
	OperationDate string            `json:"operation_date"`
	Site          string            `json:"site"`
	SiteUID       string            `json:"site_uid"`
	Group         string            `json:"group"`
	GroupUID      string            `json:"group_uid"`
	Fields        map[string]string `json:"fields,omitempty"`
}

func newCaseSnapshot(record *intake.CaseRecord, loc *naming.ArchiveLocator) caseSnapshot {
	return caseSnapshot{
		CaseKey:       record.CaseKey,
		SubjectUID:    loc.SubjectUID,
		Filer:         record.Filer,
		OperationDate: record.OperationDate,
		Site:          record.Site,
		SiteUID:       record.SiteUID,
		Group:         record.Group,
		GroupUID:      record.GroupUID,
		Fields:        record.Fields,
	}
}
