package registry

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Table names in the registry document.
const (
	TableUsers    = "REGISTERED_USERS"
	TableSites    = "ACQUISITION_SITES"
	TableGroups   = "GROUPS"
	TableSubjects = "SUBJECTS"
	TableHashes   = "IMAGE_HASHES"
)

// Core columns every row carries.
const (
	colName      = "NAME"
	colUID       = "UID"
	colCreated   = "CREATED_DATE_TIME"
	colCreatedBy = "CREATED_BY"
)

// Extra columns for the tables that carry them.
const (
	ColAcquisitionSite = "ACQUISITION_SITE"
	ColGroup           = "GROUP"
	ColSubject         = "SUBJECT"
	ColExperiment      = "EXPERIMENT"
	ColInstanceNum     = "INSTANCE_NUM"
)

var requiredTables = []string{TableUsers, TableSites, TableGroups, TableSubjects, TableHashes}

var tableExtraColumns = map[string][]string{
	TableSubjects: {ColAcquisitionSite, ColGroup},
	TableHashes:   {ColSubject, ColExperiment, ColInstanceNum},
}

// Row is one vocabulary or bookkeeping entry. Extra holds the table-specific
// columns beyond the core four.
type Row struct {
	Name      string
	UID       string
	CreatedAt string
	CreatedBy string
	Extra     map[string]string
}

// Get returns a column value by name, covering core and extra columns.
func (r Row) Get(column string) string {
	switch strings.ToUpper(column) {
	case colName:
		return r.Name
	case colUID:
		return r.UID
	case colCreated:
		return r.CreatedAt
	case colCreatedBy:
		return r.CreatedBy
	default:
		return r.Extra[strings.ToUpper(column)]
	}
}

// Metadata records document provenance.
type Metadata struct {
	Created           string
	LastModified      string
	CreatedBy         string
	TableExtraColumns map[string][]string
}

// Document is the whole registry document: provenance metadata plus the five
// vocabulary and bookkeeping tables. It round-trips against the archive as a
// single JSON object.
type Document struct {
	Metadata Metadata
	Tables   map[string][]Row
}

type metadataJSON struct {
	Created           string              `json:"CREATED"`
	LastModified      string              `json:"LAST_MODIFIED"`
	CreatedBy         string              `json:"CREATED_BY"`
	TableExtraColumns map[string][]string `json:"TABLE_EXTRA_COLUMNS"`
}

type documentJSON struct {
	Metadata metadataJSON                   `json:"metadata"`
	Tables   map[string][]map[string]string `json:"tables"`
}

// ParseDocument decodes a registry document from its serialized form. Shape
// and integrity rules are checked separately by Validate.
func ParseDocument(data []byte) (*Document, error) {
	var raw documentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	doc := &Document{
		Metadata: Metadata{
			Created:           raw.Metadata.Created,
			LastModified:      raw.Metadata.LastModified,
			CreatedBy:         raw.Metadata.CreatedBy,
			TableExtraColumns: raw.Metadata.TableExtraColumns,
		},
		Tables: make(map[string][]Row, len(raw.Tables)),
	}
	if doc.Metadata.TableExtraColumns == nil {
		doc.Metadata.TableExtraColumns = make(map[string][]string)
	}

	for name, rows := range raw.Tables {
		table := make([]Row, 0, len(rows))
		for _, record := range rows {
			row := Row{}
			for column, value := range record {
				switch strings.ToUpper(column) {
				case colName:
					row.Name = value
				case colUID:
					row.UID = value
				case colCreated:
					row.CreatedAt = value
				case colCreatedBy:
					row.CreatedBy = value
				default:
					if row.Extra == nil {
						row.Extra = make(map[string]string)
					}
					row.Extra[strings.ToUpper(column)] = value
				}
			}
			table = append(table, row)
		}
		doc.Tables[strings.ToUpper(name)] = table
	}
	return doc, nil
}

// MarshalBytes serializes the document with a stable key order, so identical
// content always produces identical bytes.
func (d *Document) MarshalBytes() ([]byte, error) {
	raw := documentJSON{
		Metadata: metadataJSON{
			Created:           d.Metadata.Created,
			LastModified:      d.Metadata.LastModified,
			CreatedBy:         d.Metadata.CreatedBy,
			TableExtraColumns: d.Metadata.TableExtraColumns,
		},
		Tables: make(map[string][]map[string]string, len(d.Tables)),
	}
	if raw.Metadata.TableExtraColumns == nil {
		raw.Metadata.TableExtraColumns = make(map[string][]string)
	}
	for name, rows := range d.Tables {
		records := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			record := map[string]string{
				colName:      row.Name,
				colUID:       row.UID,
				colCreated:   row.CreatedAt,
				colCreatedBy: row.CreatedBy,
			}
			for column, value := range row.Extra {
				record[column] = value
			}
			records = append(records, record)
		}
		raw.Tables[name] = records
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return append(data, '\n'), nil
}

// Validate checks document shape and integrity: the five tables exist, rows
// carry NAME and unique UIDs, extra columns are present where declared, and
// cross-table references resolve.
func (d *Document) Validate() error {
	for _, table := range requiredTables {
		if _, ok := d.Tables[table]; !ok {
			return fmt.Errorf("missing table %s", table)
		}
	}
	for table, expected := range tableExtraColumns {
		declared := map[string]bool{}
		for _, column := range d.Metadata.TableExtraColumns[table] {
			declared[strings.ToUpper(column)] = true
		}
		for _, column := range expected {
			if !declared[column] {
				return fmt.Errorf("table %s does not declare extra column %s", table, column)
			}
		}
	}

	for table, rows := range d.Tables {
		seenUID := make(map[string]bool, len(rows))
		seenName := make(map[string]bool, len(rows))
		for _, row := range rows {
			if strings.TrimSpace(row.Name) == "" {
				return fmt.Errorf("table %s has a row without NAME", table)
			}
			if strings.TrimSpace(row.UID) == "" {
				return fmt.Errorf("table %s row %q has no UID", table, row.Name)
			}
			uid := strings.ToLower(row.UID)
			if seenUID[uid] {
				return fmt.Errorf("table %s has duplicate UID %s", table, row.UID)
			}
			seenUID[uid] = true

			nameKey := NormalizeName(row.Name)
			if table == TableHashes {
				nameKey = hashRowKey(row)
			}
			if seenName[nameKey] {
				return fmt.Errorf("table %s has duplicate entry %q", table, row.Name)
			}
			seenName[nameKey] = true

			for _, column := range tableExtraColumns[table] {
				if strings.TrimSpace(row.Extra[column]) == "" {
					return fmt.Errorf("table %s row %q is missing %s", table, row.Name, column)
				}
			}
		}
	}

	siteUIDs := uidSet(d.Tables[TableSites])
	groupUIDs := uidSet(d.Tables[TableGroups])
	subjectUIDs := uidSet(d.Tables[TableSubjects])
	for _, row := range d.Tables[TableSubjects] {
		if !siteUIDs[strings.ToLower(row.Extra[ColAcquisitionSite])] {
			return fmt.Errorf("subject %q references unknown acquisition site %s", row.Name, row.Extra[ColAcquisitionSite])
		}
		if !groupUIDs[strings.ToLower(row.Extra[ColGroup])] {
			return fmt.Errorf("subject %q references unknown group %s", row.Name, row.Extra[ColGroup])
		}
	}
	for _, row := range d.Tables[TableHashes] {
		if !subjectUIDs[strings.ToLower(row.Extra[ColSubject])] {
			return fmt.Errorf("image hash %q references unknown subject %s", row.Name, row.Extra[ColSubject])
		}
	}
	return nil
}

// hashRowKey builds the uniqueness key for IMAGE_HASHES rows, where the same
// content may legitimately appear under different subjects or experiments.
func hashRowKey(row Row) string {
	return strings.ToLower(row.Extra[ColSubject]) + "|" +
		NormalizeName(row.Extra[ColExperiment]) + "|" +
		NormalizeName(row.Name)
}

func uidSet(rows []Row) map[string]bool {
	set := make(map[string]bool, len(rows))
	for _, row := range rows {
		set[strings.ToLower(row.UID)] = true
	}
	return set
}
