package registry

import "time"

var seededSites = []string{
	"UNIVERSITY_OF_IOWA",
	"UNIVERSITY_OF_HOUSTON",
	"AMAZON_MECHANICAL_TURK",
}

var seededGroups = []string{
	"DYNAMIC_HIP_SCREW",
	"CANNULATED_HIP_SCREW",
	"PERCUTANEOUS_SACROILIAC_FIXATION",
	"PEDIATRIC_SUPRACONDYLAR_HUMERUS_FRACTURE",
	"OPEN_AND_PERCUTANEOUS_PILON_FRACTURES",
	"INTRAMEDULLARY_NAIL-CMN",
	"INTRAMEDULLARY_NAIL-ANTEGRADE_FEMORAL",
	"INTRAMEDULLARY_NAIL-RETROGRADE_FEMORAL",
	"INTRAMEDULLARY_NAIL-TIBIA",
	"SCAPHOID_FRACTURE",
	"SLIPPED_CAPITAL_FEMORAL_EPIPHYSIS",
	"SHOULDER_ARTHROSCOPY",
	"KNEE_ARTHROSCOPY",
	"HIP_ARTHROSCOPY",
	"ANKLE_ARTHROSCOPY",
}

// Bootstrap constructs a fresh registry document for a first-run
// installation: the creating operator registered, the standard acquisition
// sites and procedure groups seeded, subject and hash tables empty.
func Bootstrap(operator string, now time.Time) *Document {
	stamp := now.UTC().Format(time.RFC3339)
	operatorUID := MintUID()

	doc := &Document{
		Metadata: Metadata{
			Created:      stamp,
			LastModified: stamp,
			CreatedBy:    operatorUID,
			TableExtraColumns: map[string][]string{
				TableSubjects: append([]string(nil), tableExtraColumns[TableSubjects]...),
				TableHashes:   append([]string(nil), tableExtraColumns[TableHashes]...),
			},
		},
		Tables: map[string][]Row{
			TableUsers: {{
				Name:      NormalizeName(operator),
				UID:       operatorUID,
				CreatedAt: stamp,
				CreatedBy: operatorUID,
			}},
			TableSites:    seedRows(seededSites, stamp, operatorUID),
			TableGroups:   seedRows(seededGroups, stamp, operatorUID),
			TableSubjects: {},
			TableHashes:   {},
		},
	}
	return doc
}

func seedRows(names []string, stamp, createdBy string) []Row {
	rows := make([]Row, 0, len(names))
	for _, name := range names {
		rows = append(rows, Row{
			Name:      NormalizeName(name),
			UID:       MintUID(),
			CreatedAt: stamp,
			CreatedBy: createdBy,
		})
	}
	return rows
}
