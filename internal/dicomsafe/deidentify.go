package dicomsafe

import (
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// piiTags are stripped outright before a frame leaves the local machine.
// Patient sex and institution name stay for clinical and provenance value.
var piiTags = []tag.Tag{
	tag.PatientName,
	tag.PatientID,
	tag.PatientBirthDate,
	tag.PatientBirthTime,
	tag.PatientAge,
	tag.PatientAddress,
	tag.PatientTelephoneNumbers,
	tag.OtherPatientIDs,
	tag.OtherPatientIDsSequence,
	tag.PatientMotherBirthName,
	tag.MilitaryRank,
	tag.EthnicGroup,
	tag.PatientReligiousPreference,
	tag.PatientComments,

	tag.InstitutionAddress,
	tag.InstitutionalDepartmentName,
	tag.StationName,

	tag.ReferringPhysicianName,
	tag.ReferringPhysicianAddress,
	tag.ReferringPhysicianTelephoneNumbers,
	tag.PerformingPhysicianName,
	tag.OperatorsName,
	tag.PhysiciansOfRecord,
	tag.NameOfPhysiciansReadingStudy,
	tag.RequestingPhysician,
	tag.ScheduledPerformingPhysicianName,

	tag.AccessionNumber,
	tag.RequestAttributesSequence,
	tag.PerformedProcedureStepID,
	tag.ScheduledProcedureStepID,
	tag.StudyID,
}

// dateTruncateTags keep year and month but lose the day, preserving rough
// chronology without an identifiable date.
var dateTruncateTags = []tag.Tag{
	tag.StudyDate,
	tag.SeriesDate,
	tag.AcquisitionDate,
	tag.ContentDate,
	tag.InstanceCreationDate,
}

// Deidentify strips patient, physician, and institution identifiers from the
// dataset and truncates its date tags to the first of the month. Pixel data
// is untouched.
func (f *File) Deidentify() error {
	strip := make(map[tag.Tag]bool, len(piiTags))
	for _, t := range piiTags {
		strip[t] = true
	}
	truncate := make(map[tag.Tag]bool, len(dateTruncateTags))
	for _, t := range dateTruncateTags {
		truncate[t] = true
	}

	kept := f.ds.Elements[:0]
	for _, element := range f.ds.Elements {
		if strip[element.Tag] {
			continue
		}
		if truncate[element.Tag] {
			if values, ok := element.Value.GetValue().([]string); ok && len(values) > 0 {
				replacement, err := dicom.NewValue([]string{TruncateDate(values[0])})
				if err != nil {
					return fmt.Errorf("truncate date tag %s: %w", element.Tag, err)
				}
				element.Value = replacement
			}
		}
		kept = append(kept, element)
	}
	f.ds.Elements = kept
	return nil
}

// TruncateDate reduces a DICOM DA value (YYYYMMDD) to the first of its month.
// Values that are not eight digits pass through unchanged.
func TruncateDate(value string) string {
	if len(value) != 8 {
		return value
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return value
		}
	}
	return value[:6] + "01"
}
