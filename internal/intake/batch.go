package intake

import (
	"encoding/csv"
	"os"
	"strings"

	"curator/internal/config"
	"curator/internal/services"
)

// Delimiter returns the configured batch-file delimiter, defaulting to the
// semicolon the intake template uses.
func Delimiter(cfg *config.Config) rune {
	if d := strings.TrimSpace(cfg.Intake.Delimiter); d != "" {
		return []rune(d)[0]
	}
	return ';'
}

// ParseBatch reads a delimited batch file into intake rows. The first record
// is the header; fully blank records are skipped, so trailing spreadsheet
// rows do not produce phantom cases.
func ParseBatch(path string, delimiter rune) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "intake", "parse batch", "open batch file", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "intake", "parse batch", "read batch file", err)
	}
	if len(records) == 0 {
		return nil, services.Wrap(services.ErrValidation, "intake", "parse batch", "batch file has no header row", nil)
	}

	header := make([]string, len(records[0]))
	for i, col := range records[0] {
		header[i] = collapse(col)
	}

	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(Row, len(header))
		empty := true
		for i, cell := range record {
			if i >= len(header) || header[i] == "" {
				continue
			}
			value := strings.TrimSpace(cell)
			if value != "" {
				empty = false
			}
			row[header[i]] = value
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	return rows, nil
}
