package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"curator/internal/workflow"
)

// renderReport prints one orchestrated operation's outcome: the summary
// line, the run identity, and the per-file table when files were touched.
func renderReport(cmd *cobra.Command, report *workflow.Report) {
	out := cmd.OutOrStdout()
	if report == nil {
		return
	}

	if strings.TrimSpace(report.Diagnostic) != "" {
		fmt.Fprintln(out, report.Diagnostic)
	}

	rows := buildReportDetailRows(report)
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))
	}

	if len(report.Files) > 0 {
		fmt.Fprintln(out, renderTable(
			[]string{"File", "Outcome", "Detail"},
			buildReportFileRows(report.Files),
			[]columnAlignment{alignLeft, alignLeft, alignLeft},
		))
	}
}

func buildReportDetailRows(report *workflow.Report) [][]string {
	var rows [][]string
	add := func(field, value string) {
		if strings.TrimSpace(value) != "" {
			rows = append(rows, []string{field, value})
		}
	}
	if report.RunID > 0 {
		add("Run", strconv.FormatInt(report.RunID, 10))
	}
	add("Case", report.CaseKey)
	add("Subject", report.SubjectUID)
	add("Experiment", report.Experiment)
	add("Scan", report.Scan)
	add("Output", report.Output)
	return rows
}

func buildReportFileRows(files []workflow.FileOutcome) [][]string {
	rows := make([][]string, 0, len(files))
	for _, file := range files {
		outcome := "committed"
		detail := file.ArchivePath
		if file.Skipped {
			outcome = "skipped"
			detail = file.Reason
		} else if strings.TrimSpace(file.Reason) != "" {
			detail = fmt.Sprintf("%s (%s)", file.ArchivePath, file.Reason)
		}
		rows = append(rows, []string{file.Source, outcome, detail})
	}
	return rows
}
