package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/ledger"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run ledger",
	}

	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))

	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatusFlags(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *ledger.Store) error {
				runs, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, buildRunViews(runs))
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Ledger is empty")
					return nil
				}
				tableOut := renderTable(
					[]string{"ID", "Op", "Status", "Case", "Files", "Updated"},
					buildRunListRows(runs),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), tableOut)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by run status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one ledger run in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			return ctx.withStore(func(store *ledger.Store) error {
				run, err := store.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("run %d not found", id)
				}
				if asJSON {
					return writeJSON(cmd, buildRunView(run))
				}
				renderRunDetails(cmd, run)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func parseStatusFlags(flags []string) ([]ledger.Status, error) {
	var statuses []ledger.Status
	for _, flag := range flags {
		status, ok := ledger.ParseStatus(flag)
		if !ok {
			known := make([]string, 0)
			for _, s := range ledger.AllStatuses() {
				known = append(known, string(s))
			}
			return nil, fmt.Errorf("unknown status %q (expected one of %s)", flag, strings.Join(known, ", "))
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func buildRunListRows(runs []*ledger.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		files := fmt.Sprintf("%d", run.FileCount)
		if run.SkippedCount > 0 {
			files = fmt.Sprintf("%d (%d skipped)", run.FileCount, run.SkippedCount)
		}
		rows = append(rows, []string{
			strconv.FormatInt(run.ID, 10),
			string(run.Op),
			string(run.Status),
			run.CaseKey,
			files,
			run.UpdatedAt.Local().Format(time.RFC3339),
		})
	}
	return rows
}

func renderRunDetails(cmd *cobra.Command, run *ledger.Run) {
	out := cmd.OutOrStdout()

	rows := [][]string{
		{"ID", strconv.FormatInt(run.ID, 10)},
		{"Op", string(run.Op)},
		{"Status", string(run.Status)},
	}
	add := func(field, value string) {
		if strings.TrimSpace(value) != "" {
			rows = append(rows, []string{field, value})
		}
	}
	add("Case", run.CaseKey)
	add("Subject", run.SubjectUID)
	add("Experiment", run.Experiment)
	add("Scan", run.ScanIndex)
	add("Source", run.SourceDir)
	add("Files", strconv.Itoa(run.FileCount))
	add("Committed", strconv.Itoa(run.CommittedCount))
	add("Skipped", strconv.Itoa(run.SkippedCount))
	add("Error", run.ErrorMessage)
	add("Created", run.CreatedAt.Local().Format(time.RFC3339))
	add("Updated", run.UpdatedAt.Local().Format(time.RFC3339))
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))

	if paths := run.CommittedPaths(); len(paths) > 0 {
		fmt.Fprintln(out, "Committed archive paths:")
		for _, path := range paths {
			fmt.Fprintf(out, "  %s\n", path)
		}
	}
	if skipped := run.SkippedFiles(); len(skipped) > 0 {
		skipRows := make([][]string, 0, len(skipped))
		for _, s := range skipped {
			skipRows = append(skipRows, []string{s.Path, s.Hash, s.SubjectUID, s.Experiment})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Skipped File", "Hash", "Subject", "Experiment"},
			skipRows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
		))
	}
}

type runView struct {
	ID         int64    `json:"id"`
	Op         string   `json:"op"`
	Status     string   `json:"status"`
	CaseKey    string   `json:"case_key,omitempty"`
	SubjectUID string   `json:"subject_uid,omitempty"`
	Experiment string   `json:"experiment,omitempty"`
	ScanIndex  string   `json:"scan_index,omitempty"`
	SourceDir  string   `json:"source_dir,omitempty"`
	FileCount  int      `json:"file_count"`
	Committed  []string `json:"committed,omitempty"`
	Skipped    int      `json:"skipped,omitempty"`
	Error      string   `json:"error,omitempty"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
}

func buildRunView(run *ledger.Run) runView {
	return runView{
		ID:         run.ID,
		Op:         string(run.Op),
		Status:     string(run.Status),
		CaseKey:    run.CaseKey,
		SubjectUID: run.SubjectUID,
		Experiment: run.Experiment,
		ScanIndex:  run.ScanIndex,
		SourceDir:  run.SourceDir,
		FileCount:  run.FileCount,
		Committed:  run.CommittedPaths(),
		Skipped:    run.SkippedCount,
		Error:      run.ErrorMessage,
		CreatedAt:  run.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  run.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func buildRunViews(runs []*ledger.Run) []runView {
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, buildRunView(run))
	}
	return views
}
