package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"curator/internal/config"
	"curator/internal/intake"
	"curator/internal/naming"
	"curator/internal/watch"
	"curator/internal/workflow"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var tablePath string
	var rowNum int
	var allRows bool
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "upload <source-dir>",
		Short: "Validate and commit a new case from a directory of images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceDir, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve source directory: %w", err)
			}
			info, err := os.Stat(sourceDir)
			if err != nil {
				return fmt.Errorf("inspect source directory: %w", err)
			}
			if !info.IsDir() {
				return fmt.Errorf("source %s is not a directory", sourceDir)
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rows, err := loadCaseRows(cfg, sourceDir, tablePath)
			if err != nil {
				return err
			}
			selected, err := selectRows(rows, rowNum, allRows)
			if err != nil {
				return err
			}

			var kind naming.Kind
			if strings.TrimSpace(kindFlag) != "" {
				kind, err = naming.ParseKind(kindFlag)
				if err != nil {
					return err
				}
			}

			return ctx.withOrchestrator(cmd, func(opCtx context.Context, orch *workflow.Orchestrator) error {
				for _, row := range selected {
					report, err := orch.UploadNewCase(opCtx, workflow.CaseInput{
						Row:       row,
						SourceDir: sourceDir,
						Kind:      kind,
					})
					renderReport(cmd, report)
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&tablePath, "table", "t", "", "Metadata row file (defaults to case.csv inside the source directory)")
	cmd.Flags().IntVarP(&rowNum, "row", "r", 0, "Row number to upload when the table has several (1-based)")
	cmd.Flags().BoolVar(&allRows, "all", false, "Upload every row in the table")
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "Experiment kind to file under (defaults to Source_Data)")
	return cmd
}

// loadCaseRows reads the metadata table, defaulting to the case.csv dropped
// alongside the images.
func loadCaseRows(cfg *config.Config, sourceDir, tablePath string) ([]intake.Row, error) {
	path := strings.TrimSpace(tablePath)
	if path == "" {
		path = filepath.Join(sourceDir, watch.MetadataFile)
	} else {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return nil, fmt.Errorf("resolve table path: %w", err)
		}
		path = expanded
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("metadata table %s: %w", path, err)
	}
	rows, err := intake.ParseBatch(path, intake.Delimiter(cfg))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("metadata table %s has no case rows", path)
	}
	return rows, nil
}

func selectRows(rows []intake.Row, rowNum int, allRows bool) ([]intake.Row, error) {
	switch {
	case allRows:
		return rows, nil
	case rowNum > 0:
		if rowNum > len(rows) {
			return nil, fmt.Errorf("row %d out of range (table has %d row(s))", rowNum, len(rows))
		}
		return rows[rowNum-1 : rowNum], nil
	case len(rows) == 1:
		return rows, nil
	default:
		return nil, fmt.Errorf("table has %d rows; pick one with --row or pass --all", len(rows))
	}
}
