package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"curator/internal/config"
	"curator/internal/naming"
	"curator/internal/workflow"
)

func newDeriveCommand(ctx *commandContext) *cobra.Command {
	var sourceDir string
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "derive <result-table>",
		Short: "Attach derived result files to registered subjects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tablePath, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve result table: %w", err)
			}
			if _, err := os.Stat(tablePath); err != nil {
				return fmt.Errorf("result table %s: %w", tablePath, err)
			}

			input := workflow.DerivedInput{TablePath: tablePath}
			if strings.TrimSpace(sourceDir) != "" {
				expanded, err := config.ExpandPath(sourceDir)
				if err != nil {
					return fmt.Errorf("resolve source directory: %w", err)
				}
				input.SourceDir = expanded
			}
			if strings.TrimSpace(kindFlag) != "" {
				kind, err := naming.ParseKind(kindFlag)
				if err != nil {
					return err
				}
				input.Kind = kind
			}

			return ctx.withOrchestrator(cmd, func(opCtx context.Context, orch *workflow.Orchestrator) error {
				report, err := orch.UploadDerivedData(opCtx, input)
				renderReport(cmd, report)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&sourceDir, "source", "s", "", "Directory anchoring relative file references (defaults to the table's directory)")
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "Derived experiment kind (defaults to Semantic_Segmentations)")
	return cmd
}
