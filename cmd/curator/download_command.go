package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"curator/internal/config"
	"curator/internal/naming"
	"curator/internal/workflow"
)

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var groups []string
	var sites []string
	var from string
	var to string
	var kinds []string
	var outputDir string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Fetch archived case files for matching subjects",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := workflow.Query{
				Groups: groups,
				Sites:  sites,
				From:   from,
				To:     to,
			}
			for _, k := range kinds {
				kind, err := naming.ParseKind(k)
				if err != nil {
					return err
				}
				query.Kinds = append(query.Kinds, kind)
			}
			if outputDir != "" {
				expanded, err := config.ExpandPath(outputDir)
				if err != nil {
					return fmt.Errorf("resolve output directory: %w", err)
				}
				query.OutputDir = expanded
			}

			return ctx.withOrchestrator(cmd, func(opCtx context.Context, orch *workflow.Orchestrator) error {
				report, err := orch.DownloadQueriedCases(opCtx, query)
				renderReport(cmd, report)
				return err
			})
		},
	}

	cmd.Flags().StringSliceVarP(&groups, "group", "g", nil, "Procedure group to match (repeatable)")
	cmd.Flags().StringSliceVarP(&sites, "site", "s", nil, "Acquisition site to match (repeatable)")
	cmd.Flags().StringVar(&from, "from", "", "Earliest operation date, inclusive")
	cmd.Flags().StringVar(&to, "to", "", "Latest operation date, inclusive")
	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", nil, "Experiment kind to fetch (repeatable; defaults to every kind)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Destination directory (defaults to the configured output directory)")
	return cmd
}
