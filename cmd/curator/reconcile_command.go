package main

import (
	"context"

	"github.com/spf13/cobra"

	"curator/internal/workflow"
)

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair runs that committed files but never registered them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(cmd, func(opCtx context.Context, orch *workflow.Orchestrator) error {
				report, err := orch.Reconcile(opCtx)
				renderReport(cmd, report)
				return err
			})
		},
	}
}
