package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"curator/internal/archive"
	"curator/internal/ledger"
	"curator/internal/preflight"
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check installation readiness and run health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			// Preflight reports an unreachable archive as a failing check
			// rather than aborting the whole status view.
			var client archive.Client
			if opened, openErr := archive.Open(cmd.Context(), cfg); openErr == nil {
				client = opened
			}
			results := preflight.RunAll(cmd.Context(), cfg, client)

			var health *ledger.HealthSummary
			storeErr := ctx.withStore(func(store *ledger.Store) error {
				summary, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				health = &summary
				return nil
			})

			if asJSON {
				return writeJSON(cmd, buildStatusView(results, health, storeErr))
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(results))
			for _, result := range results {
				state, color := "ok", ansiGreen
				if !result.Passed {
					state, color = "FAIL", ansiRed
				}
				if colorize {
					state = color + state + ansiReset
				}
				rows = append(rows, []string{result.Name, state, result.Detail})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Check", "State", "Detail"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft},
			))

			switch {
			case storeErr != nil:
				fmt.Fprintf(out, "Run ledger unavailable: %v\n", storeErr)
			case health != nil:
				fmt.Fprintf(out, "Runs: %d total, %d active, %d synced, %d review, %d failed\n",
					health.Total, health.Active, health.Synced, health.Review, health.Failed)
				if health.Stuck > 0 {
					fmt.Fprintf(out, "%d run(s) awaiting reconcile; run `curator reconcile`\n", health.Stuck)
				}
			}

			if !preflight.AllPassed(results) {
				notReady := "Installation is not ready; fix the failing checks above"
				if colorize {
					notReady = ansiRed + notReady + ansiReset
				}
				fmt.Fprintln(out, notReady)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

// shouldColorize enables ANSI state colors for real terminals only; piped
// or captured output stays plain.
func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type statusView struct {
	Checks []checkView `json:"checks"`
	Ready  bool        `json:"ready"`
	Runs   *runsView   `json:"runs,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type checkView struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

type runsView struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Synced int `json:"synced"`
	Review int `json:"review"`
	Failed int `json:"failed"`
	Stuck  int `json:"stuck"`
}

func buildStatusView(results []preflight.Result, health *ledger.HealthSummary, storeErr error) statusView {
	view := statusView{Ready: preflight.AllPassed(results)}
	for _, result := range results {
		view.Checks = append(view.Checks, checkView{Name: result.Name, Passed: result.Passed, Detail: result.Detail})
	}
	if health != nil {
		view.Runs = &runsView{
			Total:  health.Total,
			Active: health.Active,
			Synced: health.Synced,
			Review: health.Review,
			Failed: health.Failed,
			Stuck:  health.Stuck,
		}
	}
	if storeErr != nil {
		view.Error = storeErr.Error()
	}
	return view
}
