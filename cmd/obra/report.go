package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/obracontrol/internal/obra/report"
	"github.com/mschirtzinger/obracontrol/internal/ui"
)

var reportCmd = &cobra.Command{
	Use:     "report",
	GroupID: "tools",
	Short:   "Weekly report for the project",
	Long: `Build the weekly report: pending materials and their cost, labor
requests, stage and labor budgets, the total to pay this week and the logs
of the last 7 days.

Formats:
  text  - printed to stdout (default)
  xlsx  - spreadsheet written to --out`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		if format != "text" && format != "xlsx" {
			exitErr(fmt.Errorf("--format must be 'text' or 'xlsx'"))
		}

		withApp(func(ctx context.Context, a *app) error {
			_, p, err := a.project()
			if err != nil {
				return err
			}
			r := report.Build(p, time.Now())

			if format == "xlsx" {
				if out == "" {
					out = reportFileName(p.Name, r.GeneratedAt)
				}
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				if err := report.WriteXLSX(f, r); err != nil {
					_ = f.Close()
					return fmt.Errorf("failed to write report: %w", err)
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Printf("%s Report written to %s\n", ui.RenderPass("✓"), out)
				return nil
			}

			if printStructured(r) {
				return nil
			}
			return report.WriteText(os.Stdout, r)
		})
	},
}

func reportFileName(project string, at time.Time) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\':
			return '-'
		}
		return r
	}, project)
	return fmt.Sprintf("reporte-%s-%s.xlsx", name, at.Format("20060102"))
}

func init() {
	reportCmd.Flags().String("format", "text", "Output format: text or xlsx")
	reportCmd.Flags().String("out", "", "File for xlsx output (default: reporte-<project>-<date>.xlsx)")
	rootCmd.AddCommand(reportCmd)
}
