package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/obracontrol/internal/obra/assist"
	"github.com/mschirtzinger/obracontrol/internal/ui"
)

var assistCmd = &cobra.Command{
	Use:     "assist",
	GroupID: "tools",
	Short:   "Generative suggestions for the site",
	Long: `Ask the configured model for suggestions. Requires assist.api_key
(or OBRA_ASSIST_API_KEY). Suggestions never change project data unless
you ask for it with --add.`,
}

var assistAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Risk recommendation from the latest daily logs",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, a *app) error {
			assistant := a.assistant()
			if !assistant.Enabled() {
				return fmt.Errorf("assistant is not configured (set assist.api_key)")
			}
			_, p, err := a.project()
			if err != nil {
				return err
			}
			text, err := assistant.AnalyzeLogs(ctx, p)
			if err != nil {
				// A failed analysis shows the fallback text.
				text = assist.NoAnalysis
			}
			if printStructured(map[string]string{"analysis": text}) {
				return nil
			}
			fmt.Printf("\n%s %s\n\n%s\n\n", ui.RenderAccent("💡"), ui.HeaderStyle.Render("Análisis de bitácora"), text)
			return nil
		})
	},
}

var assistPlanCmd = &cobra.Command{
	Use:   "plan <goal>",
	Short: "Break a goal into 3-5 suggested tasks",
	Args:  cobra.MinimumNArgs(1),
	Example: `  obra assist plan "Terminar instalación eléctrica del 2do piso"
  obra assist plan "Impermeabilizar terraza" --add`,
	Run: func(cmd *cobra.Command, args []string) {
		add, _ := cmd.Flags().GetBool("add")
		goal := strings.Join(args, " ")
		withApp(func(ctx context.Context, a *app) error {
			assistant := a.assistant()
			if !assistant.Enabled() {
				return fmt.Errorf("assistant is not configured (set assist.api_key)")
			}
			id, _, err := a.project()
			if err != nil {
				return err
			}
			texts, err := assistant.PlanTasks(ctx, goal)
			if err != nil {
				return fmt.Errorf("no suggestion: %w", err)
			}
			tasks := assist.SuggestedTasks(texts, time.Now())
			if add {
				if _, err := a.workspace.AddTasks(ctx, id, tasks...); err != nil {
					return fmt.Errorf("failed to add tasks: %w", err)
				}
			}
			if printStructured(tasks) {
				return nil
			}
			printTasks(tasks)
			if add {
				fmt.Printf("\n%s Added %d tasks to the board\n", ui.RenderPass("✓"), len(tasks))
			} else {
				fmt.Printf("\n%s\n", ui.RenderMuted("Run again with --add to put them on the board"))
			}
			return nil
		})
	},
}

func init() {
	assistPlanCmd.Flags().Bool("add", false, "Add the suggested tasks to the board")

	assistCmd.AddCommand(assistAnalyzeCmd)
	assistCmd.AddCommand(assistPlanCmd)
	rootCmd.AddCommand(assistCmd)
}
