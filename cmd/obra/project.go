package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
	obrasync "github.com/mschirtzinger/obracontrol/internal/obra/sync"
	"github.com/mschirtzinger/obracontrol/internal/ui"
)

var projectCmd = &cobra.Command{
	Use:     "project",
	GroupID: "site",
	Short:   "Manage the projects under the active key",
	Long: `Manage the construction sites stored under the active project key.

Commands that work on one project use the active project unless --project
names another one. The key always holds at least one project: removing the
last one replaces it with an empty project.`,
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List projects",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, a *app) error {
			projects := a.workspace.Projects()
			active := a.workspace.ActiveProject()
			if printStructured(map[string]any{"active": active, "projects": projects}) {
				return nil
			}

			fmt.Printf("\n%s Projects under %s\n\n", ui.RenderAccent("🏗"), a.workspace.Key())
			for _, p := range projects {
				marker := " "
				if p.ID == active {
					marker = ui.RenderPass("*")
				}
				fmt.Printf("%s %-14d %-32s %s %s  %s\n",
					marker, p.ID, p.Name, ui.Progress(p.Progress, 10), ui.Project(p.Status), money(p.Budget))
			}
			fmt.Println()
			return nil
		})
	},
}

type projectView struct {
	ID      schema.ID       `json:"id"`
	Active  bool            `json:"active"`
	Project *schema.Project `json:"project"`
	Totals  schema.Totals   `json:"totals"`
}

var projectShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show project details and spending totals",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, a *app) error {
			id, p, err := a.project()
			if err != nil {
				return err
			}
			totals := schema.ComputeTotals(p)
			view := projectView{ID: id, Active: id == a.workspace.ActiveProject(), Project: p, Totals: totals}
			if printStructured(view) {
				return nil
			}

			fmt.Printf("\n%s %s\n\n", ui.RenderAccent("🏗"), ui.TitleStyle.Render(p.Name))
			fmt.Printf("ID:        %d\n", id)
			fmt.Printf("Status:    %s\n", ui.Project(p.Status))
			fmt.Printf("Progress:  %s\n", ui.Progress(p.Progress, 20))
			fmt.Printf("Budget:    %s\n", money(totals.Budget))
			fmt.Printf("Spent:     %s\n", money(totals.Spent))
			remaining := money(totals.Remaining)
			if totals.Remaining < 0 {
				remaining = ui.RenderFail(remaining)
			}
			fmt.Printf("Remaining: %s\n", remaining)
			fmt.Printf("  Labor paid:        %s\n", money(totals.LaborPaid))
			fmt.Printf("  Materials received: %s\n", money(totals.MaterialsSpent))
			fmt.Printf("  Stages paid:       %s\n", money(totals.StagesPaid))
			fmt.Printf("  Fees paid:         %s\n", money(totals.FeesPaid))
			if totals.PendingRequests > 0 {
				fmt.Printf("Pending weekly requests: %s\n", ui.RenderWarn(money(totals.PendingRequests)))
			}
			fmt.Printf("\nLogs: %d  Materials: %d  Stages: %d  Tasks: %d  Labor: %d  Fees: %d\n",
				len(p.Logs), len(p.Materials), len(p.Stages), len(p.Tasks), len(p.Labor), len(p.Fees))
			if p.GanttFile != "" {
				fmt.Println("Gantt chart attached")
			}
			fmt.Println()
			return nil
		})
	},
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project and make it active",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		budget, _ := cmd.Flags().GetFloat64("budget")
		withApp(func(ctx context.Context, a *app) error {
			id, err := a.workspace.CreateProject(ctx, args[0], budget)
			if err != nil {
				return fmt.Errorf("failed to create project: %w", err)
			}
			if printStructured(map[string]any{"id": id, "name": args[0]}) {
				return nil
			}
			fmt.Printf("%s Created project %d: %s\n", ui.RenderPass("✓"), id, args[0])
			return nil
		})
	},
}

var projectUseCmd = &cobra.Command{
	Use:   "use <id|name>",
	Short: "Select the active project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, a *app) error {
			id, err := a.findProject(args[0])
			if err != nil {
				return err
			}
			if err := a.workspace.SetActiveProject(ctx, id); err != nil {
				return err
			}
			p, _ := a.workspace.Project(id)
			fmt.Printf("%s Active project: %s (%d)\n", ui.RenderPass("✓"), p.Name, id)
			return nil
		})
	},
}

var projectUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Edit the project name, budget or progress",
	Run: func(cmd *cobra.Command, args []string) {
		var d obrasync.Details
		if cmd.Flags().Changed("name") {
			name, _ := cmd.Flags().GetString("name")
			d.Name = &name
		}
		if cmd.Flags().Changed("budget") {
			budget, _ := cmd.Flags().GetFloat64("budget")
			d.Budget = &budget
		}
		if cmd.Flags().Changed("progress") {
			progress, _ := cmd.Flags().GetInt("progress")
			d.Progress = &progress
		}
		if d.Name == nil && d.Budget == nil && d.Progress == nil {
			fmt.Fprintf(os.Stderr, "Error: nothing to update (use --name, --budget or --progress)\n")
			os.Exit(1)
		}

		withApp(func(ctx context.Context, a *app) error {
			id, _, err := a.project()
			if err != nil {
				return err
			}
			if err := a.workspace.UpdateDetails(ctx, id, d); err != nil {
				return fmt.Errorf("failed to update project: %w", err)
			}
			fmt.Printf("%s Updated project %d\n", ui.RenderPass("✓"), id)
			return nil
		})
	},
}

func projectStatusCmd(use, short string, status schema.ProjectStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Run: func(cmd *cobra.Command, args []string) {
			withApp(func(ctx context.Context, a *app) error {
				id, p, err := a.project()
				if err != nil {
					return err
				}
				if err := a.workspace.SetProjectStatus(ctx, id, status); err != nil {
					return err
				}
				fmt.Printf("%s %s: %s\n", ui.RenderPass("✓"), p.Name, ui.Project(status))
				return nil
			})
		},
	}
}

var projectRemoveCmd = &cobra.Command{
	Use:     "remove",
	Aliases: []string{"rm"},
	Short:   "Delete a project",
	Long: `Delete the active project, or the one named by --project.

Removing the last project replaces it with an empty one, so the key is
never left without projects.`,
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, a *app) error {
			id, p, err := a.project()
			if err != nil {
				return err
			}
			if !confirm(fmt.Sprintf("Delete %q?", p.Name), "Its logs, materials, stages, labor, fees and tasks are deleted on every device.") {
				return fmt.Errorf("not confirmed (use --yes to skip the prompt)")
			}
			active, err := a.workspace.RemoveProject(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to remove project: %w", err)
			}
			next, _ := a.workspace.Project(active)
			fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), p.Name)
			fmt.Printf("Active project: %s (%d)\n", next.Name, active)
			return nil
		})
	},
}

func init() {
	projectCreateCmd.Flags().Float64("budget", 0, "Total budget in pesos")

	projectUpdateCmd.Flags().String("name", "", "New project name")
	projectUpdateCmd.Flags().Float64("budget", 0, "New total budget")
	projectUpdateCmd.Flags().Int("progress", 0, "Overall progress, 0-100")

	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectUseCmd)
	projectCmd.AddCommand(projectUpdateCmd)
	projectCmd.AddCommand(projectStatusCmd("pause", "Mark the project as paused", schema.StatusPaused))
	projectCmd.AddCommand(projectStatusCmd("resume", "Mark the project as active", schema.StatusActive))
	projectCmd.AddCommand(projectRemoveCmd)
	rootCmd.AddCommand(projectCmd)
}
