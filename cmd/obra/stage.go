package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
	"github.com/mschirtzinger/obracontrol/internal/obra/store"
	"github.com/mschirtzinger/obracontrol/internal/ui"
)

var stageCmd = &cobra.Command{
	Use:     "stage",
	GroupID: "records",
	Short:   "Payment stages",
	Long: `Payment stages track what each contracted stage costs, how much has been
paid and how far the work is. A stage whose payments run ahead of its
progress is flagged.`,
}

var stageSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create a stage, or update it with --id",
	Args:  cobra.ExactArgs(1),
	Example: `  obra stage set "Cimientos" --contractor "Hormigones SRL" --total 2500000
  obra stage set "Cimientos" --id 1 --paid 2000000 --progress 85`,
	Run: func(cmd *cobra.Command, args []string) {
		idArg, _ := cmd.Flags().GetString("id")
		contractor, _ := cmd.Flags().GetString("contractor")
		total, _ := cmd.Flags().GetFloat64("total")
		paid, _ := cmd.Flags().GetFloat64("paid")
		progress, _ := cmd.Flags().GetInt("progress")

		stage := schema.Stage{Name: args[0], Contractor: contractor, TotalCost: total, PaidAmount: paid, Progress: progress}
		if idArg != "" {
			ids, err := parseIDs(idArg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			stage.ID = ids[0]
		}

		withApp(func(ctx context.Context, a *app) error {
			id, p, err := a.project()
			if err != nil {
				return err
			}
			if stage.ID != 0 {
				// Unset flags keep the stored values.
				old, ok := schema.Find(p.Stages, stage.ID)
				if !ok {
					return fmt.Errorf("stage %d: %w", stage.ID, schema.ErrEntryNotFound)
				}
				if !cmd.Flags().Changed("contractor") {
					stage.Contractor = old.Contractor
				}
				if !cmd.Flags().Changed("total") {
					stage.TotalCost = old.TotalCost
				}
				if !cmd.Flags().Changed("paid") {
					stage.PaidAmount = old.PaidAmount
				}
				if !cmd.Flags().Changed("progress") {
					stage.Progress = old.Progress
				}
			}
			stageID, err := a.workspace.UpsertStage(ctx, id, stage)
			if err != nil {
				return fmt.Errorf("failed to save stage: %w", err)
			}
			fmt.Printf("%s Saved stage %s (%d)\n", ui.RenderPass("✓"), args[0], stageID)
			return nil
		})
	},
}

var stageListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List payment stages",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, a *app) error {
			_, p, err := a.project()
			if err != nil {
				return err
			}
			if printStructured(p.Stages) {
				return nil
			}
			if len(p.Stages) == 0 {
				fmt.Println(ui.RenderMuted("No stages"))
				return nil
			}
			for _, s := range p.Stages {
				paid := fmt.Sprintf("%s / %s (%.0f%%)", money(s.PaidAmount), money(s.TotalCost), s.PaidPercent())
				if s.PaymentAhead() {
					paid = ui.Warn(paid + " paid ahead of progress")
				}
				fmt.Printf("%s  %-28s %-20s %s  %s\n", ui.RenderMuted(s.ID.String()), s.Name, s.Contractor, ui.Progress(s.Progress, 10), paid)
			}
			return nil
		})
	},
}

var stageProgressCmd = &cobra.Command{
	Use:   "progress <id|name> <percent>",
	Short: "Set stage progress",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		pct := mustPercent(args[1])
		withEntry(store.SectionStages, args[0], func(ctx context.Context, a *app, id, stageID schema.ID) error {
			if err := a.workspace.SetStageProgress(ctx, id, stageID, pct); err != nil {
				return fmt.Errorf("failed to set stage progress: %w", err)
			}
			fmt.Printf("%s Stage %d at %s\n", ui.RenderPass("✓"), stageID, ui.Progress(pct, 10))
			return nil
		})
	},
}

var stageRemoveCmd = &cobra.Command{
	Use:     "remove <id|name>",
	Aliases: []string{"rm"},
	Short:   "Delete a stage",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		removeEntry(store.SectionStages, args[0], "stage")
	},
}

// mustPercent parses a 0-100 argument or exits.
func mustPercent(arg string) int {
	pct, err := strconv.Atoi(arg)
	if err != nil || pct < 0 || pct > 100 {
		fmt.Fprintf(os.Stderr, "Error: progress must be a number between 0 and 100, got %q\n", arg)
		os.Exit(1)
	}
	return pct
}

func init() {
	stageSetCmd.Flags().String("id", "", "Stage id to update")
	stageSetCmd.Flags().String("contractor", "", "Contractor in charge")
	stageSetCmd.Flags().Float64("total", 0, "Total cost")
	stageSetCmd.Flags().Float64("paid", 0, "Amount paid so far")
	stageSetCmd.Flags().Int("progress", 0, "Progress, 0-100")

	stageCmd.AddCommand(stageSetCmd)
	stageCmd.AddCommand(stageListCmd)
	stageCmd.AddCommand(stageProgressCmd)
	stageCmd.AddCommand(stageRemoveCmd)
	rootCmd.AddCommand(stageCmd)
}
