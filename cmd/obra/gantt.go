package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/obracontrol/internal/obra/gantt"
	"github.com/mschirtzinger/obracontrol/internal/ui"
)

var ganttCmd = &cobra.Command{
	Use:     "gantt",
	GroupID: "records",
	Short:   "Gantt chart attachment",
	Long: `Attach the project's Gantt chart as a PDF (1 MB at most). The file is
stored inside the project and syncs with it.`,
}

var ganttAttachCmd = &cobra.Command{
	Use:   "attach <file.pdf>",
	Short: "Attach or replace the Gantt PDF",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dataURL, info, err := gantt.EncodeFile(args[0])
		if err != nil {
			exitErr(err)
		}
		withApp(func(ctx context.Context, a *app) error {
			id, p, err := a.project()
			if err != nil {
				return err
			}
			if err := a.workspace.SetGantt(ctx, id, dataURL); err != nil {
				return fmt.Errorf("failed to attach gantt: %w", err)
			}
			fmt.Printf("%s Attached %s to %s (%d pages, %d KB)\n",
				ui.RenderPass("✓"), args[0], p.Name, info.Pages, (info.Size+1023)/1024)
			return nil
		})
	},
}

var ganttShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Describe the attached Gantt PDF",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, a *app) error {
			_, p, err := a.project()
			if err != nil {
				return err
			}
			data, err := gantt.Decode(p.GanttFile)
			if err != nil {
				return err
			}
			info, err := gantt.Validate(data)
			if err != nil {
				return err
			}
			if printStructured(info) {
				return nil
			}
			fmt.Printf("Gantt chart: %d pages, %d KB\n", info.Pages, (info.Size+1023)/1024)
			return nil
		})
	},
}

var ganttExtractCmd = &cobra.Command{
	Use:   "extract <out.pdf>",
	Short: "Write the attached Gantt PDF to a file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, a *app) error {
			_, p, err := a.project()
			if err != nil {
				return err
			}
			data, err := gantt.Decode(p.GanttFile)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[0], data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", args[0], err)
			}
			fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

var ganttClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the Gantt attachment",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, a *app) error {
			id, _, err := a.project()
			if err != nil {
				return err
			}
			if err := a.workspace.SetGantt(ctx, id, ""); err != nil {
				return fmt.Errorf("failed to clear gantt: %w", err)
			}
			fmt.Printf("%s Gantt chart removed\n", ui.RenderPass("✓"))
			return nil
		})
	},
}

func init() {
	ganttCmd.AddCommand(ganttAttachCmd)
	ganttCmd.AddCommand(ganttShowCmd)
	ganttCmd.AddCommand(ganttExtractCmd)
	ganttCmd.AddCommand(ganttClearCmd)
	rootCmd.AddCommand(ganttCmd)
}
