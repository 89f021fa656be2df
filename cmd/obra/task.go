package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/obracontrol/internal/dates"
	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
	"github.com/mschirtzinger/obracontrol/internal/obra/store"
	"github.com/mschirtzinger/obracontrol/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "records",
	Short:   "Task board",
	Long: `The task board holds labor, material, management and general tasks with
an assignee, a deadline and a completion flag.

Use "obra assist plan" to have a goal broken into suggested tasks.`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Add a task",
	Args:  cobra.ExactArgs(1),
	Example: `  obra task add "Pedir hierro del 8" --type material --deadline "next monday"
  obra task add "Revisar planos" --type manage --assignee "Arq. Pérez" --deadline 20/04`,
	Run: func(cmd *cobra.Command, args []string) {
		deadlineArg, _ := cmd.Flags().GetString("deadline")
		typeArg, _ := cmd.Flags().GetString("type")
		assignee, _ := cmd.Flags().GetString("assignee")

		taskType := schema.TaskType(typeArg)
		if !taskType.Valid() {
			fmt.Fprintf(os.Stderr, "Error: unknown task type %q (labor, material, manage or general)\n", typeArg)
			os.Exit(1)
		}
		deadline, err := dates.Deadline(deadlineArg, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: --deadline: %v\n", err)
			os.Exit(1)
		}
		task := schema.Task{Text: args[0], Deadline: deadline, Type: taskType, Assignee: assignee}

		withApp(func(ctx context.Context, a *app) error {
			id, _, err := a.project()
			if err != nil {
				return err
			}
			ids, err := a.workspace.AddTasks(ctx, id, task)
			if err != nil {
				return fmt.Errorf("failed to add task: %w", err)
			}
			fmt.Printf("%s Added task %d\n", ui.RenderPass("✓"), ids[0])
			return nil
		})
	},
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	Run: func(cmd *cobra.Command, args []string) {
		pendingOnly, _ := cmd.Flags().GetBool("pending")
		withApp(func(ctx context.Context, a *app) error {
			_, p, err := a.project()
			if err != nil {
				return err
			}
			tasks := p.Tasks
			if pendingOnly {
				tasks = nil
				for _, t := range p.Tasks {
					if !t.Completed {
						tasks = append(tasks, t)
					}
				}
			}
			if printStructured(tasks) {
				return nil
			}
			if len(tasks) == 0 {
				fmt.Println(ui.RenderMuted("No tasks"))
				return nil
			}
			printTasks(tasks)
			return nil
		})
	},
}

func printTasks(tasks []schema.Task) {
	for _, t := range tasks {
		deadline := t.Deadline
		if deadline == schema.SuggestedDeadline {
			deadline = ui.InfoStyle.Render(deadline)
		}
		fmt.Printf("%s %s  %-40s %-11s %-16s %s  %d%%\n",
			ui.Check(t.Completed), ui.RenderMuted(t.ID.String()), t.Text, t.Type.Label(), t.Assignee, deadline, t.Progress)
	}
}

var taskToggleCmd = &cobra.Command{
	Use:   "toggle <id|text>",
	Short: "Mark a task done, or not done again",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withEntry(store.SectionTasks, args[0], func(ctx context.Context, a *app, id, taskID schema.ID) error {
			if err := a.workspace.ToggleTask(ctx, id, taskID); err != nil {
				return fmt.Errorf("failed to toggle task: %w", err)
			}
			p, _ := a.workspace.Project(id)
			t, _ := schema.Find(p.Tasks, taskID)
			fmt.Printf("%s %s\n", ui.Check(t.Completed), t.Text)
			return nil
		})
	},
}

var taskProgressCmd = &cobra.Command{
	Use:   "progress <id|text> <percent>",
	Short: "Set task progress",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		pct := mustPercent(args[1])
		withEntry(store.SectionTasks, args[0], func(ctx context.Context, a *app, id, taskID schema.ID) error {
			if err := a.workspace.SetTaskProgress(ctx, id, taskID, pct); err != nil {
				return fmt.Errorf("failed to set task progress: %w", err)
			}
			fmt.Printf("%s Task %d at %s\n", ui.RenderPass("✓"), taskID, ui.Progress(pct, 10))
			return nil
		})
	},
}

var taskRemoveCmd = &cobra.Command{
	Use:     "remove <id|text>",
	Aliases: []string{"rm"},
	Short:   "Delete a task",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		removeEntry(store.SectionTasks, args[0], "task")
	},
}

func init() {
	taskAddCmd.Flags().String("deadline", "", "Due date (default: no deadline)")
	taskAddCmd.Flags().String("type", string(schema.TaskLabor), "Type: labor, material, manage or general")
	taskAddCmd.Flags().String("assignee", "", "Who does it (default: unassigned)")

	taskListCmd.Flags().Bool("pending", false, "Hide completed tasks")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskToggleCmd)
	taskCmd.AddCommand(taskProgressCmd)
	taskCmd.AddCommand(taskRemoveCmd)
	rootCmd.AddCommand(taskCmd)
}
