package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/obracontrol/internal/obra/codec"
	"github.com/mschirtzinger/obracontrol/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "sync",
	Short:   "Write every project under the key to a JSON file",
	Long: `Write every project under the active key to a JSON backup.

The file name defaults to obracontrol-<key>-<timestamp>.json in the current
directory. Use --out - to write to stdout.`,
	Run: func(cmd *cobra.Command, args []string) {
		out, _ := cmd.Flags().GetString("out")
		withApp(func(ctx context.Context, a *app) error {
			data, err := a.workspace.Export()
			if err != nil {
				return fmt.Errorf("failed to export: %w", err)
			}
			if out == "-" {
				_, err := os.Stdout.Write(data)
				return err
			}
			if out == "" {
				out = codec.FileName(a.workspace.Key(), time.Now())
			}
			if err := os.WriteFile(out, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Printf("%s Exported %d projects to %s\n", ui.RenderPass("✓"), len(a.workspace.Projects()), out)
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "sync",
	Short:   "Replace every project under the key with an export file",
	Long: `Replace the whole dataset of the active key with the projects in an
export file, then sync it. Use - to read stdin.

A file that cannot be parsed leaves the current data untouched.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var (
			data []byte
			err  error
		)
		if args[0] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			exitErr(fmt.Errorf("failed to read %s: %w", args[0], err))
		}
		if _, err := codec.Import(data); err != nil {
			exitErr(err)
		}

		withApp(func(ctx context.Context, a *app) error {
			if !confirm("Replace all projects under "+a.workspace.Key()+"?",
				"Every device on this key will see the imported data.") {
				return fmt.Errorf("not confirmed (use --yes to skip the prompt)")
			}
			if err := a.workspace.Import(ctx, data); err != nil {
				return fmt.Errorf("failed to import: %w", err)
			}
			fmt.Printf("%s Imported %d projects into %s\n", ui.RenderPass("✓"), len(a.workspace.Projects()), a.workspace.Key())
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().String("out", "", "Output file, or - for stdout")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
