package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	obrasync "github.com/mschirtzinger/obracontrol/internal/obra/sync"
	"github.com/mschirtzinger/obracontrol/internal/ui"
)

var keyCmd = &cobra.Command{
	Use:     "key",
	GroupID: "sync",
	Short:   "Show or switch the project key",
	Long: `The project key names the shared dataset. Every device that opens the same
key reads and writes the same projects.

Switching keys keeps the data of the previous key on this device; switching
back shows it again immediately, before the remote copy is read.`,
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, a *app) error {
			key := a.workspace.Key()
			if printStructured(map[string]string{"key": key}) {
				return nil
			}
			fmt.Println(key)
			return nil
		})
	},
}

var keySwitchCmd = &cobra.Command{
	Use:   "switch <key>",
	Short: "Open another project key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		switchKey(args[0])
	},
}

var keyNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new dataset under a generated key",
	Run: func(cmd *cobra.Command, args []string) {
		switchKey(obrasync.GenerateKey())
	},
}

func switchKey(requested string) {
	key, err := obrasync.NormalizeKey(requested)
	if err != nil {
		exitErr(err)
	}
	withApp(func(ctx context.Context, a *app) error {
		current := a.workspace.Key()
		if key == current {
			fmt.Printf("Already on %s\n", key)
			return nil
		}
		if !confirm(fmt.Sprintf("Switch from %s to %s?", current, key),
			"Projects under "+current+" stay on this device.") {
			return fmt.Errorf("not confirmed (use --yes to skip the prompt)")
		}
		if err := a.workspace.SwitchKey(ctx, key); err != nil {
			return fmt.Errorf("failed to switch key: %w", err)
		}
		fmt.Printf("%s Project key: %s\n", ui.RenderPass("✓"), key)
		fmt.Printf("Active project: %s\n", activeName(a))
		return nil
	})
}

func activeName(a *app) string {
	p, err := a.workspace.Project(a.workspace.ActiveProject())
	if err != nil {
		return "-"
	}
	return p.Name
}

func init() {
	keyCmd.AddCommand(keySwitchCmd)
	keyCmd.AddCommand(keyNewCmd)
	rootCmd.AddCommand(keyCmd)
}
